package main

import (
	"flag"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("RECORDSTREAM_CONFIG", ""),
		"Path to configuration file (env: RECORDSTREAM_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("RECORDSTREAM_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: RECORDSTREAM_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("RECORDSTREAM_LOG_FORMAT", "json"),
		"Log format: json, text (env: RECORDSTREAM_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		30*time.Second,
		"Graceful shutdown timeout")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Parse()
	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
