// Package config loads the shared configuration for the API and worker
// binaries: defaults, then an optional JSON file, then environment
// overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c360/recordstream/broker"
	"github.com/c360/recordstream/errors"
)

// Duration unmarshals from either a JSON number (nanoseconds) or a
// duration string like "30s".
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library representation
func (d Duration) Std() time.Duration { return time.Duration(d) }

// NATSConfig describes the broker connection
type NATSConfig struct {
	URL            string   `json:"url"`
	ClientName     string   `json:"client_name"`
	ConnectTimeout Duration `json:"connect_timeout"`
	DrainTimeout   Duration `json:"drain_timeout"`
	MaxReconnects  int      `json:"max_reconnects"`
}

// QueueConfig describes the job queue layout
type QueueConfig struct {
	StreamName    string   `json:"stream_name"`
	SubjectPrefix string   `json:"subject_prefix"`
	Durable       string   `json:"durable"`
	AckWait       Duration `json:"ack_wait"`
	EnqueueWait   Duration `json:"enqueue_wait"`
}

// ToBroker converts to the broker package's configuration
func (q QueueConfig) ToBroker() broker.QueueConfig {
	cfg := broker.DefaultQueueConfig()
	cfg.StreamName = q.StreamName
	cfg.SubjectPrefix = q.SubjectPrefix
	cfg.Durable = q.Durable
	if q.AckWait > 0 {
		cfg.AckWait = q.AckWait.Std()
	}
	if q.EnqueueWait > 0 {
		cfg.EnqueueWait = q.EnqueueWait.Std()
	}
	return cfg
}

// BucketConfig describes one KV bucket
type BucketConfig struct {
	Bucket string   `json:"bucket"`
	TTL    Duration `json:"ttl"`
}

// HTTPConfig describes the API listener
type HTTPConfig struct {
	Addr            string   `json:"addr"`
	ReadTimeout     Duration `json:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

// WorkerConfig bounds the worker's bulk-job parallelism
type WorkerConfig struct {
	BatchWorkers int      `json:"batch_workers"`
	StopTimeout  Duration `json:"stop_timeout"`
}

// Config is the full configuration shared by both binaries
type Config struct {
	NATS    NATSConfig   `json:"nats"`
	Queue   QueueConfig  `json:"queue"`
	Ledger  BucketConfig `json:"ledger"`
	Results BucketConfig `json:"results"`
	HTTP    HTTPConfig   `json:"http"`
	Worker  WorkerConfig `json:"worker"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			ClientName:     "recordstream",
			ConnectTimeout: Duration(5 * time.Second),
			DrainTimeout:   Duration(30 * time.Second),
			MaxReconnects:  -1,
		},
		Queue: QueueConfig{
			StreamName:    "RECORD_JOBS",
			SubjectPrefix: "jobs",
			Durable:       "record-workers",
			AckWait:       Duration(30 * time.Second),
			EnqueueWait:   Duration(5 * time.Second),
		},
		Ledger:  BucketConfig{Bucket: "record-jobs", TTL: Duration(24 * time.Hour)},
		Results: BucketConfig{Bucket: "record-results", TTL: Duration(24 * time.Hour)},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Worker: WorkerConfig{
			BatchWorkers: 0, // GOMAXPROCS
			StopTimeout:  Duration(10 * time.Minute),
		},
	}
}

// Load builds the configuration: defaults, the JSON file at path if
// path is non-empty, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "config", "Load", path)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse "+path)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays RECORDSTREAM_* environment variables
func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("RECORDSTREAM_NATS_URL", &cfg.NATS.URL)
	setString("RECORDSTREAM_HTTP_ADDR", &cfg.HTTP.Addr)
	setString("RECORDSTREAM_STREAM_NAME", &cfg.Queue.StreamName)
	setString("RECORDSTREAM_SUBJECT_PREFIX", &cfg.Queue.SubjectPrefix)
	setString("RECORDSTREAM_DURABLE", &cfg.Queue.Durable)
	setString("RECORDSTREAM_LEDGER_BUCKET", &cfg.Ledger.Bucket)
	setString("RECORDSTREAM_RESULTS_BUCKET", &cfg.Results.Bucket)

	if v := os.Getenv("RECORDSTREAM_BATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.BatchWorkers = n
		}
	}
}

// Validate rejects configurations that cannot start
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats.url")
	}
	if err := c.Queue.ToBroker().Validate(); err != nil {
		return err
	}
	if c.Ledger.Bucket == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "ledger.bucket")
	}
	if c.Results.Bucket == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "results.bucket")
	}
	if c.Ledger.Bucket == c.Results.Bucket {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "ledger and results buckets must differ")
	}
	if c.HTTP.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "http.addr")
	}
	if c.Worker.BatchWorkers < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "worker.batch_workers cannot be negative")
	}
	return nil
}
