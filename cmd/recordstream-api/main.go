// Package main runs the record API server: the HTTP gateway, the
// dispatcher, and the NATS-backed job queue, ledger, and result store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/c360/recordstream/batch"
	"github.com/c360/recordstream/broker"
	"github.com/c360/recordstream/config"
	"github.com/c360/recordstream/dispatch"
	httpgw "github.com/c360/recordstream/gateway/http"
	"github.com/c360/recordstream/ledger"
	"github.com/c360/recordstream/metric"
	"github.com/c360/recordstream/natsclient"
	"github.com/c360/recordstream/results"
	"github.com/c360/recordstream/store"
	"github.com/c360/recordstream/worker"

	"github.com/nats-io/nats.go/jetstream"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "recordstream-api"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cliCfg.Validate {
		logger.Info("configuration is valid")
		return nil
	}

	logger.Info("starting", "nats_url", cfg.NATS.URL, "http_addr", cfg.HTTP.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithClientName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithConnectTimeout(cfg.NATS.ConnectTimeout.Std()),
		natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout.Std()),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
	)
	if err != nil {
		return fmt.Errorf("create nats client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer client.Close(context.Background())

	queue, err := broker.NewNATSQueue(ctx, client, cfg.Queue.ToBroker(), logger)
	if err != nil {
		return fmt.Errorf("create job queue: %w", err)
	}

	jobs, err := ledger.NewKVLedger(ctx, client, jetstream.KeyValueConfig{
		Bucket: cfg.Ledger.Bucket,
		TTL:    cfg.Ledger.TTL.Std(),
	})
	if err != nil {
		return fmt.Errorf("create job ledger: %w", err)
	}

	res, err := results.NewKVStore(ctx, client, jetstream.KeyValueConfig{
		Bucket: cfg.Results.Bucket,
		TTL:    cfg.Results.TTL.Std(),
	})
	if err != nil {
		return fmt.Errorf("create result store: %w", err)
	}

	registry := metric.NewMetricsRegistry()
	poolMetrics, err := metric.NewPoolMetrics(registry, "recordstream_batch")
	if err != nil {
		return fmt.Errorf("register pool metrics: %w", err)
	}
	records := store.New()

	dispatcher := dispatch.New(records, queue, jobs, res,
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(registry.Pipeline),
	)

	// The record store lives in this process, so the job consumer runs
	// here too. The queue still buys durability: accepted jobs survive a
	// restart and are redelivered.
	consumer := worker.New(records, queue, jobs, res,
		worker.WithLogger(logger),
		worker.WithMetrics(registry.Pipeline),
		worker.WithBatchOptions(batch.Options{
			Workers:     cfg.Worker.BatchWorkers,
			StopTimeout: cfg.Worker.StopTimeout.Std(),
			Metrics:     poolMetrics,
		}),
	)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start job consumer: %w", err)
	}
	defer queue.Close()

	server := httpgw.NewServer(httpgw.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Std(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Std(),
	}, dispatcher,
		httpgw.WithLogger(logger),
		httpgw.WithMetricsRegistry(registry),
		httpgw.WithHealthCheck(func() error {
			if !client.IsHealthy() {
				return fmt.Errorf("nats %s", client.Status())
			}
			return nil
		}),
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cliCfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	return nil
}
