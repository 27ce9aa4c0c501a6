// Package main runs a headless job consumer: no HTTP gateway, just the
// worker loop over its own record store. Meant for pipeline-style
// deployments where every mutation arrives through the queue
// (import/transform/export flows); interactive CRUD traffic belongs to
// recordstream-api, whose store the gateway shares.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/c360/recordstream/batch"
	"github.com/c360/recordstream/broker"
	"github.com/c360/recordstream/config"
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
	appName = "recordstream-worker"
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

	logger.Info("starting", "nats_url", cfg.NATS.URL)

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
	defer queue.Close()

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

	consumer := worker.New(store.New(), queue, jobs, res,
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

	// Metrics endpoint only; no API surface
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !client.IsHealthy() {
			http.Error(w, fmt.Sprintf("nats %s", client.Status()), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() { serveErr <- metricsServer.ListenAndServe() }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cliCfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}
	return nil
}
