// Package main provides a Temporal worker for the proactive fleet sweep.
//
// The worker hosts FleetSweepWorkflow and its CheckVehicle activity and
// starts the recurring sweep on the configured cron schedule. Each check is
// delegated to a fleetd server over HTTP, so alert threads live in the
// same store the chat API serves.
//
// Usage:
//
//	FLEETD_TEMPORAL_HOST_PORT=localhost:7233 \
//	./fleet-monitor --server http://localhost:8000
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	fleetclient "github.com/fyrsmithlabs/fleetd/internal/client"
	"github.com/fyrsmithlabs/fleetd/internal/config"
	"github.com/fyrsmithlabs/fleetd/internal/logging"
	"github.com/fyrsmithlabs/fleetd/internal/monitor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	serverURL := flag.String("server", "http://localhost:8000", "fleetd server URL")
	noSchedule := flag.Bool("no-schedule", false, "run the worker without starting the cron workflow")
	flag.Parse()

	// Create root context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logging
	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "fleet monitor worker starting",
		zap.String("temporal_host", cfg.Temporal.HostPort),
		zap.String("fleetd", *serverURL))

	fleet, err := fleetclient.New(*serverURL, 0)
	if err != nil {
		return err
	}

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	logger.Info(ctx, "temporal client connected", zap.String("host", cfg.Temporal.HostPort))

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	monitor.Register(w, &monitor.Activities{Checker: fleet})

	logger.Info(ctx, "worker configured", zap.String("task_queue", cfg.Temporal.TaskQueue))

	if !*noSchedule {
		we, err := monitor.StartCronSweep(ctx, c, cfg.Temporal, cfg.Monitor.Vehicles)
		if err != nil {
			return err
		}
		logger.Info(ctx, "sweep scheduled",
			zap.String("workflow_id", we.GetID()),
			zap.String("run_id", we.GetRunID()),
			zap.String("schedule", cfg.Temporal.Schedule),
			zap.Strings("vehicles", cfg.Monitor.Vehicles))
	}

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info(ctx, "worker starting")
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	// Wait for shutdown signal or worker error
	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	logger.Info(context.Background(), "worker stopped gracefully")
	return nil
}
