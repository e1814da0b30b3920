// Package main runs the fleetd server.
//
// fleetd serves the chat, thread, alert and trigger endpoints over HTTP,
// runs conversations through the maintenance pipeline and, when
// monitor.interval is set, sweeps the fleet for overheating vehicles.
//
// Usage:
//
//	fleetd [--config ~/.config/fleetd/config.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fleetd/internal/app"
	"github.com/fyrsmithlabs/fleetd/internal/config"
	httpserver "github.com/fyrsmithlabs/fleetd/internal/http"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fleetd %s\n", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	deps, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := deps.Close(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()
	logger := deps.Logger

	if err := deps.WatchConfig(ctx, configPath); err != nil {
		logger.Warn(ctx, "config watch disabled, security rules change on restart only", zap.Error(err))
	}

	srv, err := httpserver.NewServer(httpserver.Services{
		Engine:  deps.Executor,
		Threads: deps.Store,
		Alerts:  deps.Alerts,
		Sweeper: deps.Sweeper,
	}, logger, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	go deps.Sweeper.RunTicker(ctx, cfg.Monitor.Interval.Duration())

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	logger.Info(ctx, "fleetd started",
		zap.String("version", version),
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.Duration("sweep_interval", cfg.Monitor.Interval.Duration()))

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	select {
	case <-serverErrors:
	case <-time.After(time.Second):
	}
	logger.Info(context.Background(), "fleetd stopped gracefully")
	return nil
}
