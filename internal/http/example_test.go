package http_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/fleetd/internal/http"
	"github.com/fyrsmithlabs/fleetd/internal/logging"
	"github.com/fyrsmithlabs/fleetd/internal/orchestrator"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

// ExampleServer demonstrates how to create and start the HTTP server.
func ExampleServer() {
	store := transcript.NewMemoryStore()
	gate, err := orchestrator.NewSecurityGate(nil, nil)
	if err != nil {
		panic(err)
	}
	exec := orchestrator.NewExecutor(store, nil, orchestrator.ExecutorOptions{
		Gates: []orchestrator.InputGate{gate},
	})

	logger := logging.NewNop()

	// Configure the server
	cfg := &httpserver.Config{
		Host: "localhost",
		Port: 18000,
	}

	server, err := httpserver.NewServer(httpserver.Services{Engine: exec, Threads: store}, logger, cfg)
	if err != nil {
		panic(err)
	}

	// Start server in background
	go func() {
		if err := server.Start(); err != nil {
			logger.Debug(context.Background(), "server stopped", zap.Error(err))
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error(ctx, "shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
