// Package http provides the fleetd HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fleetd/internal/logging"
	"github.com/fyrsmithlabs/fleetd/internal/monitor"
	"github.com/fyrsmithlabs/fleetd/internal/orchestrator"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

// DefaultVehicle is the vehicle a chat refers to when the request names none.
const DefaultVehicle = "Vehicle-123"

// Engine runs conversation turns. *orchestrator.Executor implements it.
type Engine interface {
	SubmitTurn(ctx context.Context, threadID, text string) (*orchestrator.RunResult, error)
}

// ThreadReader loads threads. Every transcript.Store implements it.
type ThreadReader interface {
	Load(ctx context.Context, threadID string) (*transcript.Thread, error)
}

// AlertLister lists recent alerts. *monitor.AlertBoard implements it.
type AlertLister interface {
	List() []monitor.Alert
}

// Sweeper runs proactive checks. *monitor.Sweeper implements it.
type Sweeper interface {
	Vehicles() []string
	CheckVehicle(ctx context.Context, vehicleID string) (*monitor.Alert, error)
	Sweep(ctx context.Context) ([]monitor.Alert, error)
}

// Services are the backends the API serves.
type Services struct {
	Engine  Engine
	Threads ThreadReader
	Alerts  AlertLister
	Sweeper Sweeper
}

// Server provides HTTP endpoints for fleetd.
type Server struct {
	echo     *echo.Echo
	services Services
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(services Services, logger *logging.Logger, cfg *Config) (*Server, error) {
	if services.Engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if services.Threads == nil {
		return nil, fmt.Errorf("thread reader cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8000,
		}
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		services: services,
		logger:   logger,
		config:   cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/chat", s.handleChat)
	v1.GET("/threads/:id", s.handleThread)
	v1.GET("/alerts", s.handleAlerts)
	v1.POST("/trigger_check", s.handleTriggerCheck)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// handleHealth reports liveness and the monitored fleet.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.services.Sweeper != nil {
		resp.MonitoredVehicles = s.services.Sweeper.Vehicles()
	}
	return c.JSON(http.StatusOK, resp)
}

// handleChat runs one human turn through the engine.
func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return newAPIError(http.StatusBadRequest, orchestrator.KindInvalidInput, "invalid request body")
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return newAPIError(http.StatusBadRequest, orchestrator.KindInvalidInput, "message field is required")
	}
	if req.VehicleID == "" {
		req.VehicleID = DefaultVehicle
	}
	if req.ThreadID == "" {
		req.ThreadID = "chat_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	ctx := c.Request().Context()
	text := fmt.Sprintf("Regarding %s: %s", req.VehicleID, req.Message)
	res, err := s.services.Engine.SubmitTurn(ctx, req.ThreadID, text)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ChatResponse{
		Response:  res.Response,
		VehicleID: req.VehicleID,
		ThreadID:  res.ThreadID,
		Blocked:   res.Blocked,
		Steps:     res.Steps,
		Visited:   res.Visited,
	})
}

// handleThread returns a stored thread.
func (s *Server) handleThread(c echo.Context) error {
	th, err := s.services.Threads.Load(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, th)
}

// handleAlerts lists recent proactive alerts, oldest first.
func (s *Server) handleAlerts(c echo.Context) error {
	alerts := []monitor.Alert{}
	if s.services.Alerts != nil {
		alerts = append(alerts, s.services.Alerts.List()...)
	}
	return c.JSON(http.StatusOK, alerts)
}

// handleTriggerCheck runs a proactive check now, for one vehicle when the
// body names it and for the whole fleet otherwise.
func (s *Server) handleTriggerCheck(c echo.Context) error {
	if s.services.Sweeper == nil {
		return newAPIError(http.StatusServiceUnavailable, orchestrator.KindInternal, "proactive monitoring is disabled")
	}

	var req TriggerRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return newAPIError(http.StatusBadRequest, orchestrator.KindInvalidInput, "invalid request body")
		}
	}

	ctx := c.Request().Context()
	resp := TriggerResponse{Status: "Check triggered", Alerts: []monitor.Alert{}}
	if req.VehicleID != "" {
		alert, err := s.services.Sweeper.CheckVehicle(ctx, req.VehicleID)
		if err != nil {
			return err
		}
		resp.Checked = 1
		if alert != nil {
			resp.Alerts = append(resp.Alerts, *alert)
		}
		return c.JSON(http.StatusOK, resp)
	}

	alerts, err := s.services.Sweeper.Sweep(ctx)
	resp.Checked = len(s.services.Sweeper.Vehicles())
	resp.Alerts = append(resp.Alerts, alerts...)
	if err != nil {
		s.logger.Warn(ctx, "sweep completed with errors", zap.Error(err))
		for _, e := range unwrapJoined(err) {
			resp.Errors = append(resp.Errors, e.Error())
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// unwrapJoined flattens an errors.Join result.
func unwrapJoined(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
