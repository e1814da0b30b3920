// Package app wires configuration into a running fleetd: logging,
// telemetry, the transcript store, the security gate and audit sinks, the
// fleet tools, the LLM workers, the executor and proactive monitoring.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fleetd/internal/audit"
	"github.com/fyrsmithlabs/fleetd/internal/config"
	"github.com/fyrsmithlabs/fleetd/internal/fleet"
	"github.com/fyrsmithlabs/fleetd/internal/logging"
	"github.com/fyrsmithlabs/fleetd/internal/monitor"
	"github.com/fyrsmithlabs/fleetd/internal/orchestrator"
	"github.com/fyrsmithlabs/fleetd/internal/telemetry"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
	"github.com/fyrsmithlabs/fleetd/internal/worker"
)

// Options override dependencies that New would otherwise build from the
// configuration.
type Options struct {
	// Model replaces the OpenAI-compatible client.
	Model llms.Model
	// NATS replaces the connection dialed from nats.url. The caller keeps
	// ownership.
	NATS *nats.Conn
	// Logger replaces the configured logger.
	Logger *logging.Logger
}

// App holds the wired dependencies.
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
	NATS      *nats.Conn
	Store     transcript.Store
	Gate      *orchestrator.SecurityGate
	Fleet     *fleet.DB
	Tools     *fleet.Registry
	Executor  *orchestrator.Executor
	Alerts    *monitor.AlertBoard
	Sweeper   *monitor.Sweeper

	ownsNATS bool
	alertSub *nats.Subscription
}

// New builds an App from cfg. On error every resource acquired so far is
// released.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.Telemetry, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.Logger = opts.Logger
	if a.Logger == nil {
		logCfg, err := logging.FromSettings(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to configure logger: %w", err)
		}
		a.Logger, err = logging.NewLogger(logCfg, a.Telemetry.LoggerProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	if h := a.Telemetry.Health(); h.Degraded {
		a.Logger.Warn(ctx, "telemetry degraded", zap.String("reason", h.Reason))
	}

	a.NATS = opts.NATS
	if a.NATS == nil && cfg.NATS.Enabled() {
		a.NATS, err = ConnectNATS(cfg.NATS)
		if err != nil {
			return nil, err
		}
		a.ownsNATS = true
		a.Logger.Info(ctx, "connected to NATS", zap.String("url", a.NATS.ConnectedUrlRedacted()))
	}

	a.Store, err = newStore(cfg.Store, a.NATS)
	if err != nil {
		return nil, err
	}

	a.Gate, err = orchestrator.NewSecurityGate(cfg.Security.Denylist, cfg.Security.Patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to build security gate: %w", err)
	}
	sinks := audit.MultiSink{audit.NewLogSink(a.Logger)}
	if a.NATS != nil {
		ns, err := audit.NewNATSSink(a.NATS, cfg.NATS.AuditSubject)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ns)
	}

	a.Fleet = fleet.NewSeededDB()
	a.Tools = fleet.NewRegistry(a.Fleet)

	model := opts.Model
	if model == nil {
		model, err = worker.NewOpenAIModel(cfg.LLM)
		if err != nil {
			return nil, err
		}
	}
	adapter, err := worker.New(worker.ConfigFromSettings(cfg.LLM, model, a.Logger), a.Tools)
	if err != nil {
		return nil, err
	}
	workers := make(map[orchestrator.Node]orchestrator.Worker, len(orchestrator.WorkerNodes()))
	for _, node := range orchestrator.WorkerNodes() {
		workers[node] = adapter
	}

	a.Executor = orchestrator.NewExecutor(a.Store, workers, orchestrator.ExecutorOptions{
		Gates:         []orchestrator.InputGate{a.Gate},
		Audit:         sinks,
		MaxSteps:      cfg.Engine.MaxSteps,
		RunTimeout:    cfg.Engine.RunTimeout.Duration(),
		WorkerTimeout: cfg.Engine.WorkerTimeout.Duration(),
		Logger:        a.Logger,
		Tracer:        a.Telemetry.Tracer("fleetd/orchestrator"),
	})

	a.Alerts = monitor.NewAlertBoard(0)
	var alertSinks []monitor.AlertSink
	if a.NATS != nil {
		pub, err := monitor.NewNATSAlertPublisher(a.NATS, cfg.NATS.AlertSubject)
		if err != nil {
			return nil, err
		}
		alertSinks = append(alertSinks, pub)
		a.alertSub, err = monitor.SubscribeAlerts(a.NATS, cfg.NATS.AlertSubject, a.Alerts, a.Logger)
		if err != nil {
			return nil, err
		}
	} else {
		alertSinks = append(alertSinks, a.Alerts)
	}

	a.Sweeper, err = monitor.NewSweeper(a.Fleet, a.Executor, monitor.SweeperOptions{
		Vehicles:      cfg.Monitor.Vehicles,
		TempThreshold: cfg.Monitor.TempThreshold,
		Sinks:         alertSinks,
		Logger:        a.Logger,
	})
	if err != nil {
		return nil, err
	}

	a.Logger.Info(ctx, "fleetd dependencies initialized",
		zap.String("store", cfg.Store.Backend),
		zap.Bool("nats", a.NATS != nil),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Int("max_steps", cfg.Engine.MaxSteps),
		zap.Strings("monitored_vehicles", cfg.Monitor.Vehicles))
	return a, nil
}

// WatchConfig reloads the security rules whenever the config file changes,
// until ctx is done. Other settings take effect on restart.
func (a *App) WatchConfig(ctx context.Context, configPath string) error {
	w, err := config.NewWatcher(configPath, func(cfg *config.Config) {
		if err := a.Gate.Reload(cfg.Security.Denylist, cfg.Security.Patterns); err != nil {
			a.Logger.Warn(ctx, "security rules not reloaded", zap.Error(err))
			return
		}
		a.Logger.Info(ctx, "security rules reloaded",
			zap.Int("denylist", len(cfg.Security.Denylist)),
			zap.Int("patterns", len(cfg.Security.Patterns)))
	}, func(err error) {
		a.Logger.Warn(ctx, "config reload failed", zap.Error(err))
	})
	if err != nil {
		return err
	}
	a.Logger.Info(ctx, "watching config for security rule changes", zap.String("path", w.Path()))
	go w.Run(ctx)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.alertSub != nil {
		if err := a.alertSub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("unsubscribe alerts: %w", err))
		}
	}
	if a.NATS != nil && a.ownsNATS {
		if err := a.NATS.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync() // Best-effort sync
	}
	return errors.Join(errs...)
}

// ConnectNATS dials the configured server.
func ConnectNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("fleetd"),
		nats.Timeout(cfg.ConnectTimeout.Duration()),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

func newStore(cfg config.StoreConfig, nc *nats.Conn) (transcript.Store, error) {
	switch cfg.Backend {
	case "nats":
		if nc == nil {
			return nil, errors.New("store.backend=nats requires a NATS connection")
		}
		store, err := transcript.NewNATSStore(nc, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to open transcript bucket: %w", err)
		}
		return store, nil
	default:
		return transcript.NewMemoryStore(), nil
	}
}
