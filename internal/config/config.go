// Package config provides configuration loading for fleetd.
//
// Values come from a YAML file, are overridden by FLEETD_* environment
// variables, and fall back to the defaults in applyDefaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Config holds the complete fleetd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Engine    EngineConfig    `koanf:"engine"`
	Security  SecurityConfig  `koanf:"security"`
	Store     StoreConfig     `koanf:"store"`
	NATS      NATSConfig      `koanf:"nats"`
	LLM       LLMConfig       `koanf:"llm"`
	Monitor   MonitorConfig   `koanf:"monitor"`
	Temporal  TemporalConfig  `koanf:"temporal"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// EngineConfig bounds a single executor invocation.
type EngineConfig struct {
	MaxSteps      int      `koanf:"max_steps"`
	RunTimeout    Duration `koanf:"run_timeout"`
	WorkerTimeout Duration `koanf:"worker_timeout"`
}

// SecurityConfig configures the input gate.
type SecurityConfig struct {
	Denylist []string `koanf:"denylist"`
	Patterns []string `koanf:"patterns"`
}

// StoreConfig selects the transcript backend.
type StoreConfig struct {
	// Backend is "memory" or "nats".
	Backend string `koanf:"backend"`
	Bucket  string `koanf:"bucket"`
}

// NATSConfig configures the NATS connection shared by the transcript store,
// the audit sink and alert fan-out.
type NATSConfig struct {
	URL            string   `koanf:"url"`
	Token          Secret   `koanf:"token"`
	AuditSubject   string   `koanf:"audit_subject"`
	AlertSubject   string   `koanf:"alert_subject"`
	ConnectTimeout Duration `koanf:"connect_timeout"`
}

// Enabled reports whether a NATS server is configured.
func (c NATSConfig) Enabled() bool {
	return c.URL != ""
}

// LLMConfig configures the OpenAI-compatible model endpoint used by workers.
type LLMConfig struct {
	BaseURL           string   `koanf:"base_url"`
	Model             string   `koanf:"model"`
	APIKey            Secret   `koanf:"api_key"`
	Temperature       float64  `koanf:"temperature"`
	MaxToolRounds     int      `koanf:"max_tool_rounds"`
	ToolTimeout       Duration `koanf:"tool_timeout"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
}

// MonitorConfig configures proactive telemetry sweeps.
type MonitorConfig struct {
	Vehicles      []string `koanf:"vehicles"`
	TempThreshold float64  `koanf:"temp_threshold"`
	// Interval of the in-process sweep ticker. Zero disables it.
	Interval Duration `koanf:"interval"`
}

// TemporalConfig configures the sweep workflow worker.
type TemporalConfig struct {
	HostPort   string `koanf:"host_port"`
	Namespace  string `koanf:"namespace"`
	TaskQueue  string `koanf:"task_queue"`
	WorkflowID string `koanf:"workflow_id"`
	Schedule   string `koanf:"schedule"`
}

// LoggingConfig holds the logging knobs exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

var validNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Engine.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_steps must be positive, got %d", c.Engine.MaxSteps))
	}
	if c.Engine.WorkerTimeout.Duration() > c.Engine.RunTimeout.Duration() {
		errs = append(errs, errors.New("engine.worker_timeout cannot exceed engine.run_timeout"))
	}
	for _, p := range c.Security.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("invalid security pattern %q: %w", p, err))
		}
	}

	switch c.Store.Backend {
	case "memory":
	case "nats":
		if !c.NATS.Enabled() {
			errs = append(errs, errors.New("store.backend=nats requires nats.url"))
		}
		if !validNamePattern.MatchString(c.Store.Bucket) {
			errs = append(errs, fmt.Errorf("store.bucket %q must be alphanumeric, hyphen, underscore", c.Store.Bucket))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be 'memory' or 'nats', got %q", c.Store.Backend))
	}

	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("llm.base_url %q is not an absolute URL", c.LLM.BaseURL))
		}
	}
	if c.LLM.MaxToolRounds <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tool_rounds must be positive, got %d", c.LLM.MaxToolRounds))
	}
	if c.LLM.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("llm.requests_per_second cannot be negative"))
	}

	if c.Monitor.TempThreshold <= 0 {
		errs = append(errs, errors.New("monitor.temp_threshold must be positive"))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate))
	}

	return errors.Join(errs...)
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Engine.MaxSteps == 0 {
		cfg.Engine.MaxSteps = 20
	}
	if cfg.Engine.RunTimeout == 0 {
		cfg.Engine.RunTimeout = Duration(5 * time.Minute)
	}
	if cfg.Engine.WorkerTimeout == 0 {
		cfg.Engine.WorkerTimeout = Duration(90 * time.Second)
	}

	if len(cfg.Security.Denylist) == 0 {
		cfg.Security.Denylist = []string{"drop table", "drop database", "truncate table", "delete from", "rm -rf"}
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Bucket == "" {
		cfg.Store.Bucket = "fleetd_threads"
	}

	if cfg.NATS.AuditSubject == "" {
		cfg.NATS.AuditSubject = "fleetd.audit.security"
	}
	if cfg.NATS.AlertSubject == "" {
		cfg.NATS.AlertSubject = "fleetd.alerts"
	}
	if cfg.NATS.ConnectTimeout == 0 {
		cfg.NATS.ConnectTimeout = Duration(5 * time.Second)
	}

	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "qwen2.5:7b"
	}
	if !cfg.LLM.APIKey.IsSet() {
		// Ollama ignores the key but the OpenAI client requires one.
		cfg.LLM.APIKey = Secret("ollama")
	}
	if cfg.LLM.MaxToolRounds == 0 {
		cfg.LLM.MaxToolRounds = 5
	}
	if cfg.LLM.ToolTimeout == 0 {
		cfg.LLM.ToolTimeout = Duration(10 * time.Second)
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = 2
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 4
	}

	if len(cfg.Monitor.Vehicles) == 0 {
		cfg.Monitor.Vehicles = []string{"Vehicle-123"}
	}
	if cfg.Monitor.TempThreshold == 0 {
		cfg.Monitor.TempThreshold = 110
	}

	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "fleet-monitor"
	}
	if cfg.Temporal.WorkflowID == "" {
		cfg.Temporal.WorkflowID = "fleet-sweep"
	}
	if cfg.Temporal.Schedule == "" {
		cfg.Temporal.Schedule = "@every 1m"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
