package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/fleetd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Equal(t, HealthStatus{}, tel.Health())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = "udp"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protocol")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "disabled skips checks", mutate: func(c *Config) { c.Endpoint = "" }},
		{name: "enabled local insecure", mutate: func(c *Config) { c.Enabled = true }},
		{
			name: "insecure remote rejected",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Endpoint = "otel.example.com:4317"
			},
			wantErr: "insecure export",
		},
		{
			name: "bad sample rate",
			mutate: func(c *Config) {
				c.Enabled = true
				c.SampleRate = 2
			},
			wantErr: "sample rate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:  true,
		Endpoint: "https://otel.example.com:4318",
		Protocol: "http/protobuf",
	})
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Insecure)
	assert.NoError(t, cfg.Validate())

	local := FromSettings(config.TelemetryConfig{Enabled: true, Endpoint: "127.0.0.1:4317"})
	assert.True(t, local.Insecure)
	assert.Equal(t, "grpc", local.Protocol)
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4317", stripScheme("collector:4317"))
}

func TestTestTelemetry_RecordsSpans(t *testing.T) {
	tel := NewTestTelemetry()

	_, span := tel.Tracer("test").Start(context.Background(), "executor.run")
	span.SetAttributes(attribute.String("thread.id", "t-1"), attribute.Int("steps", 3))
	span.End()

	tel.AssertSpanExists(t, "executor.run")
	tel.AssertSpanAttribute(t, "executor.run", "thread.id", "t-1")
	tel.AssertSpanAttribute(t, "executor.run", "steps", int64(3))
}
