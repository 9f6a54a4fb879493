package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/taskflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func validConfig() *Config {
	return &Config{
		Enabled:         true,
		Endpoint:        "localhost:4317",
		Protocol:        "grpc",
		Insecure:        true,
		ServiceName:     "taskflow",
		ServiceVersion:  "test",
		SampleRate:      1,
		ExportInterval:  time.Second,
		ShutdownTimeout: time.Second,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"disabled skips checks", func(c *Config) { c.Enabled = false; c.Endpoint = "" }, ""},
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }, "endpoint is required"},
		{"missing service", func(c *Config) { c.ServiceName = "" }, "service_name is required"},
		{"bad protocol", func(c *Config) { c.Protocol = "udp" }, "unsupported otlp protocol"},
		{"insecure remote", func(c *Config) { c.Endpoint = "collector.prod:4317" }, "insecure connections"},
		{"secure remote", func(c *Config) { c.Endpoint = "collector.prod:4317"; c.Insecure = false }, ""},
		{"sample rate", func(c *Config) { c.SampleRate = 1.5 }, "sample rate"},
		{"export interval", func(c *Config) { c.ExportInterval = 0 }, "export interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
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

func TestIsLocalEndpoint(t *testing.T) {
	for endpoint, want := range map[string]bool{
		"localhost:4317":        true,
		"127.0.0.1:4317":        true,
		"[::1]:4317":            true,
		"http://localhost:4318": true,
		"otel.example.com:4317": false,
		"10.0.0.5:4317":         false,
	} {
		assert.Equal(t, want, isLocalEndpoint(endpoint), endpoint)
	}
}

func TestFromObservability(t *testing.T) {
	cfg := FromObservability(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "svc",
		OTLPEndpoint:    "localhost:4318",
		OTLPProtocol:    "http/protobuf",
		OTLPInsecure:    true,
	}, "1.0.0")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "1.0.0", cfg.ServiceVersion)
	assert.NoError(t, cfg.Validate())
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), &Config{})
	require.NoError(t, err)

	assert.NotNil(t, tel.TracerProvider())
	assert.NotNil(t, tel.MeterProvider())
	assert.False(t, tel.Health().Enabled)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(context.Background(), &Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.TracerProvider())
	assert.NotNil(t, tel.MeterProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.Equal(t, HealthStatus{}, tel.Health())
}

func TestTestTelemetry_RecordsSpansAndCounters(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	_, span := tt.TracerProvider().Tracer("test").Start(ctx, "op")
	span.SetAttributes(attribute.String("kind", "template"))
	span.End()

	counter, err := tt.MeterProvider().Meter("test").Int64Counter("ops_total")
	require.NoError(t, err)
	counter.Add(ctx, 2)
	counter.Add(ctx, 3)

	tt.AssertSpanAttribute(t, "op", "kind", "template")
	assert.Equal(t, int64(5), tt.CounterValue(t, "ops_total"))
}
