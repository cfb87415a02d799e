package observability

import (
	"testing"

	"github.com/smallbiznis/paysettle/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{Environment: "development"})
	assert.Equal(t, "paysettle", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.False(t, cfg.OtelEnabled)
	assert.True(t, cfg.Debug())
}

func TestLoadConfigMapsObservabilitySettings(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:     "paysettle-worker",
		Environment: "production",
		AppVersion:  " 1.4.0 ",
		Observability: config.ObservabilityConfig{
			LogLevel:      "WARN",
			OTLPEnabled:   true,
			OTLPEndpoint:  "collector:4318",
			OTLPProtocol:  "HTTP",
			SamplingRatio: 3,
		},
	})
	assert.Equal(t, "paysettle-worker", cfg.ServiceName)
	assert.Equal(t, "1.4.0", cfg.Version)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, "collector:4318", cfg.OtelExporterEndpoint)
	assert.Equal(t, float64(1), cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())
}
