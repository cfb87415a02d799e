package observability

import (
	"strings"

	"github.com/smallbiznis/paysettle/internal/config"
)

// Config is the observability view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability
	return Config{
		ServiceName:          orDefault(cfg.AppName, "paysettle"),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             orDefault(strings.ToLower(obs.LogLevel), "info"),
		LogFormat:            orDefault(strings.ToLower(obs.LogFormat), "json"),
		OtelEnabled:          obs.OTLPEnabled,
		OtelExporterEndpoint: strings.TrimSpace(obs.OTLPEndpoint),
		OtelExporterProtocol: orDefault(strings.ToLower(obs.OTLPProtocol), "grpc"),
		OtelSamplingRatio:    clampRatio(obs.SamplingRatio),
	}
}

// Debug turns on verbose request logs and error stacks.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	return isDevEnv(c.Environment)
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func orDefault(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}
