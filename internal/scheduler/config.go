package scheduler

import (
	"errors"
	"time"

	"github.com/smallbiznis/paysettle/internal/config"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	RecoveryThreshold time.Duration
	JobTimeout        time.Duration
	// EnabledJobs limits which jobs run. Empty means all of them.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         100,
		RecoveryThreshold: 15 * time.Minute,
		JobTimeout:        30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:       cfg.Scheduler.RunInterval,
		BatchSize:         cfg.Scheduler.BatchSize,
		RecoveryThreshold: cfg.Scheduler.RecoveryThreshold,
		EnabledJobs:       cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
