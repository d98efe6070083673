package scheduler

import (
	"time"

	"github.com/smallbiznis/workledger/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	JobTimeout        time.Duration
	MaxDispatchRounds int
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       5 * time.Second,
		BatchSize:         100,
		JobTimeout:        30 * time.Second,
		MaxDispatchRounds: 10,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Outbox.RunInterval,
		BatchSize:   cfg.Outbox.BatchSize,
		JobTimeout:  cfg.Outbox.JobTimeout,
		EnabledJobs: cfg.Outbox.EnabledJobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.MaxDispatchRounds <= 0 {
		c.MaxDispatchRounds = defaults.MaxDispatchRounds
	}
	return c
}
