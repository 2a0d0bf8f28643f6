package dispatcher

import (
	"time"

	"github.com/smallbiznis/pushrelay/internal/config"
)

// Config controls the dispatch loop cadence and concurrency.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	JobConcurrency    int
	FanOutConcurrency int
	JobTimeout        time.Duration
	LockTTL           time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       5 * time.Second,
		BatchSize:         50,
		JobConcurrency:    4,
		FanOutConcurrency: 8,
		JobTimeout:        time.Minute,
		LockTTL:           30 * time.Second,
	}
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		RunInterval:       cfg.Dispatcher.RunInterval,
		BatchSize:         cfg.Dispatcher.BatchSize,
		JobConcurrency:    cfg.Dispatcher.JobConcurrency,
		FanOutConcurrency: cfg.Dispatcher.FanOutConcurrency,
		JobTimeout:        cfg.Dispatcher.JobTimeout,
		LockTTL:           cfg.Dispatcher.LockTTL,
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
	if c.JobConcurrency <= 0 {
		c.JobConcurrency = defaults.JobConcurrency
	}
	if c.FanOutConcurrency <= 0 {
		c.FanOutConcurrency = defaults.FanOutConcurrency
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
