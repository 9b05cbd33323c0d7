package scheduler

import (
	"errors"
	"time"

	"github.com/seeklabs/bloxscout/internal/config"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval        time.Duration
	LockTTL            time.Duration
	IntegrityBatchSize int
	IntegrityLookback  time.Duration
	// CacheSweepMaxAge mirrors the cache eviction age; zero disables the
	// sweep job entirely.
	CacheSweepMaxAge time.Duration
	EnabledJobs      []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        5 * time.Minute,
		LockTTL:            4 * time.Minute,
		IntegrityBatchSize: 100,
		IntegrityLookback:  24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.IntegrityBatchSize <= 0 {
		c.IntegrityBatchSize = defaults.IntegrityBatchSize
	}
	if c.IntegrityLookback <= 0 {
		c.IntegrityLookback = defaults.IntegrityLookback
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:        cfg.Scheduler.RunInterval,
		LockTTL:            cfg.Scheduler.LockTTL,
		IntegrityBatchSize: cfg.Scheduler.IntegrityBatchSize,
		IntegrityLookback:  cfg.Scheduler.IntegrityLookback,
		CacheSweepMaxAge:   cfg.Cache.SweepMaxAge,
	}
}
