package scheduler

import (
	"time"

	"github.com/smallbiznis/billmirror/internal/config"
)

const (
	JobRetryFailedEvents   = "retry_failed_events"
	JobRetryUnpaidInvoices = "retry_unpaid_invoices"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	// EnabledJobs limits the run to the named jobs. Empty enables every job.
	EnabledJobs []string
	JobTimeout  time.Duration
	// LockTTL bounds how long one replica holds a job between ticks.
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 5 * time.Minute,
		BatchSize:   50,
		JobTimeout:  2 * time.Minute,
		LockTTL:     4 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Scheduler.Interval,
		BatchSize:   cfg.Scheduler.BatchSize,
		EnabledJobs: cfg.Scheduler.EnabledJobs,
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
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
