package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/parkpulse/parkpulse/pkg/logger"
)

// CronConfig holds the unattended schedule. Ingest runs on a fixed
// interval; the rollups use standard cron expressions.
type CronConfig struct {
	IngestInterval time.Duration
	HourlySpec     string
	DailySpec      string
	MonthlySpec    string

	// DailyCleanup makes the scheduled daily run sweep expired raw samples.
	DailyCleanup bool
}

// Cron drives unattended runs in serve mode. Each tick invokes the
// corresponding Runner method with default (previous-unit) scope.
type Cron struct {
	runner *Runner
	cron   *cron.Cron
	log    logger.Logger
}

// NewCron registers the configured schedules. The returned Cron is inert
// until Start is called.
func NewCron(runner *Runner, cfg CronConfig, log logger.Logger) (*Cron, error) {
	c := &Cron{
		runner: runner,
		cron:   cron.New(),
		log:    log,
	}

	if cfg.IngestInterval > 0 {
		spec := fmt.Sprintf("@every %s", cfg.IngestInterval)
		if _, err := c.cron.AddFunc(spec, func() {
			c.runner.RunIngest(context.Background())
		}); err != nil {
			return nil, fmt.Errorf("schedule ingest: %w", err)
		}
	}
	if cfg.HourlySpec != "" {
		if _, err := c.cron.AddFunc(cfg.HourlySpec, func() {
			c.runner.RunHourly(context.Background(), HourlyOptions{})
		}); err != nil {
			return nil, fmt.Errorf("schedule hourly: %w", err)
		}
	}
	if cfg.DailySpec != "" {
		if _, err := c.cron.AddFunc(cfg.DailySpec, func() {
			c.runner.RunDaily(context.Background(), DailyOptions{Cleanup: cfg.DailyCleanup})
		}); err != nil {
			return nil, fmt.Errorf("schedule daily: %w", err)
		}
	}
	if cfg.MonthlySpec != "" {
		if _, err := c.cron.AddFunc(cfg.MonthlySpec, func() {
			c.runner.RunMonthly(context.Background(), MonthlyOptions{})
		}); err != nil {
			return nil, fmt.Errorf("schedule monthly: %w", err)
		}
	}

	return c, nil
}

// Start begins dispatching scheduled runs in background goroutines.
func (c *Cron) Start() {
	c.log.Info("cron scheduler started")
	c.cron.Start()
}

// Stop halts scheduling and waits for any in-flight run to finish.
func (c *Cron) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
	c.log.Info("cron scheduler stopped")
}
