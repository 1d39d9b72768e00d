package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billmirror/internal/clock"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	eventdomain "github.com/smallbiznis/billmirror/internal/event/domain"
	lifecycledomain "github.com/smallbiznis/billmirror/internal/lifecycle/domain"
	obsmetrics "github.com/smallbiznis/billmirror/internal/observability/metrics"
	"github.com/smallbiznis/billmirror/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Locker    ratelimit.Locker
	Events    eventdomain.Service
	Lifecycle lifecycledomain.Service
	Config    Config                      `optional:"true"`
	Metrics   *obsmetrics.SchedulerMetrics `optional:"true"`
}

// Scheduler periodically retries work the webhook path could not finish: failed events and
// unpaid invoices. Each job runs on at most one replica per tick.
type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	locker    ratelimit.Locker
	events    eventdomain.Service
	lifecycle lifecycledomain.Service
	metrics   *obsmetrics.SchedulerMetrics
}

type job struct {
	name string
	run  func(ctx context.Context, run *jobRun) error
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Locker == nil || p.Events == nil || p.Lifecycle == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		locker:    p.Locker,
		events:    p.Events,
		lifecycle: p.Lifecycle,
		metrics:   metrics,
	}, nil
}

func (s *Scheduler) jobs() []job {
	return []job{
		{name: JobRetryFailedEvents, run: s.RetryFailedEventsJob},
		{name: JobRetryUnpaidInvoices, run: s.RetryUnpaidInvoicesJob},
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context, run *jobRun) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	key := "billmirror:scheduler:" + name
	token, acquired, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("%s: acquire lock: %w", name, err)
	}
	if !acquired {
		s.log.Debug("job held by another replica", zap.String("job", name))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("release job lock", zap.String("job", name), zap.Error(err))
		}
	}()

	ctx, run := s.newJobRun(ctx, name, s.cfg.BatchSize)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	err = fn(ctx, run)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil {
		run.AddErrors(1)
		s.logJobError(ctx, run, err)
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncJobTimeout(name)
		s.log.Warn("job timed out", zap.String("job", name), zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, j.name, s.cfg.JobTimeout, j.run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), name) {
			return true
		}
	}
	return false
}

func (s *Scheduler) RetryFailedEventsJob(ctx context.Context, run *jobRun) error {
	result, err := s.events.RetryFailed(ctx, s.cfg.BatchSize)
	run.AddProcessed(result.Processed)
	run.AddErrors(result.Failed)
	s.metrics.AddBatchProcessed(JobRetryFailedEvents, "event", result.Processed)
	return err
}

func (s *Scheduler) RetryUnpaidInvoicesJob(ctx context.Context, run *jobRun) error {
	result, err := s.lifecycle.RetryAllUnpaidInvoices(ctx, func(customer customerdomain.Customer, err error) {
		if err != nil {
			s.logger(ctx).Warn("retry unpaid invoices",
				zap.String("run_id", run.runID),
				zap.String("customer", customer.ProviderID),
				zap.Error(err),
			)
		}
	})
	run.AddProcessed(result.Succeeded)
	run.AddErrors(result.Failed)
	s.metrics.AddBatchProcessed(JobRetryUnpaidInvoices, "customer", result.Succeeded)
	return err
}
