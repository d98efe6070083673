package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/workledger/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/workledger/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobOutboxDispatch      = "outbox_dispatch"
	JobOutboxLeaseRecovery = "outbox_lease_recovery"
	JobOutboxSweep         = "outbox_sweep"

	resourceOutboxEvent = "outbox_event"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Dispatcher outboxdomain.Dispatcher
	Sweeper    outboxdomain.Sweeper
	Config     Config `optional:"true"`
}

// Scheduler is the outer timer of the outbox. It holds no global lock: each
// job is safe to run on every replica at once.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	dispatcher outboxdomain.Dispatcher
	sweeper    outboxdomain.Sweeper
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Dispatcher == nil || p.Sweeper == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		dispatcher: p.Dispatcher,
		sweeper:    p.Sweeper,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(zap.String("job", name))
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// a deadline is a soft timeout, the next tick picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Size int
		Run  func(context.Context) error
	}{
		{JobOutboxLeaseRecovery, 0, s.LeaseRecoveryJob},
		{JobOutboxDispatch, s.cfg.BatchSize, s.DispatchJob},
		{JobOutboxSweep, 0, s.SweepJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Size, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if runLag := time.Since(nextRun); runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
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

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// an empty list enables every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// DispatchJob drains pending events in batches until a pass comes back short
// or the round limit is reached.
func (s *Scheduler) DispatchJob(ctx context.Context) error {
	ctx, run, _ := s.ensureJobRun(ctx, JobOutboxDispatch, s.cfg.BatchSize)
	schedMetrics := obsmetrics.Scheduler()

	for round := 0; round < s.cfg.MaxDispatchRounds; round++ {
		n, err := s.dispatcher.DispatchPending(ctx, s.cfg.BatchSize, nil)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.dispatch.failed", err, zap.Int("round", round))
			return err
		}
		run.AddProcessed(n)
		schedMetrics.AddBatchProcessed(JobOutboxDispatch, resourceOutboxEvent, n)
		if n == 0 {
			if round == 0 {
				schedMetrics.IncBatchDeferred(JobOutboxDispatch, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
			}
			return nil
		}
		if n < s.cfg.BatchSize {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (s *Scheduler) LeaseRecoveryJob(ctx context.Context) error {
	ctx, run, _ := s.ensureJobRun(ctx, JobOutboxLeaseRecovery, 0)
	n, err := s.dispatcher.RecoverExpiredLeases(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.lease_recovery.failed", err)
		return err
	}
	run.AddProcessed(int(n))
	obsmetrics.Scheduler().AddBatchProcessed(JobOutboxLeaseRecovery, resourceOutboxEvent, int(n))
	return nil
}

func (s *Scheduler) SweepJob(ctx context.Context) error {
	ctx, run, _ := s.ensureJobRun(ctx, JobOutboxSweep, 0)
	n, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.sweep.failed", err)
		return err
	}
	run.AddProcessed(int(n))
	obsmetrics.Scheduler().AddBatchProcessed(JobOutboxSweep, resourceOutboxEvent, int(n))
	return nil
}
