package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paysettle/internal/clock"
	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
	obsmetrics "github.com/smallbiznis/paysettle/internal/observability/metrics"
	paymentservice "github.com/smallbiznis/paysettle/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobExpirePayments      = "expire_payments"
	JobFulfillmentRecovery = "fulfillment_recovery"
)

type Ledger interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
	ListUndelivered(ctx context.Context, olderThan time.Duration, limit int) ([]string, error)
}

type Params struct {
	fx.In

	Log    *zap.Logger
	Ledger *paymentservice.Ledger
	Queue  fulfillmentdomain.Queue
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config Config `optional:"true"`
}

type Scheduler struct {
	log    *zap.Logger
	cfg    Config
	genID  *snowflake.Node
	clock  clock.Clock
	ledger Ledger
	queue  fulfillmentdomain.Queue
}

func New(p Params) (*Scheduler, error) {
	if p.Ledger == nil {
		return nil, ErrInvalidConfig
	}
	return NewWithLedger(p.Log, p.Ledger, p.Queue, p.GenID, p.Clock, p.Config)
}

func NewWithLedger(log *zap.Logger, ledger Ledger, queue fulfillmentdomain.Queue, genID *snowflake.Node, clk clock.Clock, cfg Config) (*Scheduler, error) {
	if log == nil || ledger == nil || queue == nil || genID == nil || clk == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:    log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:    cfg.withDefaults(),
		genID:  genID,
		clock:  clk,
		ledger: ledger,
		queue:  queue,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	schedMetrics.AddBatchProcessed(name, run.processedCount)
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the rest
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
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobExpirePayments, s.isJobEnabled(JobExpirePayments), func(ctx context.Context) error {
			return s.runJob(ctx, JobExpirePayments, s.cfg.BatchSize, s.cfg.JobTimeout, s.ExpirePaymentsJob)
		}},
		{JobFulfillmentRecovery, s.isJobEnabled(JobFulfillmentRecovery), func(ctx context.Context) error {
			return s.runJob(ctx, JobFulfillmentRecovery, s.cfg.BatchSize, s.cfg.JobTimeout, s.FulfillmentRecoveryJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
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
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ExpirePaymentsJob moves overdue pending and initiated payments to expired.
func (s *Scheduler) ExpirePaymentsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExpirePayments, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	expired, err := s.ledger.ExpireDue(ctx, s.cfg.BatchSize)
	run.AddProcessed(expired)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.expire.failed", JobExpirePayments, "", err)
		return err
	}
	return nil
}

// FulfillmentRecoveryJob re-enqueues succeeded payments whose fulfillment was
// never queued, e.g. because the enqueue after the webhook failed. References
// the queue still holds, including dead ones, are left alone.
func (s *Scheduler) FulfillmentRecoveryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobFulfillmentRecovery, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	refs, err := s.ledger.ListUndelivered(ctx, s.cfg.RecoveryThreshold, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.recovery.list_failed", JobFulfillmentRecovery, "", err)
		return err
	}

	var errs []error
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		held, err := s.queue.Holds(ctx, ref)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.recovery.holds_failed", JobFulfillmentRecovery, ref, err)
			errs = append(errs, fmt.Errorf("holds %s: %w", ref, err))
			continue
		}
		if held {
			continue
		}
		if err := s.queue.Enqueue(ctx, ref); err != nil {
			s.logSchedulerError(ctx, run, "scheduler.recovery.enqueue_failed", JobFulfillmentRecovery, ref, err)
			errs = append(errs, fmt.Errorf("enqueue %s: %w", ref, err))
			continue
		}
		run.AddProcessed(1)
		s.logRecovered(ctx, ref)
	}
	return errors.Join(errs...)
}
