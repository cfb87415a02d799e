package worker

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/paysettle/internal/clock"
	"github.com/smallbiznis/paysettle/internal/config"
	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
	obslogger "github.com/smallbiznis/paysettle/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paysettle/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobName = "fulfillment_worker"

	defaultMaxAttempts  = 5
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 10
	retryStep           = 30 * time.Second
	dispatchTimeout     = 2 * time.Minute
)

type Dispatcher interface {
	Dispatch(ctx context.Context, reference string) (fulfillmentdomain.Outcome, error)
}

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Queue      fulfillmentdomain.Queue
	Dispatcher Dispatcher
}

// Worker drains the fulfillment queue. Failed dispatches are retried with a
// linear backoff until the attempt budget is spent, then the job is failed.
type Worker struct {
	log          *zap.Logger
	clock        clock.Clock
	queue        fulfillmentdomain.Queue
	dispatcher   Dispatcher
	maxAttempts  int
	pollInterval time.Duration
	batchSize    int
}

func New(p Params) *Worker {
	cfg := p.Cfg.Fulfillment
	w := &Worker{
		log:          p.Log.Named("fulfillment.worker"),
		clock:        p.Clock,
		queue:        p.Queue,
		dispatcher:   p.Dispatcher,
		maxAttempts:  cfg.MaxAttempts,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
	}
	if w.clock == nil {
		w.clock = clock.SystemClock{}
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	return w
}

// ProcessBatch claims one batch and handles every task in it. It returns the
// number of tasks claimed.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	schedMetrics := obsmetrics.Scheduler()
	start := time.Now()

	tasks, err := w.queue.Claim(ctx, w.batchSize)
	if err != nil {
		schedMetrics.IncJobError(JobName, err)
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	schedMetrics.IncJobRun(JobName)

	var batchErr error
	for _, task := range tasks {
		if ctx.Err() != nil {
			return len(tasks), errors.Join(batchErr, ctx.Err())
		}
		batchErr = errors.Join(batchErr, w.handle(ctx, task))
	}

	schedMetrics.AddBatchProcessed(JobName, len(tasks))
	schedMetrics.ObserveJobDuration(JobName, time.Since(start))
	return len(tasks), batchErr
}

func (w *Worker) handle(ctx context.Context, task fulfillmentdomain.Task) error {
	log := obslogger.WithPayment(w.log, task.Reference).With(
		zap.String("job_id", task.ID.String()),
		zap.Int("attempt", task.Attempts),
	)

	dispatchCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	outcome, err := w.dispatcher.Dispatch(dispatchCtx, task.Reference)
	cancel()

	switch {
	case err == nil:
		log.Debug("fulfillment task done",
			zap.String("status", string(outcome.Status)),
			zap.String("reason", outcome.Reason),
		)
		return w.queue.Complete(ctx, task)
	case errors.Is(err, fulfillmentdomain.ErrDispatchInProgress):
		// another worker holds the reference and will record the outcome
		log.Debug("fulfillment already in progress")
		return w.queue.Complete(ctx, task)
	}

	obsmetrics.Scheduler().IncJobError(JobName, err)
	if task.Attempts >= w.maxAttempts {
		log.Error("fulfillment failed permanently", zap.Error(err))
		return w.queue.Fail(ctx, task, err)
	}

	next := w.clock.Now().Add(w.Backoff(task.Attempts))
	log.Warn("fulfillment failed, will retry", zap.Time("retry_at", next), zap.Error(err))
	return w.queue.Retry(ctx, task, err, next)
}

// Backoff grows linearly with the attempt number.
func (w *Worker) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * retryStep
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another claim.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.log.Info("fulfillment worker started",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int("batch_size", w.batchSize),
		zap.Int("max_attempts", w.maxAttempts),
	)
	for {
		claimed, err := w.ProcessBatch(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Warn("fulfillment batch failed", zap.Error(err))
		}
		if claimed >= w.batchSize && ctx.Err() == nil {
			continue
		}

		select {
		case <-ctx.Done():
			w.log.Info("fulfillment worker stopped")
			return
		case <-ticker.C:
		}
	}
}
