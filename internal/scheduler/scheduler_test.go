package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/paysettle/internal/clock"
	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
	obsmetrics "github.com/smallbiznis/paysettle/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "paysettle",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "paysettle",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "paysettle_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "paysettle",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "paysettle_scheduler_job_errors_total", errorLabels))
}

type fakeLedger struct {
	expired    int
	expireErr  error
	undeliv    []string
	listErr    error
	expireHits int
	listHits   int
}

func (l *fakeLedger) ExpireDue(ctx context.Context, limit int) (int, error) {
	l.expireHits++
	return l.expired, l.expireErr
}

func (l *fakeLedger) ListUndelivered(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	l.listHits++
	return l.undeliv, l.listErr
}

type recordingQueue struct {
	fulfillmentdomain.Queue
	enqueued []string
	failFor  map[string]error
	held     map[string]bool
}

func (q *recordingQueue) Holds(ctx context.Context, reference string) (bool, error) {
	return q.held[reference], nil
}

func (q *recordingQueue) Enqueue(ctx context.Context, reference string) error {
	if err := q.failFor[reference]; err != nil {
		return err
	}
	q.enqueued = append(q.enqueued, reference)
	return nil
}

func newTestScheduler(t *testing.T, ledger Ledger, queue fulfillmentdomain.Queue, cfg Config) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	s, err := NewWithLedger(zap.NewNop(), ledger, queue, node, clock.NewFakeClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)), cfg)
	require.NoError(t, err)
	return s
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewWithLedger(zap.NewNop(), &fakeLedger{}, nil, nil, nil, Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceRunsEveryJob(t *testing.T) {
	ledger := &fakeLedger{expired: 2, undeliv: []string{"PAY-A", "PAY-B"}}
	queue := &recordingQueue{}
	s := newTestScheduler(t, ledger, queue, Config{})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, ledger.expireHits)
	assert.Equal(t, 1, ledger.listHits)
	assert.Equal(t, []string{"PAY-A", "PAY-B"}, queue.enqueued)
}

func TestRunOnceHonoursEnabledJobs(t *testing.T) {
	ledger := &fakeLedger{undeliv: []string{"PAY-A"}}
	queue := &recordingQueue{}
	s := newTestScheduler(t, ledger, queue, Config{EnabledJobs: []string{"EXPIRE_PAYMENTS"}})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, ledger.expireHits)
	assert.Equal(t, 0, ledger.listHits)
	assert.Empty(t, queue.enqueued)
}

func TestRecoveryContinuesPastEnqueueFailures(t *testing.T) {
	boom := errors.New("queue unavailable")
	ledger := &fakeLedger{undeliv: []string{"PAY-A", "PAY-B", "PAY-C"}}
	queue := &recordingQueue{failFor: map[string]error{"PAY-B": boom}}
	s := newTestScheduler(t, ledger, queue, Config{})

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), JobFulfillmentRecovery)
	assert.Equal(t, []string{"PAY-A", "PAY-C"}, queue.enqueued)
}

func TestRecoverySkipsReferencesTheQueueHolds(t *testing.T) {
	ledger := &fakeLedger{undeliv: []string{"PAY-A", "PAY-DEAD", "PAY-RUNNING"}}
	queue := &recordingQueue{held: map[string]bool{"PAY-DEAD": true, "PAY-RUNNING": true}}
	s := newTestScheduler(t, ledger, queue, Config{})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, []string{"PAY-A"}, queue.enqueued)
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	expireErr := errors.New("expire failed")
	listErr := errors.New("list failed")
	s := newTestScheduler(t, &fakeLedger{expireErr: expireErr, listErr: listErr}, &recordingQueue{}, Config{})

	err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, expireErr)
	assert.ErrorIs(t, err, listErr)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{BatchSize: 7}.withDefaults()
	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 15*time.Minute, cfg.RecoveryThreshold)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
