package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/paysettle/internal/clock"
	"github.com/smallbiznis/paysettle/internal/config"
	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type retried struct {
	task fulfillmentdomain.Task
	at   time.Time
}

type fakeQueue struct {
	pending   []fulfillmentdomain.Task
	completed []fulfillmentdomain.Task
	retried   []retried
	failed    []fulfillmentdomain.Task
}

func (q *fakeQueue) Enqueue(ctx context.Context, reference string) error {
	q.pending = append(q.pending, fulfillmentdomain.Task{Reference: reference})
	return nil
}

func (q *fakeQueue) Claim(ctx context.Context, limit int) ([]fulfillmentdomain.Task, error) {
	if limit > len(q.pending) {
		limit = len(q.pending)
	}
	out := q.pending[:limit]
	q.pending = q.pending[limit:]
	for i := range out {
		out[i].Attempts++
	}
	return out, nil
}

func (q *fakeQueue) Complete(ctx context.Context, task fulfillmentdomain.Task) error {
	q.completed = append(q.completed, task)
	return nil
}

func (q *fakeQueue) Retry(ctx context.Context, task fulfillmentdomain.Task, cause error, availableAt time.Time) error {
	q.retried = append(q.retried, retried{task: task, at: availableAt})
	return nil
}

func (q *fakeQueue) Fail(ctx context.Context, task fulfillmentdomain.Task, cause error) error {
	q.failed = append(q.failed, task)
	return nil
}

func (q *fakeQueue) Holds(ctx context.Context, reference string) (bool, error) {
	for _, task := range q.pending {
		if task.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

type fakeDispatcher struct {
	errs  map[string]error
	calls []string
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, reference string) (fulfillmentdomain.Outcome, error) {
	d.calls = append(d.calls, reference)
	if err := d.errs[reference]; err != nil {
		return fulfillmentdomain.Outcome{}, err
	}
	return fulfillmentdomain.Outcome{Status: fulfillmentdomain.OutcomeDispatched}, nil
}

func newWorker(q *fakeQueue, d *fakeDispatcher, clk clock.Clock) *Worker {
	return New(Params{
		Cfg: config.Config{Fulfillment: config.FulfillmentConfig{
			MaxAttempts:  3,
			BatchSize:    10,
			PollInterval: 10 * time.Millisecond,
		}},
		Log:        zap.NewNop(),
		Clock:      clk,
		Queue:      q,
		Dispatcher: d,
	})
}

func TestProcessBatchCompletesAndRetries(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	q := &fakeQueue{pending: []fulfillmentdomain.Task{
		{ID: 1, Reference: "PAY-OK"},
		{ID: 2, Reference: "PAY-SMTP"},
		{ID: 3, Reference: "PAY-BUSY"},
	}}
	d := &fakeDispatcher{errs: map[string]error{
		"PAY-SMTP": errors.New("smtp down"),
		"PAY-BUSY": fulfillmentdomain.ErrDispatchInProgress,
	}}

	claimed, err := newWorker(q, d, clk).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, claimed)
	assert.Equal(t, []string{"PAY-OK", "PAY-SMTP", "PAY-BUSY"}, d.calls)

	require.Len(t, q.completed, 2)
	assert.Equal(t, "PAY-OK", q.completed[0].Reference)
	assert.Equal(t, "PAY-BUSY", q.completed[1].Reference)

	require.Len(t, q.retried, 1)
	assert.Equal(t, "PAY-SMTP", q.retried[0].task.Reference)
	assert.Equal(t, clk.Now().Add(30*time.Second), q.retried[0].at)
	assert.Empty(t, q.failed)
}

func TestProcessBatchFailsAfterMaxAttempts(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	q := &fakeQueue{pending: []fulfillmentdomain.Task{{ID: 1, Reference: "PAY-SMTP", Attempts: 2}}}
	d := &fakeDispatcher{errs: map[string]error{"PAY-SMTP": errors.New("smtp down")}}

	_, err := newWorker(q, d, clk).ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, q.failed, 1)
	assert.Equal(t, 3, q.failed[0].Attempts)
	assert.Empty(t, q.retried)
}

func TestBackoffIsLinear(t *testing.T) {
	w := newWorker(&fakeQueue{}, &fakeDispatcher{}, nil)
	assert.Equal(t, 30*time.Second, w.Backoff(0))
	assert.Equal(t, 30*time.Second, w.Backoff(1))
	assert.Equal(t, 90*time.Second, w.Backoff(3))
}

type signalDispatcher struct {
	called chan string
}

func (d *signalDispatcher) Dispatch(ctx context.Context, reference string) (fulfillmentdomain.Outcome, error) {
	d.called <- reference
	return fulfillmentdomain.Outcome{Status: fulfillmentdomain.OutcomeDispatched}, nil
}

func TestRunStopsOnCancel(t *testing.T) {
	q := &fakeQueue{pending: []fulfillmentdomain.Task{{ID: 1, Reference: "PAY-OK"}}}
	d := &signalDispatcher{called: make(chan string, 1)}
	w := New(Params{
		Cfg:        config.Config{Fulfillment: config.FulfillmentConfig{PollInterval: 10 * time.Millisecond}},
		Log:        zap.NewNop(),
		Queue:      q,
		Dispatcher: d,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	select {
	case ref := <-d.called:
		assert.Equal(t, "PAY-OK", ref)
	case <-time.After(time.Second):
		t.Fatal("worker never dispatched")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
