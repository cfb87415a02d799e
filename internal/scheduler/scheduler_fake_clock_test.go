package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paysettle/internal/catalog"
	catalogrepo "github.com/smallbiznis/paysettle/internal/catalog/repository"
	"github.com/smallbiznis/paysettle/internal/clock"
	"github.com/smallbiznis/paysettle/internal/config"
	"github.com/smallbiznis/paysettle/internal/fulfillment/queue"
	paymentdomain "github.com/smallbiznis/paysettle/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/paysettle/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paysettle/internal/payment/service"
	schedtesting "github.com/smallbiznis/paysettle/internal/scheduler/testing"
	"github.com/smallbiznis/paysettle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_RunOnce_FakeClock(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	registry, err := catalog.NewRegistry(db, catalogrepo.Provide(), clk)
	require.NoError(t, err)
	ledger := paymentservice.NewLedger(paymentservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Cfg:      config.Config{Payment: config.PaymentConfig{TTL: 2 * time.Hour}},
		Repo:     paymentrepo.Provide(),
		Payables: registry,
	})
	q := queue.NewDatabase(db, node, clk, time.Minute)
	sched, err := NewWithLedger(zap.NewNop(), ledger, q, node, clk, Config{RecoveryThreshold: 10 * time.Minute})
	require.NoError(t, err)
	accel := schedtesting.NewTimeAccelerator(db, clk)

	create := func() *paymentdomain.PaymentRecord {
		record, err := ledger.Create(ctx, paymentdomain.CreatePaymentRequest{
			PayableType: "request", PayableID: 1, Amount: 5000, Currency: "XOF",
		})
		require.NoError(t, err)
		return record
	}
	open := create()
	lapsing := create()
	paid := create()
	_, err = ledger.ApplyCallback(ctx, paymentdomain.CallbackRequest{
		Reference: paid.Reference,
		Status:    paymentdomain.StatusSucceeded,
		RawStatus: "paid",
	})
	require.NoError(t, err)

	require.NoError(t, sched.RunOnce(ctx))
	assert.Equal(t, int64(0), testutil.Count(t, db, `SELECT COUNT(*) FROM payment_records WHERE status = 'expired'`))
	assert.Equal(t, int64(0), testutil.Count(t, db, `SELECT COUNT(*) FROM fulfillment_jobs`))

	require.NoError(t, accel.ExpireNow(ctx, lapsing.Reference))
	info, err := accel.GetPaymentInfo(ctx, lapsing.Reference)
	require.NoError(t, err)
	assert.True(t, info.CanExpire)
	require.NoError(t, accel.BackdatePaid(ctx, paid.Reference, 30*time.Minute))

	require.NoError(t, sched.RunOnce(ctx))
	got, err := ledger.Get(ctx, lapsing.Reference)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusExpired, got.Status)
	got, err = ledger.Get(ctx, open.Reference)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPending, got.Status)
	assert.Equal(t, int64(1), testutil.Count(t, db, `SELECT COUNT(*) FROM fulfillment_jobs WHERE reference = ?`, paid.Reference))

	// a queued job keeps the payment out of the next sweep
	require.NoError(t, sched.RunOnce(ctx))
	assert.Equal(t, int64(1), testutil.Count(t, db, `SELECT COUNT(*) FROM fulfillment_jobs`))

	// the default TTL lapses for the remaining open payment
	clk.Advance(3 * time.Hour)
	require.NoError(t, sched.RunOnce(ctx))
	got, err = ledger.Get(ctx, open.Reference)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusExpired, got.Status)
}
