package webhook_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paysettle/internal/catalog"
	catalogdomain "github.com/smallbiznis/paysettle/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/paysettle/internal/catalog/repository"
	"github.com/smallbiznis/paysettle/internal/clock"
	"github.com/smallbiznis/paysettle/internal/config"
	"github.com/smallbiznis/paysettle/internal/fulfillment/queue"
	"github.com/smallbiznis/paysettle/internal/payable"
	payabledomain "github.com/smallbiznis/paysettle/internal/payable/domain"
	paymentdomain "github.com/smallbiznis/paysettle/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/paysettle/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paysettle/internal/payment/service"
	"github.com/smallbiznis/paysettle/internal/payment/webhook"
	"github.com/smallbiznis/paysettle/internal/signature"
	"github.com/smallbiznis/paysettle/internal/testutil"
	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const secret = "test-signing-secret"

type fixture struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	codec    *signature.Codec
	ledger   *paymentservice.Ledger
	registry *payable.Registry
	queue    *queue.Database
	ingestor *webhook.Ingestor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	registry, err := catalog.NewRegistry(db, catalogrepo.Provide(), clk)
	require.NoError(t, err)

	codec, err := signature.NewCodec(secret)
	require.NoError(t, err)

	ledger := paymentservice.NewLedger(paymentservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Cfg:      config.Config{Payment: config.PaymentConfig{TTL: time.Hour}},
		Repo:     paymentrepo.Provide(),
		Payables: registry,
	})
	q := queue.NewDatabase(db, node, clk, time.Minute)

	require.NoError(t, db.Create(&catalogdomain.TrainingRegistration{
		ID:        42,
		Title:     "Go for backends",
		Files:     catalogdomain.StringList{"formations/go/slides.pdf"},
		Amount:    15000,
		Currency:  "XOF",
		CreatedAt: clk.Now(),
		UpdatedAt: clk.Now(),
	}).Error)

	return &fixture{
		db:       db,
		clock:    clk,
		codec:    codec,
		ledger:   ledger,
		registry: registry,
		queue:    q,
		ingestor: webhook.New(zap.NewNop(), ledger, registry, codec, q, nil),
	}
}

func (f *fixture) create(t *testing.T) *paymentdomain.PaymentRecord {
	t.Helper()
	record, err := f.ledger.Create(context.Background(), paymentdomain.CreatePaymentRequest{
		PayableType: payabledomain.TypeFormation,
		PayableID:   42,
		Amount:      15000,
		Currency:    "XOF",
		Customer:    paymentdomain.Customer{Name: "Awa Diop", Email: "awa@example.com"},
	})
	require.NoError(t, err)
	return record
}

func (f *fixture) signed(t *testing.T, fields map[string]string) map[string]string {
	t.Helper()
	out, err := f.codec.Sign(signature.FromStrings(fields))
	require.NoError(t, err)
	res := make(map[string]string, len(out))
	for k, v := range out {
		res[k] = cast.ToString(v)
	}
	return res
}

func (f *fixture) events(t *testing.T, reference, eventType string) int64 {
	t.Helper()
	return testutil.Count(t, f.db, `SELECT COUNT(*) FROM payment_events WHERE reference = ? AND event_type = ?`, reference, eventType)
}

func TestSucceededCallbackSettlesAndQueuesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.create(t)

	fields := f.signed(t, map[string]string{
		"reference":      record.Reference,
		"status":         "00",
		"amount":         "15000",
		"transaction_id": "TX-1",
	})
	in := webhook.InboundCallback{Fields: fields, OriginIP: "198.51.100.4"}

	resp, err := f.ingestor.Handle(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.HTTPStatus)
	assert.Equal(t, "ok", resp.Body["status"])

	got, err := f.ledger.Get(ctx, record.Reference)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusSucceeded, got.Status)
	assert.Equal(t, int64(1), testutil.Count(t, f.db, `SELECT COUNT(*) FROM training_registrations WHERE id = 42 AND payment_status = 'paid'`))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, `SELECT COUNT(*) FROM fulfillment_jobs WHERE reference = ?`, record.Reference))
	assert.Equal(t, int64(1), f.events(t, record.Reference, paymentdomain.EventTypeFulfillmentEnqueued))

	resp, err = f.ingestor.Handle(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.HTTPStatus)
	assert.Equal(t, int64(1), f.events(t, record.Reference, paymentdomain.EventTypeDuplicateNotification))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, `SELECT COUNT(*) FROM fulfillment_jobs WHERE reference = ?`, record.Reference))

	got, err = f.ledger.Get(ctx, record.Reference)
	require.NoError(t, err)
	assert.Equal(t, 2, got.NotificationCount)
}

func TestTamperedCallbackLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.create(t)

	fields := f.signed(t, map[string]string{
		"reference": record.Reference,
		"status":    "failed",
		"amount":    "15000",
	})
	fields["status"] = "succeeded"

	resp, err := f.ingestor.Handle(ctx, webhook.InboundCallback{Fields: fields})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.HTTPStatus)

	got, err := f.ledger.Get(ctx, record.Reference)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPending, got.Status)
	assert.Equal(t, 0, got.NotificationCount)
	assert.Equal(t, int64(1), f.events(t, record.Reference, paymentdomain.EventTypeSignatureInvalid))
	assert.Equal(t, int64(0), f.events(t, record.Reference, paymentdomain.EventTypeWebhookReceived))
}

func TestUnsignedCallbackIsRejected(t *testing.T) {
	f := newFixture(t)
	record := f.create(t)

	resp, err := f.ingestor.Handle(context.Background(), webhook.InboundCallback{Fields: map[string]string{
		"reference": record.Reference,
		"status":    "paid",
	}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.HTTPStatus)
	assert.Equal(t, int64(1), f.events(t, record.Reference, paymentdomain.EventTypeSignatureInvalid))
}

func TestUnknownReferenceIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	fields := f.signed(t, map[string]string{"reference": "PAY-MISSING", "status": "paid"})

	resp, err := f.ingestor.Handle(context.Background(), webhook.InboundCallback{Fields: fields})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.HTTPStatus)
	assert.Equal(t, int64(1), testutil.Count(t, f.db,
		`SELECT COUNT(*) FROM payment_events WHERE reference = 'PAY-MISSING' AND event_type = ? AND payment_id IS NULL`,
		paymentdomain.EventTypeUnknownReference))
}

func TestMalformedCallbacks(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]string
		reason string
	}{
		{name: "missing status", fields: map[string]string{"reference": "PAY-1"}, reason: "missing_status"},
		{name: "unknown status", fields: map[string]string{"reference": "PAY-1", "status": "maybe"}, reason: "unknown_status"},
		{name: "missing reference", fields: map[string]string{"status": "paid"}, reason: "missing_reference"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			resp, err := f.ingestor.Handle(context.Background(), webhook.InboundCallback{Fields: f.signed(t, tc.fields)})
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.HTTPStatus)
			assert.Equal(t, tc.reason, resp.Body["error"])
			assert.Equal(t, int64(1), testutil.Count(t, f.db,
				`SELECT COUNT(*) FROM payment_events WHERE event_type = ? AND payment_id IS NULL`,
				paymentdomain.EventTypeMalformedCallback))
		})
	}
}

func TestResolvesBySessionID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.create(t)
	_, err := f.ledger.MarkInitiated(ctx, record.Reference, "sess-77")
	require.NoError(t, err)

	fields := f.signed(t, map[string]string{"session_id": "sess-77", "status": "declined"})
	resp, err := f.ingestor.Handle(ctx, webhook.InboundCallback{Fields: fields})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.HTTPStatus)

	got, err := f.ledger.Get(ctx, record.Reference)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusFailed, got.Status)
	assert.Equal(t, int64(0), testutil.Count(t, f.db, `SELECT COUNT(*) FROM fulfillment_jobs`))
}

func TestUnregisteredPayableIsAckedWithTypedError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.create(t)

	kinds := catalog.Kinds(f.db, catalogrepo.Provide(), f.clock)
	partial, err := payable.NewRegistry(kinds[0])
	require.NoError(t, err)
	ingestor := webhook.New(zap.NewNop(), f.ledger, partial, f.codec, f.queue, nil)

	fields := f.signed(t, map[string]string{"reference": record.Reference, "status": "succeeded"})
	resp, err := ingestor.Handle(ctx, webhook.InboundCallback{Fields: fields})
	assert.ErrorIs(t, err, payabledomain.ErrUnregisteredPayable)
	assert.Equal(t, http.StatusOK, resp.HTTPStatus)

	got, err := f.ledger.Get(ctx, record.Reference)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusSucceeded, got.Status)
	assert.Equal(t, int64(1), f.events(t, record.Reference, paymentdomain.EventTypeCompletionFailed))
	assert.Equal(t, int64(0), testutil.Count(t, f.db, `SELECT COUNT(*) FROM fulfillment_jobs`))
}
