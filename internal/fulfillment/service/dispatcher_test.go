package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/paysettle/internal/clock"
	"github.com/smallbiznis/paysettle/internal/config"
	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
	payabledomain "github.com/smallbiznis/paysettle/internal/payable/domain"
	paymentdomain "github.com/smallbiznis/paysettle/internal/payment/domain"
	"github.com/smallbiznis/paysettle/internal/providers/email"
	"github.com/smallbiznis/paysettle/internal/providers/email/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePayments struct {
	mu      sync.Mutex
	records map[string]*paymentdomain.PaymentRecord
	events  []paymentdomain.NewEvent
}

func (f *fakePayments) Get(ctx context.Context, reference string) (*paymentdomain.PaymentRecord, error) {
	record, ok := f.records[reference]
	if !ok {
		return nil, paymentdomain.ErrNotFound
	}
	return record, nil
}

func (f *fakePayments) AppendEvent(ctx context.Context, in paymentdomain.NewEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, in)
	return nil
}

func (f *fakePayments) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakePayable struct {
	delivery    payabledomain.Delivery
	deliveredAt *time.Time
	payload     payabledomain.DeliveryPayload
	renewable   bool
	settled     []string
	settleErr   error
	deliveredBy map[string]bool
}

func (p *fakePayable) Type() string                      { return payabledomain.TypeFormation }
func (p *fakePayable) ID() int64                         { return 42 }
func (p *fakePayable) AmountDue() int64                  { return 15000 }
func (p *fakePayable) Label() string                     { return "Formation Go avancé" }
func (p *fakePayable) InvoiceDetails() map[string]string { return map[string]string{"level": "Advanced"} }
func (p *fakePayable) Delivery() payabledomain.Delivery  { return p.delivery }
func (p *fakePayable) DeliveredAt() *time.Time           { return p.deliveredAt }
func (p *fakePayable) Renewable() bool                   { return p.renewable }
func (p *fakePayable) Paid() bool                        { return len(p.settled) > 0 }

func (p *fakePayable) OnPaymentSucceeded(ctx context.Context, payment paymentdomain.PaymentRecord) error {
	if p.settleErr != nil {
		return p.settleErr
	}
	for _, ref := range p.settled {
		if ref == payment.Reference {
			return nil
		}
	}
	p.settled = append(p.settled, payment.Reference)
	return nil
}

func (p *fakePayable) DeliveredFor(ctx context.Context, reference string) (bool, error) {
	return p.deliveredBy[reference], nil
}

func (p *fakePayable) MarkDelivered(ctx context.Context, reference string, at time.Time, payload payabledomain.DeliveryPayload) (bool, error) {
	if p.deliveredBy[reference] || (!p.renewable && p.deliveredAt != nil) {
		return false, nil
	}
	if p.deliveredBy == nil {
		p.deliveredBy = map[string]bool{}
	}
	p.deliveredBy[reference] = true
	p.deliveredAt = &at
	p.payload = payload
	return true, nil
}

type fakePayables struct {
	items map[int64]payabledomain.Payable
	err   error
}

func (f *fakePayables) Resolve(ctx context.Context, tag string, id int64) (payabledomain.Payable, error) {
	if f.err != nil {
		return nil, f.err
	}
	item, ok := f.items[id]
	if !ok {
		return nil, payabledomain.ErrPayableNotFound
	}
	return item, nil
}

type memFiles map[string][]byte

func (m memFiles) Stat(ctx context.Context, path string) (int64, error) {
	data, ok := m[path]
	if !ok {
		return 0, fulfillmentdomain.ErrFileNotFound
	}
	return int64(len(data)), nil
}

func (m memFiles) ReadFile(ctx context.Context, path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, fulfillmentdomain.ErrFileNotFound
	}
	return data, nil
}

type fakeLocker struct {
	held     bool
	released int
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l.held {
		return "", false, nil
	}
	return "token", true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key, token string) error {
	l.released++
	return nil
}

type dispatchFixture struct {
	payments *fakePayments
	payables *fakePayables
	item     *fakePayable
	mail     *mocks.MockProvider
	files    memFiles
	locker   fulfillmentdomain.Locker
	capBytes int64
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	item := &fakePayable{delivery: payabledomain.Delivery{Mode: payabledomain.DeliveryServiceMail}}
	return &dispatchFixture{
		payments: &fakePayments{records: map[string]*paymentdomain.PaymentRecord{
			"PAY-OK": {
				ID:            1,
				Reference:     "PAY-OK",
				PayableType:   payabledomain.TypeFormation,
				PayableID:     42,
				Amount:        15000,
				Currency:      "XOF",
				Status:        paymentdomain.StatusSucceeded,
				CustomerName:  "Awa Diop",
				CustomerEmail: "awa@example.com",
			},
		}},
		payables: &fakePayables{items: map[int64]payabledomain.Payable{42: item}},
		item:     item,
		mail:     mocks.NewMockProvider(ctrl),
		files:    memFiles{},
		capBytes: 100,
	}
}

func (f *dispatchFixture) dispatcher() *Dispatcher {
	return NewDispatcher(Params{
		Cfg:      config.Config{Fulfillment: config.FulfillmentConfig{AttachmentCap: f.capBytes}},
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)),
		Payments: f.payments,
		Payables: f.payables,
		Files:    f.files,
		Email:    f.mail,
		Company:  config.NewStaticCompanyConfigHolder(config.CompanyProfile{Name: "Acme Formation"}),
		Locker:   f.locker,
	})
}

func bytesOf(n int) []byte { return make([]byte, n) }

func TestDispatchAttachmentsRespectsCap(t *testing.T) {
	f := newDispatchFixture(t)
	f.files["docs/Module 1.pdf"] = bytesOf(60)
	f.files["docs/Module 2.pdf"] = bytesOf(50)
	f.files["docs/Annexe.pdf"] = bytesOf(40)
	f.item.delivery = payabledomain.Delivery{
		Mode:  payabledomain.DeliveryAttachments,
		Files: []string{"docs/Module 1.pdf", "docs/missing.pdf", "docs/Module 2.pdf", "docs/Annexe.pdf"},
	}

	var sent email.Message
	f.mail.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, msg email.Message) error {
		sent = msg
		return nil
	}).Times(1)

	outcome, err := f.dispatcher().Dispatch(context.Background(), "PAY-OK")
	require.NoError(t, err)

	assert.Equal(t, fulfillmentdomain.OutcomeDispatched, outcome.Status)
	// 60 + 40 lands exactly on the cap; the 50 byte file would have exceeded it.
	assert.Equal(t, []string{"module-1.pdf", "annexe.pdf"}, outcome.Attachments)
	assert.Equal(t, []string{"docs/missing.pdf", "docs/Module 2.pdf"}, outcome.Omitted)

	assert.Equal(t, []string{"awa@example.com"}, sent.To)
	assert.Equal(t, email.TemplateDeliveryAttachments, sent.Template)
	require.Len(t, sent.Attachments, 2)
	assert.Equal(t, "application/pdf", sent.Attachments[0].ContentType)
	assert.Equal(t, "Acme Formation", sent.Data["company_name"])

	require.NotNil(t, f.item.deliveredAt)
	assert.Equal(t, payabledomain.DeliveryPayload{
		"mode":        "attachments",
		"attachments": []string{"module-1.pdf", "annexe.pdf"},
		"links":       []string{},
	}, f.item.payload)
	assert.Equal(t, []string{paymentdomain.EventTypeFulfillmentDispatched}, f.payments.eventTypes())
}

func TestDispatchFileOverCapAlone(t *testing.T) {
	f := newDispatchFixture(t)
	f.files["big.zip"] = bytesOf(101)
	f.item.delivery = payabledomain.Delivery{Mode: payabledomain.DeliveryAttachments, Files: []string{"big.zip"}}

	f.mail.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, msg email.Message) error {
		assert.Empty(t, msg.Attachments)
		assert.Equal(t, true, msg.Data["omitted"])
		return nil
	})

	outcome, err := f.dispatcher().Dispatch(context.Background(), "PAY-OK")
	require.NoError(t, err)
	assert.Empty(t, outcome.Attachments)
	assert.Equal(t, []string{"big.zip"}, outcome.Omitted)
	assert.Equal(t, []string{}, f.item.payload["attachments"])
}

func TestDispatchServiceMail(t *testing.T) {
	f := newDispatchFixture(t)
	f.mail.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, msg email.Message) error {
		assert.Equal(t, email.TemplateDeliveryService, msg.Template)
		assert.Empty(t, msg.Attachments)
		assert.Equal(t, "Formation Go avancé", msg.Data["label"])
		return nil
	})

	outcome, err := f.dispatcher().Dispatch(context.Background(), "PAY-OK")
	require.NoError(t, err)
	assert.Equal(t, "service_mail", outcome.Mode)
	assert.Equal(t, payabledomain.ServiceMailPayload(), f.item.payload)
}

func TestDispatchTwiceSendsOnce(t *testing.T) {
	f := newDispatchFixture(t)
	f.mail.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	d := f.dispatcher()
	_, err := d.Dispatch(context.Background(), "PAY-OK")
	require.NoError(t, err)

	outcome, err := d.Dispatch(context.Background(), "PAY-OK")
	require.NoError(t, err)
	assert.Equal(t, fulfillmentdomain.OutcomeSkipped, outcome.Status)
	assert.Equal(t, fulfillmentdomain.ReasonAlreadyDelivered, outcome.Reason)
	assert.Equal(t, []string{
		paymentdomain.EventTypeFulfillmentDispatched,
		paymentdomain.EventTypeFulfillmentSkipped,
	}, f.payments.eventTypes())
}

func TestDispatchIgnoresUnpaidAndUnknown(t *testing.T) {
	f := newDispatchFixture(t)
	f.payments.records["PAY-OK"].Status = paymentdomain.StatusProcessing

	d := f.dispatcher()
	outcome, err := d.Dispatch(context.Background(), "PAY-OK")
	require.NoError(t, err)
	assert.Equal(t, fulfillmentdomain.OutcomeIgnored, outcome.Status)
	assert.Equal(t, fulfillmentdomain.ReasonNotSucceeded, outcome.Reason)

	outcome, err = d.Dispatch(context.Background(), "PAY-NOPE")
	require.NoError(t, err)
	assert.Equal(t, fulfillmentdomain.ReasonPaymentNotFound, outcome.Reason)

	_, err = d.Dispatch(context.Background(), " ")
	assert.ErrorIs(t, err, fulfillmentdomain.ErrEmptyReference)

	assert.Empty(t, f.payments.eventTypes())
	assert.Nil(t, f.item.deliveredAt)
}

func TestDispatchSkipsWithoutSending(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(f *dispatchFixture)
		reason string
	}{
		{
			name:   "payable missing",
			mutate: func(f *dispatchFixture) { f.payables.items = map[int64]payabledomain.Payable{} },
			reason: fulfillmentdomain.ReasonPayableNotFound,
		},
		{
			name:   "payable type unregistered",
			mutate: func(f *dispatchFixture) { f.payables.err = payabledomain.ErrUnregisteredPayable },
			reason: fulfillmentdomain.ReasonUnregisteredPayable,
		},
		{
			name: "already delivered",
			mutate: func(f *dispatchFixture) {
				at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
				f.item.deliveredAt = &at
				f.item.deliveredBy = map[string]bool{"PAY-OK": true}
			},
			reason: fulfillmentdomain.ReasonAlreadyDelivered,
		},
		{
			name: "payable delivered for another payment",
			mutate: func(f *dispatchFixture) {
				at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
				f.item.deliveredAt = &at
				f.item.deliveredBy = map[string]bool{"PAY-EARLIER": true}
			},
			reason: fulfillmentdomain.ReasonDuplicatePayment,
		},
		{
			name:   "no recipient",
			mutate: func(f *dispatchFixture) { f.payments.records["PAY-OK"].CustomerEmail = "" },
			reason: fulfillmentdomain.ReasonNoRecipient,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newDispatchFixture(t)
			tc.mutate(f)

			outcome, err := f.dispatcher().Dispatch(context.Background(), "PAY-OK")
			require.NoError(t, err)
			assert.Equal(t, fulfillmentdomain.OutcomeSkipped, outcome.Status)
			assert.Equal(t, tc.reason, outcome.Reason)
			require.Len(t, f.payments.events, 1)
			assert.Equal(t, paymentdomain.EventTypeFulfillmentSkipped, f.payments.events[0].EventType)
			assert.Equal(t, tc.reason, f.payments.events[0].Payload["reason"])
		})
	}
}

func TestDispatchSendFailureIsRetryable(t *testing.T) {
	f := newDispatchFixture(t)
	f.mail.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

	_, err := f.dispatcher().Dispatch(context.Background(), "PAY-OK")
	require.Error(t, err)
	assert.Nil(t, f.item.deliveredAt)
	assert.Empty(t, f.payments.eventTypes())
}

func TestDispatchHonoursLock(t *testing.T) {
	f := newDispatchFixture(t)
	locker := &fakeLocker{held: true}
	f.locker = locker

	_, err := f.dispatcher().Dispatch(context.Background(), "PAY-OK")
	assert.ErrorIs(t, err, fulfillmentdomain.ErrDispatchInProgress)

	locker.held = false
	f.mail.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
	_, err = f.dispatcher().Dispatch(context.Background(), "PAY-OK")
	require.NoError(t, err)
	assert.Equal(t, 1, locker.released)
}

func TestDispatchSettlesPayableFirst(t *testing.T) {
	f := newDispatchFixture(t)
	f.mail.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)

	_, err := f.dispatcher().Dispatch(context.Background(), "PAY-OK")
	require.NoError(t, err)
	assert.Equal(t, []string{"PAY-OK"}, f.item.settled)
}

func TestDispatchRetriesWhenSettlementFails(t *testing.T) {
	f := newDispatchFixture(t)
	f.item.settleErr = errors.New("database is locked")

	_, err := f.dispatcher().Dispatch(context.Background(), "PAY-OK")
	require.Error(t, err)
	assert.Nil(t, f.item.deliveredAt)
	assert.Empty(t, f.payments.eventTypes())
}

func TestDispatchRenamesCollidingAttachments(t *testing.T) {
	f := newDispatchFixture(t)
	f.files["a/guide.pdf"] = bytesOf(10)
	f.files["b/guide.pdf"] = bytesOf(10)
	f.files["c/Guide.PDF"] = bytesOf(10)
	f.item.delivery = payabledomain.Delivery{
		Mode:  payabledomain.DeliveryAttachments,
		Files: []string{"a/guide.pdf", "b/guide.pdf", "c/Guide.PDF"},
	}

	var sent email.Message
	f.mail.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, msg email.Message) error {
		sent = msg
		return nil
	})

	outcome, err := f.dispatcher().Dispatch(context.Background(), "PAY-OK")
	require.NoError(t, err)
	assert.Equal(t, []string{"guide.pdf", "guide-2.pdf", "guide-3.pdf"}, outcome.Attachments)
	require.Len(t, sent.Attachments, 3)
	assert.Equal(t, "guide-3.pdf", sent.Attachments[2].Filename)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "guide-complet-v2.pdf", DisplayName("docs/Guide Complet (v2).PDF"))
	assert.Equal(t, "syllabus.pdf", DisplayName(`formations\syllabus.pdf`))
	assert.Equal(t, "document.zip", DisplayName("!!!.zip"))
}
