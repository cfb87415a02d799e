package payable

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/paysettle/internal/payable/domain"
	paymentdomain "github.com/smallbiznis/paysettle/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubKind struct {
	tag string
}

func (k stubKind) Type() string { return k.tag }

func (k stubKind) Resolve(ctx context.Context, id int64) (domain.Payable, error) {
	if id != 1 {
		return nil, domain.ErrPayableNotFound
	}
	return stubPayable{tag: k.tag}, nil
}

type stubPayable struct {
	tag string
}

func (p stubPayable) Type() string                      { return p.tag }
func (p stubPayable) ID() int64                         { return 1 }
func (p stubPayable) AmountDue() int64                  { return 500 }
func (p stubPayable) Label() string                     { return "stub" }
func (p stubPayable) InvoiceDetails() map[string]string { return nil }
func (p stubPayable) Delivery() domain.Delivery         { return domain.Delivery{Mode: domain.DeliveryServiceMail} }
func (p stubPayable) DeliveredAt() *time.Time           { return nil }
func (p stubPayable) Renewable() bool                   { return false }
func (p stubPayable) Paid() bool                        { return false }
func (p stubPayable) OnPaymentSucceeded(context.Context, paymentdomain.PaymentRecord) error {
	return nil
}
func (p stubPayable) DeliveredFor(context.Context, string) (bool, error) {
	return false, nil
}
func (p stubPayable) MarkDelivered(context.Context, string, time.Time, domain.DeliveryPayload) (bool, error) {
	return true, nil
}

func TestRegistryResolvesRegisteredTags(t *testing.T) {
	registry, err := NewRegistry(stubKind{tag: domain.TypeFormation}, stubKind{tag: " Request "})
	require.NoError(t, err)

	assert.True(t, registry.Has("formation"))
	assert.True(t, registry.Has("REQUEST"))
	assert.False(t, registry.Has(domain.TypeSubscription))
	assert.Equal(t, []string{"formation", "request"}, registry.Types())

	p, err := registry.Resolve(context.Background(), "formation", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.AmountDue())

	_, err = registry.Resolve(context.Background(), "formation", 2)
	assert.ErrorIs(t, err, domain.ErrPayableNotFound)

	_, err = registry.Resolve(context.Background(), "subscription", 1)
	assert.ErrorIs(t, err, domain.ErrUnregisteredPayable)
}

func TestRegistryRejectsTagsOutsideClosedSet(t *testing.T) {
	_, err := NewRegistry(stubKind{tag: "gift_card"})
	assert.ErrorIs(t, err, domain.ErrUnknownPayableType)

	_, err = NewRegistry(stubKind{tag: "formation"}, stubKind{tag: "formation"})
	assert.ErrorIs(t, err, domain.ErrDuplicateKind)
}

func TestNilRegistry(t *testing.T) {
	var registry *Registry
	assert.False(t, registry.Has("formation"))
	_, err := registry.Resolve(context.Background(), "formation", 1)
	assert.ErrorIs(t, err, domain.ErrUnregisteredPayable)
}

func TestDeliveryPayloads(t *testing.T) {
	p := domain.AttachmentsPayload(nil)
	assert.Equal(t, "attachments", p["mode"])
	assert.Equal(t, []string{}, p["attachments"])
	assert.Equal(t, []string{}, p["links"])
	assert.Equal(t, domain.DeliveryPayload{"mode": "service_mail"}, domain.ServiceMailPayload())
}
