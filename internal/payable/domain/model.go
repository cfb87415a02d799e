package domain

import (
	"context"
	"errors"
	"time"

	paymentdomain "github.com/smallbiznis/paysettle/internal/payment/domain"
)

// The closed set of payable type tags a payment may reference.
const (
	TypeRequest      = "request"
	TypeSubscription = "subscription"
	TypeFormation    = "formation"
	TypeShopPurchase = "shop_purchase"
)

func KnownTypes() []string {
	return []string{TypeRequest, TypeSubscription, TypeFormation, TypeShopPurchase}
}

var (
	ErrUnregisteredPayable = errors.New("unregistered_payable")
	ErrPayableNotFound     = errors.New("payable_not_found")
	ErrUnknownPayableType  = errors.New("unknown_payable_type")
	ErrDuplicateKind       = errors.New("duplicate_payable_kind")
	ErrMissingReference    = errors.New("missing_payment_reference")
)

type DeliveryMode string

const (
	DeliveryAttachments DeliveryMode = "attachments"
	DeliveryServiceMail DeliveryMode = "service_mail"
)

// Delivery describes how a paid payable is fulfilled.
type Delivery struct {
	Mode    DeliveryMode
	// Files are storage-relative paths, in the order they should be attached.
	Files   []string
	Subject string
	Summary map[string]string
}

// Payable is the capability set every purchasable entity exposes.
type Payable interface {
	Type() string
	ID() int64
	AmountDue() int64
	Label() string
	InvoiceDetails() map[string]string

	// OnPaymentSucceeded runs inside the webhook request and again before each
	// dispatch. It must stay cheap: flip flags, never send mail or touch
	// storage. It applies at most once per payment reference.
	OnPaymentSucceeded(ctx context.Context, payment paymentdomain.PaymentRecord) error

	// Renewable payables accept any number of paid payments, each delivered
	// on its own. Others are settled by their first payment.
	Renewable() bool
	Paid() bool

	Delivery() Delivery
	DeliveredAt() *time.Time
	// DeliveredFor reports whether the payment with this reference was delivered.
	DeliveredFor(ctx context.Context, reference string) (bool, error)
	// MarkDelivered records the delivery of one payment; it returns false when
	// another dispatch got there first.
	MarkDelivered(ctx context.Context, reference string, at time.Time, payload DeliveryPayload) (bool, error)
}

// Kind resolves ids of one payable type.
type Kind interface {
	Type() string
	Resolve(ctx context.Context, id int64) (Payable, error)
}

// DeliveryPayload is the snapshot stored as delivered_payload.
type DeliveryPayload map[string]any

func AttachmentsPayload(names []string) DeliveryPayload {
	if names == nil {
		names = []string{}
	}
	return DeliveryPayload{
		"mode":        string(DeliveryAttachments),
		"attachments": names,
		"links":       []string{},
	}
}

func ServiceMailPayload() DeliveryPayload {
	return DeliveryPayload{"mode": string(DeliveryServiceMail)}
}
