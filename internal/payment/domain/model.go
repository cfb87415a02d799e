package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInitiated  Status = "initiated"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInitiated, StatusProcessing,
		StatusSucceeded, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// PaymentRecord is the ledger entity. Reference is external-facing; ID never leaves the service.
type PaymentRecord struct {
	ID        snowflake.ID `json:"-" gorm:"primaryKey"`
	Reference string       `json:"reference" gorm:"type:text;not null;uniqueIndex"`
	SessionID *string      `json:"session_id,omitempty" gorm:"type:text;uniqueIndex"`

	PayableType string `json:"payable_type" gorm:"type:text;not null;index:idx_payment_records_payable"`
	PayableID   int64  `json:"payable_id" gorm:"not null;index:idx_payment_records_payable"`

	Amount   int64  `json:"amount" gorm:"not null"`
	Currency string `json:"currency" gorm:"type:char(3);not null"`
	Channel  string `json:"channel,omitempty" gorm:"type:text"`
	Status   Status `json:"status" gorm:"type:text;not null;index"`

	CustomerName  string `json:"customer_name" gorm:"type:text"`
	CustomerEmail string `json:"customer_email" gorm:"type:text"`
	CustomerPhone string `json:"customer_phone" gorm:"type:text"`

	InitializedAt *time.Time `json:"initialized_at,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" gorm:"index"`

	NotificationCount int        `json:"notification_count" gorm:"not null;default:0"`
	LastNotifiedAt    *time.Time `json:"last_notified_at,omitempty"`

	Metadata datatypes.JSONMap `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (PaymentRecord) TableName() string { return "payment_records" }

// Customer is the snapshot taken at creation; it is never updated afterwards.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (r PaymentRecord) Customer() Customer {
	return Customer{Name: r.CustomerName, Email: r.CustomerEmail, Phone: r.CustomerPhone}
}

const (
	EventTypePaymentCreated        = "payment_created"
	EventTypePaymentInitiated      = "payment_initiated"
	EventTypeWebhookReceived       = "webhook_received"
	EventTypeMalformedCallback     = "malformed_callback"
	EventTypeUnknownReference      = "unknown_reference"
	EventTypeSignatureInvalid      = "signature_invalid"
	EventTypeStatusTransition      = "status_transition"
	EventTypeDuplicateNotification = "duplicate_notification"
	EventTypeCompletionFailed      = "completion_failed"
	EventTypeFulfillmentEnqueued   = "fulfillment_enqueued"
	EventTypeFulfillmentDispatched = "fulfillment_dispatched"
	EventTypeFulfillmentSkipped    = "fulfillment_skipped"
)

// PaymentEvent is an append-only audit row. PaymentID is nil for callbacks
// that never resolved to a record; Reference then holds whatever was claimed.
type PaymentEvent struct {
	ID        int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	PaymentID *snowflake.ID  `json:"-" gorm:"index"`
	Reference string         `json:"reference" gorm:"type:text;index"`
	EventType string         `json:"event_type" gorm:"type:text;not null"`
	Payload   datatypes.JSON `json:"payload"`
	OriginIP  string         `json:"origin_ip,omitempty" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
}

func (PaymentEvent) TableName() string { return "payment_events" }

type CreatePaymentRequest struct {
	PayableType string
	PayableID   int64
	Amount      int64
	Currency    string
	Channel     string
	Customer    Customer
	Metadata    map[string]any
	OriginIP    string
}

// CallbackRequest carries an authenticated gateway notification into the ledger.
type CallbackRequest struct {
	Reference string
	Status    Status
	RawStatus string
	Fields    map[string]string
	OriginIP  string
}

type ApplyResult struct {
	Applied  bool
	Record   *PaymentRecord
	Previous Status
	// Conflicting is set when a terminal record receives a different terminal status.
	Conflicting bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *PaymentRecord) error
	FindByReference(ctx context.Context, db *gorm.DB, reference string, forUpdate bool) (*PaymentRecord, error)
	FindBySession(ctx context.Context, db *gorm.DB, sessionID string) (*PaymentRecord, error)
	IncrementNotification(ctx context.Context, db *gorm.DB, reference string, at time.Time) (bool, error)
	SetSession(ctx context.Context, db *gorm.DB, id snowflake.ID, sessionID string, at time.Time) (bool, error)
	Transition(ctx context.Context, db *gorm.DB, record *PaymentRecord, from Status, at time.Time) (bool, error)
	Expire(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	ListExpirable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]string, error)
	ListUndelivered(ctx context.Context, db *gorm.DB, paidBefore time.Time, limit int) ([]string, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *PaymentEvent) error
	ListEvents(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, afterID int64, limit int) ([]PaymentEvent, error)
}

// NewEvent is the input for appending an audit row outside a ledger transition.
type NewEvent struct {
	PaymentID *snowflake.ID
	Reference string
	EventType string
	Payload   map[string]any
	OriginIP  string
}
