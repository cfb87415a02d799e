package domain

import (
	"context"
	"database/sql/driver"
	"strings"
	"time"
	"unicode"

	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

type BillingPeriod string

const (
	BillingMonthly BillingPeriod = "monthly"
	BillingYearly  BillingPeriod = "yearly"
)

// StringList is a text[] column on postgres and an array literal in a text
// column elsewhere.
type StringList pq.StringArray

func (l StringList) Value() (driver.Value, error) {
	return pq.StringArray(l).Value()
}

func (l *StringList) Scan(src any) error {
	return (*pq.StringArray)(l).Scan(src)
}

func (StringList) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// Settlement is the bookkeeping every payable row carries.
type Settlement struct {
	PaymentStatus    PaymentStatus     `gorm:"type:text;not null;default:'unpaid'"`
	PaidAt           *time.Time        `gorm:"column:paid_at"`
	DeliveredAt      *time.Time        `gorm:"column:delivered_at"`
	DeliveredPayload datatypes.JSONMap `gorm:"column:delivered_payload"`
}

// ServiceRequest is a ticket raised through the intake form. Category and
// Offering hold identifiers such as "web_development".
type ServiceRequest struct {
	ID          int64  `gorm:"primaryKey;autoIncrement:false"`
	Category    string `gorm:"type:text;not null"`
	Offering    string `gorm:"type:text;not null"`
	Description string `gorm:"type:text"`
	Amount      int64  `gorm:"not null"`
	Currency    string `gorm:"type:char(3);not null"`
	Settlement  `gorm:"embedded"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ServiceRequest) TableName() string { return "service_requests" }

type Subscription struct {
	ID            int64         `gorm:"primaryKey;autoIncrement:false"`
	Plan          string        `gorm:"type:text;not null"`
	BillingPeriod BillingPeriod `gorm:"type:text;not null"`
	Amount        int64         `gorm:"not null"`
	Currency      string        `gorm:"type:char(3);not null"`
	ActiveUntil   *time.Time
	Settlement    `gorm:"embedded"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Subscription) TableName() string { return "subscriptions" }

// TrainingRegistration is a seat in a formation. Files are the course
// materials mailed once the seat is paid.
type TrainingRegistration struct {
	ID         int64  `gorm:"primaryKey;autoIncrement:false"`
	Title      string `gorm:"type:text;not null"`
	Level      string `gorm:"type:text"`
	Duration   string `gorm:"type:text"`
	Modules    StringList
	Files      StringList
	Amount     int64  `gorm:"not null"`
	Currency   string `gorm:"type:char(3);not null"`
	Settlement `gorm:"embedded"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (TrainingRegistration) TableName() string { return "training_registrations" }

type ShopProduct struct {
	ID          int64  `gorm:"primaryKey;autoIncrement:false"`
	Name        string `gorm:"type:text;not null"`
	SKU         string `gorm:"column:sku;type:text"`
	Category    string `gorm:"type:text"`
	Description string `gorm:"type:text"`
	Digital     bool   `gorm:"not null;default:false"`
	Files       StringList
	Price       int64  `gorm:"not null"`
	Currency    string `gorm:"type:char(3);not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ShopProduct) TableName() string { return "shop_products" }

type ShopPurchase struct {
	ID         int64  `gorm:"primaryKey;autoIncrement:false"`
	ProductID  int64  `gorm:"not null;index"`
	Quantity   int    `gorm:"not null;default:1"`
	Amount     int64  `gorm:"not null"`
	Currency   string `gorm:"type:char(3);not null"`
	Settlement `gorm:"embedded"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (ShopPurchase) TableName() string { return "shop_purchases" }

// PayableSettlement marks one payment as applied to its payable. Reference is
// the payment reference; a second insert for the same payment is a no-op.
type PayableSettlement struct {
	Reference   string     `gorm:"primaryKey;type:text"`
	PayableType string     `gorm:"type:text;not null;index:idx_payable_settlements_payable"`
	PayableID   int64      `gorm:"not null;index:idx_payable_settlements_payable"`
	SettledAt   time.Time  `gorm:"not null"`
	DeliveredAt *time.Time `gorm:"column:delivered_at"`
	CreatedAt   time.Time
}

func (PayableSettlement) TableName() string { return "payable_settlements" }

// Repository reads catalog rows and flips their settlement flags. Mark*
// methods report whether the row changed.
type Repository interface {
	FindServiceRequest(ctx context.Context, db *gorm.DB, id int64) (*ServiceRequest, error)
	FindSubscription(ctx context.Context, db *gorm.DB, id int64) (*Subscription, error)
	FindTrainingRegistration(ctx context.Context, db *gorm.DB, id int64) (*TrainingRegistration, error)
	FindShopPurchase(ctx context.Context, db *gorm.DB, id int64) (*ShopPurchase, error)
	FindShopProduct(ctx context.Context, db *gorm.DB, id int64) (*ShopProduct, error)

	MarkPaid(ctx context.Context, db *gorm.DB, table string, id int64, at time.Time) (bool, error)
	ExtendSubscription(ctx context.Context, db *gorm.DB, id int64, activeUntil, at time.Time) error
	MarkDelivered(ctx context.Context, db *gorm.DB, table string, id int64, at time.Time, payload datatypes.JSONMap) (bool, error)
	OverwriteDelivered(ctx context.Context, db *gorm.DB, table string, id int64, at time.Time, payload datatypes.JSONMap) error

	InsertSettlement(ctx context.Context, db *gorm.DB, settlement *PayableSettlement) (bool, error)
	FindSettlement(ctx context.Context, db *gorm.DB, reference string) (*PayableSettlement, error)
	MarkSettlementDelivered(ctx context.Context, db *gorm.DB, reference string, at time.Time) (bool, error)
}

// SentenceCase turns an identifier like "website_redesign" into "Website redesign".
func SentenceCase(identifier string) string {
	words := strings.FieldsFunc(strings.ToLower(identifier), func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})
	if len(words) == 0 {
		return ""
	}
	out := []rune(strings.Join(words, " "))
	out[0] = unicode.ToUpper(out[0])
	return string(out)
}
