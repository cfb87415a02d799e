package testing

import (
	"context"
	"time"

	"github.com/smallbiznis/paysettle/internal/clock"
	paymentdomain "github.com/smallbiznis/paysettle/internal/payment/domain"
	"gorm.io/gorm"
)

// TimeAccelerator rewrites payment deadlines so scheduler jobs can be
// exercised without waiting.
type TimeAccelerator struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewTimeAccelerator(db *gorm.DB, clk clock.Clock) *TimeAccelerator {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &TimeAccelerator{db: db, clock: clk}
}

// ExpireNow moves the deadline of an open payment one minute into the past.
func (ta *TimeAccelerator) ExpireNow(ctx context.Context, reference string) error {
	now := ta.clock.Now().UTC()
	return ta.db.WithContext(ctx).Exec(
		`UPDATE payment_records
		 SET expires_at = ?, updated_at = ?
		 WHERE reference = ? AND status IN (?, ?)`,
		now.Add(-1*time.Minute),
		now,
		reference,
		paymentdomain.StatusPending,
		paymentdomain.StatusInitiated,
	).Error
}

// ExpireAllOpen does the same for every pending or initiated payment.
func (ta *TimeAccelerator) ExpireAllOpen(ctx context.Context) (int64, error) {
	now := ta.clock.Now().UTC()
	result := ta.db.WithContext(ctx).Exec(
		`UPDATE payment_records
		 SET expires_at = ?, updated_at = ?
		 WHERE status IN (?, ?) AND (expires_at IS NULL OR expires_at > ?)`,
		now.Add(-1*time.Minute),
		now,
		paymentdomain.StatusPending,
		paymentdomain.StatusInitiated,
		now,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// BackdatePaid pushes paid_at back by d so recovery thresholds are met.
func (ta *TimeAccelerator) BackdatePaid(ctx context.Context, reference string, d time.Duration) error {
	var record struct {
		PaidAt *time.Time
	}
	err := ta.db.WithContext(ctx).Raw(
		`SELECT paid_at FROM payment_records WHERE reference = ?`,
		reference,
	).Scan(&record).Error
	if err != nil || record.PaidAt == nil {
		return err
	}
	return ta.db.WithContext(ctx).Exec(
		`UPDATE payment_records SET paid_at = ? WHERE reference = ?`,
		record.PaidAt.Add(-d),
		reference,
	).Error
}

// PaymentInfo shows where a payment stands relative to its deadline.
type PaymentInfo struct {
	Reference      string
	Status         paymentdomain.Status
	ExpiresAt      *time.Time
	PaidAt         *time.Time
	TimeUntilLapse time.Duration
	CanExpire      bool
}

func (ta *TimeAccelerator) GetPaymentInfo(ctx context.Context, reference string) (*PaymentInfo, error) {
	var row struct {
		Reference string
		Status    paymentdomain.Status
		ExpiresAt *time.Time
		PaidAt    *time.Time
	}
	err := ta.db.WithContext(ctx).Raw(
		`SELECT reference, status, expires_at, paid_at
		 FROM payment_records
		 WHERE reference = ?`,
		reference,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}

	now := ta.clock.Now().UTC()
	info := &PaymentInfo{
		Reference: row.Reference,
		Status:    row.Status,
		ExpiresAt: row.ExpiresAt,
		PaidAt:    row.PaidAt,
	}
	if row.ExpiresAt != nil {
		info.TimeUntilLapse = row.ExpiresAt.Sub(now)
		open := row.Status == paymentdomain.StatusPending || row.Status == paymentdomain.StatusInitiated
		info.CanExpire = open && !now.Before(*row.ExpiresAt)
	}
	return info, nil
}
