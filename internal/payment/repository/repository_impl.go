package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paysettle/internal/payment/domain"
	"github.com/smallbiznis/paysettle/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const recordColumns = `id, reference, session_id, payable_type, payable_id, amount, currency, channel,
	status, customer_name, customer_email, customer_phone, initialized_at, paid_at, cancelled_at,
	expires_at, notification_count, last_notified_at, metadata, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, record *domain.PaymentRecord) error {
	return conn.WithContext(ctx).Create(record).Error
}

func (r *repo) FindByReference(ctx context.Context, conn *gorm.DB, reference string, forUpdate bool) (*domain.PaymentRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM payment_records
		WHERE reference = ?
		LIMIT 1`
	if forUpdate && db.SupportsRowLocks(conn) {
		query += " FOR UPDATE"
	}
	return scanRecord(conn.WithContext(ctx).Raw(query, reference))
}

func (r *repo) FindBySession(ctx context.Context, conn *gorm.DB, sessionID string) (*domain.PaymentRecord, error) {
	return scanRecord(conn.WithContext(ctx).Raw(
		`SELECT `+recordColumns+`
		FROM payment_records
		WHERE session_id = ?
		LIMIT 1`,
		sessionID,
	))
}

func scanRecord(stmt *gorm.DB) (*domain.PaymentRecord, error) {
	var record domain.PaymentRecord
	if err := stmt.Scan(&record).Error; err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

// IncrementNotification bumps the callback counter. On row-locking databases
// the UPDATE holds the row lock until the surrounding transaction ends.
func (r *repo) IncrementNotification(ctx context.Context, conn *gorm.DB, reference string, at time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payment_records
		SET notification_count = notification_count + 1,
			last_notified_at = ?,
			updated_at = ?
		WHERE reference = ?`,
		at,
		at,
		reference,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetSession(ctx context.Context, conn *gorm.DB, id snowflake.ID, sessionID string, at time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payment_records
		SET session_id = ?,
			status = ?,
			initialized_at = COALESCE(initialized_at, ?),
			updated_at = ?
		WHERE id = ? AND status = ?`,
		sessionID,
		domain.StatusInitiated,
		at,
		at,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Transition writes record.Status only while the stored status still equals from.
func (r *repo) Transition(ctx context.Context, conn *gorm.DB, record *domain.PaymentRecord, from domain.Status, at time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payment_records
		SET status = ?,
			channel = ?,
			paid_at = COALESCE(paid_at, ?),
			cancelled_at = COALESCE(cancelled_at, ?),
			metadata = ?,
			updated_at = ?
		WHERE id = ? AND status = ?`,
		record.Status,
		record.Channel,
		record.PaidAt,
		record.CancelledAt,
		record.Metadata,
		at,
		record.ID,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Expire(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payment_records
		SET status = ?, updated_at = ?
		WHERE id = ?
			AND status IN (?, ?)
			AND expires_at IS NOT NULL
			AND expires_at <= ?`,
		domain.StatusExpired,
		at,
		id,
		domain.StatusPending,
		domain.StatusInitiated,
		at,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListExpirable(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]string, error) {
	var refs []string
	err := conn.WithContext(ctx).Raw(
		`SELECT reference
		FROM payment_records
		WHERE status IN (?, ?)
			AND expires_at IS NOT NULL
			AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?`,
		domain.StatusPending,
		domain.StatusInitiated,
		now,
		limit,
	).Scan(&refs).Error
	return refs, err
}

// ListUndelivered returns succeeded payments that have not been dispatched,
// skipped or failed completion, and have no job in flight or given up on.
func (r *repo) ListUndelivered(ctx context.Context, conn *gorm.DB, paidBefore time.Time, limit int) ([]string, error) {
	var refs []string
	err := conn.WithContext(ctx).Raw(
		`SELECT p.reference
		FROM payment_records p
		WHERE p.status = ?
			AND p.paid_at IS NOT NULL
			AND p.paid_at <= ?
			AND NOT EXISTS (
				SELECT 1 FROM payment_events e
				WHERE e.payment_id = p.id
					AND e.event_type IN (?, ?, ?)
			)
			AND NOT EXISTS (
				SELECT 1 FROM fulfillment_jobs j
				WHERE j.reference = p.reference
					AND j.status IN ('queued', 'running', 'failed')
			)
		ORDER BY p.paid_at ASC
		LIMIT ?`,
		domain.StatusSucceeded,
		paidBefore,
		domain.EventTypeFulfillmentDispatched,
		domain.EventTypeFulfillmentSkipped,
		domain.EventTypeCompletionFailed,
		limit,
	).Scan(&refs).Error
	return refs, err
}

func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.PaymentEvent) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payment_events (payment_id, reference, event_type, payload, origin_ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.PaymentID,
		event.Reference,
		event.EventType,
		event.Payload,
		event.OriginIP,
		event.CreatedAt,
	).Error
}

// ListEvents returns the events attached to one payment. Orphan rows that only
// claim its reference, such as malformed callbacks, are left out.
func (r *repo) ListEvents(ctx context.Context, conn *gorm.DB, paymentID snowflake.ID, afterID int64, limit int) ([]domain.PaymentEvent, error) {
	var events []domain.PaymentEvent
	err := conn.WithContext(ctx).Raw(
		`SELECT id, payment_id, reference, event_type, payload, origin_ip, created_at
		FROM payment_events
		WHERE payment_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?`,
		paymentID,
		afterID,
		limit,
	).Scan(&events).Error
	return events, err
}
