package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/paysettle/internal/catalog/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

var settledTables = map[string]bool{
	"service_requests":       true,
	"subscriptions":          true,
	"training_registrations": true,
	"shop_purchases":         true,
}

func (r *repo) FindServiceRequest(ctx context.Context, db *gorm.DB, id int64) (*domain.ServiceRequest, error) {
	var row domain.ServiceRequest
	if err := db.WithContext(ctx).Raw(`SELECT * FROM service_requests WHERE id = ? LIMIT 1`, id).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) FindSubscription(ctx context.Context, db *gorm.DB, id int64) (*domain.Subscription, error) {
	var row domain.Subscription
	if err := db.WithContext(ctx).Raw(`SELECT * FROM subscriptions WHERE id = ? LIMIT 1`, id).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) FindTrainingRegistration(ctx context.Context, db *gorm.DB, id int64) (*domain.TrainingRegistration, error) {
	var row domain.TrainingRegistration
	if err := db.WithContext(ctx).Raw(`SELECT * FROM training_registrations WHERE id = ? LIMIT 1`, id).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) FindShopPurchase(ctx context.Context, db *gorm.DB, id int64) (*domain.ShopPurchase, error) {
	var row domain.ShopPurchase
	if err := db.WithContext(ctx).Raw(`SELECT * FROM shop_purchases WHERE id = ? LIMIT 1`, id).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) FindShopProduct(ctx context.Context, db *gorm.DB, id int64) (*domain.ShopProduct, error) {
	var row domain.ShopProduct
	if err := db.WithContext(ctx).Raw(`SELECT * FROM shop_products WHERE id = ? LIMIT 1`, id).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

// MarkPaid keeps the first paid_at when called again.
func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, table string, id int64, at time.Time) (bool, error) {
	if !settledTables[table] {
		return false, fmt.Errorf("mark paid: unknown table %q", table)
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE `+table+`
		SET payment_status = ?, paid_at = COALESCE(paid_at, ?), updated_at = ?
		WHERE id = ? AND payment_status <> ?`,
		domain.PaymentStatusPaid, at, at, id, domain.PaymentStatusPaid,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ExtendSubscription(ctx context.Context, db *gorm.DB, id int64, activeUntil, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET active_until = ?, updated_at = ? WHERE id = ?`,
		activeUntil, at, id,
	).Error
}

// MarkDelivered only writes a row whose delivered_at is still empty.
func (r *repo) MarkDelivered(ctx context.Context, db *gorm.DB, table string, id int64, at time.Time, payload datatypes.JSONMap) (bool, error) {
	if !settledTables[table] {
		return false, fmt.Errorf("mark delivered: unknown table %q", table)
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE `+table+`
		SET delivered_at = ?, delivered_payload = ?, updated_at = ?
		WHERE id = ? AND delivered_at IS NULL`,
		at, payload, at, id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// OverwriteDelivered keeps the latest delivery on rows that are paid more than once.
func (r *repo) OverwriteDelivered(ctx context.Context, db *gorm.DB, table string, id int64, at time.Time, payload datatypes.JSONMap) error {
	if !settledTables[table] {
		return fmt.Errorf("overwrite delivered: unknown table %q", table)
	}
	return db.WithContext(ctx).Exec(
		`UPDATE `+table+`
		SET delivered_at = ?, delivered_payload = ?, updated_at = ?
		WHERE id = ?`,
		at, payload, at, id,
	).Error
}

func (r *repo) InsertSettlement(ctx context.Context, db *gorm.DB, settlement *domain.PayableSettlement) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(settlement)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindSettlement(ctx context.Context, db *gorm.DB, reference string) (*domain.PayableSettlement, error) {
	var row domain.PayableSettlement
	if err := db.WithContext(ctx).Raw(
		`SELECT * FROM payable_settlements WHERE reference = ? LIMIT 1`,
		reference,
	).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.Reference == "" {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) MarkSettlementDelivered(ctx context.Context, db *gorm.DB, reference string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payable_settlements
		SET delivered_at = ?
		WHERE reference = ? AND delivered_at IS NULL`,
		at, reference,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
