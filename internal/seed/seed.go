package seed

import (
	"context"
	"errors"
	"time"

	catalogdomain "github.com/smallbiznis/paysettle/internal/catalog/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Demo catalog rows use fixed ids so repeated boots stay idempotent.
const (
	DemoServiceRequestID = 1001
	DemoSubscriptionID   = 2001
	DemoFormationID      = 3001
	DemoProductID        = 4001
	DemoShopPurchaseID   = 4101
)

// EnsureDemoCatalog inserts one payable of every kind for local testing and
// reports whether anything was written.
func EnsureDemoCatalog(db *gorm.DB, now time.Time) (bool, error) {
	if db == nil {
		return false, errors.New("seed database handle is required")
	}
	now = now.UTC()

	var written int64
	ctx := context.Background()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows := []any{
			&catalogdomain.ServiceRequest{
				ID:          DemoServiceRequestID,
				Category:    "web_development",
				Offering:    "website_redesign",
				Description: "Landing page refresh with contact form",
				Amount:      150000,
				Currency:    "XOF",
				Settlement:  catalogdomain.Settlement{PaymentStatus: catalogdomain.PaymentStatusUnpaid},
				CreatedAt:   now,
				UpdatedAt:   now,
			},
			&catalogdomain.Subscription{
				ID:            DemoSubscriptionID,
				Plan:          "Pro",
				BillingPeriod: catalogdomain.BillingMonthly,
				Amount:        25000,
				Currency:      "XOF",
				Settlement:    catalogdomain.Settlement{PaymentStatus: catalogdomain.PaymentStatusUnpaid},
				CreatedAt:     now,
				UpdatedAt:     now,
			},
			&catalogdomain.TrainingRegistration{
				ID:         DemoFormationID,
				Title:      "Go for backend engineers",
				Level:      "intermediate",
				Duration:   "3 days",
				Modules:    catalogdomain.StringList{"concurrency", "testing", "observability"},
				Files:      catalogdomain.StringList{"formations/go/slides.pdf", "formations/go/labs.zip"},
				Amount:     90000,
				Currency:   "XOF",
				Settlement: catalogdomain.Settlement{PaymentStatus: catalogdomain.PaymentStatusUnpaid},
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			&catalogdomain.ShopProduct{
				ID:          DemoProductID,
				Name:        "Invoice templates pack",
				SKU:         "TPL-INV-01",
				Category:    "templates",
				Description: "Twelve editable invoice layouts",
				Digital:     true,
				Files:       catalogdomain.StringList{"shop/invoice-templates.zip"},
				Price:       5000,
				Currency:    "XOF",
				CreatedAt:   now,
				UpdatedAt:   now,
			},
			&catalogdomain.ShopPurchase{
				ID:         DemoShopPurchaseID,
				ProductID:  DemoProductID,
				Quantity:   1,
				Amount:     5000,
				Currency:   "XOF",
				Settlement: catalogdomain.Settlement{PaymentStatus: catalogdomain.PaymentStatusUnpaid},
				CreatedAt:  now,
				UpdatedAt:  now,
			},
		}
		for _, row := range rows {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
			if res.Error != nil {
				return res.Error
			}
			written += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return written > 0, nil
}
