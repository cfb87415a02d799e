package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	catalogdomain "github.com/smallbiznis/paysettle/internal/catalog/domain"
	fulfillmentdomain "github.com/smallbiznis/paysettle/internal/fulfillment/domain"
	paymentdomain "github.com/smallbiznis/paysettle/internal/payment/domain"
	"gorm.io/gorm"
)

// Run brings the schema up to date. Postgres applies the embedded SQL files;
// other dialects are development setups and use AutoMigrate on the models.
func Run(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// closing the migrator would close the shared *sql.DB

	return nil
}

func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&paymentdomain.PaymentRecord{},
		&paymentdomain.PaymentEvent{},
		&fulfillmentdomain.Job{},
		&catalogdomain.ServiceRequest{},
		&catalogdomain.Subscription{},
		&catalogdomain.TrainingRegistration{},
		&catalogdomain.ShopProduct{},
		&catalogdomain.ShopPurchase{},
		&catalogdomain.PayableSettlement{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
