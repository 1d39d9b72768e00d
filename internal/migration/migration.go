package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	accountdomain "github.com/smallbiznis/billmirror/internal/account/domain"
	chargedomain "github.com/smallbiznis/billmirror/internal/charge/domain"
	customerdomain "github.com/smallbiznis/billmirror/internal/customer/domain"
	eventdomain "github.com/smallbiznis/billmirror/internal/event/domain"
	invoicedomain "github.com/smallbiznis/billmirror/internal/invoice/domain"
	plandomain "github.com/smallbiznis/billmirror/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/billmirror/internal/subscription/domain"
	transferdomain "github.com/smallbiznis/billmirror/internal/transfer/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded postgres schema.
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
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every mirrored table in dependency order.
func Models() []any {
	return []any{
		&accountdomain.Account{},
		&customerdomain.Customer{},
		&subscriptiondomain.CurrentSubscription{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&chargedomain.Charge{},
		&eventdomain.Event{},
		&eventdomain.EventProcessingException{},
		&transferdomain.Transfer{},
		&transferdomain.TransferChargeFee{},
		&plandomain.Plan{},
	}
}

// AutoMigrate builds the schema from the gorm models. It serves the sqlite and mysql
// dialects and tests, where the postgres migrations do not apply.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	return db.AutoMigrate(Models()...)
}
