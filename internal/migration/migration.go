// Package migration creates the reconciliation schema on startup so a
// fresh database is usable without external tooling.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	recondomain "github.com/smallbiznis/tally/internal/reconciliation/domain"
	txndomain "github.com/smallbiznis/tally/internal/transaction/domain"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// RunMigrations applies every pending SQL migration against postgres.
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

// AutoMigrate builds the schema from the models. The SQL files above are
// postgres-flavored, so mysql and sqlite deployments migrate this way.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	// Migrate each model only when its table is absent. The sqlite driver's
	// migrator cannot re-parse some of the DDL it generates (composite desc
	// indexes plus quoted defaults), so an existing table is left untouched.
	for _, model := range []any{
		&invoicedomain.Invoice{},
		&recondomain.ReconciliationBatch{},
		&txndomain.BankTransaction{},
		&auditdomain.MatchAuditEntry{},
	} {
		if conn.Migrator().HasTable(model) {
			continue
		}
		if err := conn.AutoMigrate(model); err != nil {
			return err
		}
	}
	return nil
}
