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
	auditdomain "github.com/seeklabs/bloxscout/internal/audit/domain"
	ledgerdomain "github.com/seeklabs/bloxscout/internal/ledger/domain"
	paymentdomain "github.com/seeklabs/bloxscout/internal/payment/domain"
	cachedomain "github.com/seeklabs/bloxscout/internal/searchcache/domain"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// RunMigrations applies the embedded schema so the service is usable out of
// the box for local and self-hosted environments. The schema carries the
// ledger CHECK constraints as a second line of defense behind application
// arithmetic.
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

// AutoMigrate derives the schema from the models for dialects the
// versioned migrations do not target. The models carry the unique
// indexes the idempotent inserts conflict against; the CHECK constraints
// exist only on the postgres path.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	return conn.AutoMigrate(
		&ledgerdomain.AccountBalance{},
		&ledgerdomain.Transaction{},
		&cachedomain.Entry{},
		&auditdomain.AuditLog{},
		&paymentdomain.EventRecord{},
	)
}
