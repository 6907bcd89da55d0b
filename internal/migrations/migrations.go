// Package migrations manages the sqlite schema through embedded SQL files.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed queries/*.sql
var Migrations embed.FS

func newMigrator(d *sql.DB) (*migrate.Migrate, database.Driver, error) {
	source, err := iofs.New(Migrations, "queries")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	driver, err := sqlite3.WithInstance(d, &sqlite3.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, driver, nil
}

// MigrateUp applies all pending migrations and reports the resulting schema
// version. Foreign keys are switched on first; the history table relies on
// its cascade.
func MigrateUp(d *sql.DB) (version int, dirty bool, err error) {
	if _, err := d.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return -1, false, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	m, driver, err := newMigrator(d)
	if err != nil {
		return -1, false, err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return -1, false, fmt.Errorf("failed to run migrations: %w", err)
	}

	v, dirty, err := driver.Version()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return v, dirty, nil
}

// MigrateDown rolls the schema all the way back. Used by tests and by
// `fotactl` during development resets, never by the daemon.
func MigrateDown(d *sql.DB) (version int, dirty bool, err error) {
	m, driver, err := newMigrator(d)
	if err != nil {
		return -1, false, err
	}

	if err := m.Down(); err != nil && err != migrate.ErrNoChange {
		return -1, false, fmt.Errorf("failed to run migrations: %w", err)
	}

	v, dirty, err := driver.Version()
	if err != nil {
		// Down to zero leaves no version row behind.
		return 0, false, nil
	}
	return v, dirty, nil
}
