// Package database opens per-project SQLite databases and applies the
// embedded schema migrations.
//
// Each project owns exactly one database file (project.db inside the project
// directory). Connections are opened per operation and closed by the caller;
// concurrency control is left to the SQLite engine (WAL + busy timeout), not
// to application-level locks.
package database

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens the SQLite database at dbPath, creating the parent directory
// when missing. The caller is responsible for Close.
func Open(dbPath string) (*sql.DB, error) {
	// Ensure parent directory exists (using stricter permissions)
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize writers at the engine level; readers keep going under WAL.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Migrate applies all pending embedded migrations to db.
// Running it against an already-migrated database is a no-op.
func Migrate(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Note: Don't defer m.Close() because sqlite driver WithInstance doesn't take over DB connection
	// but Close() might affect underlying connection state

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// OpenProject opens and migrates the database for a single project directory.
// Convenience wrapper used by the store and version packages.
func OpenProject(projectDir string) (*sql.DB, error) {
	db, err := Open(filepath.Join(projectDir, "project.db"))
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
