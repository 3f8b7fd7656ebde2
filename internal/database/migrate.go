package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// Migrate runs the embedded schema migrations for the store's dialect.
//   - If targetVersion < 0, it migrates to the latest version.
//   - If targetVersion == 0, it rolls back all migrations.
//   - If targetVersion > 0, it migrates to the specified version.
func (s *Store) Migrate(targetVersion int, logger *slog.Logger) error {
	var driver migratedb.Driver
	var err error
	switch s.Dialect {
	case Postgres:
		driver, err = postgres.WithInstance(s.DB, &postgres.Config{})
	case SQLite:
		driver, err = sqlite.WithInstance(s.DB, &sqlite.Config{})
	case MySQL:
		driver, err = mysql.WithInstance(s.DB, &mysql.Config{})
	default:
		return fmt.Errorf("unsupported backend: %s", s.Dialect)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s migrate driver: %w", s.Dialect, err)
	}

	sub, err := fs.Sub(migrationsFS, "migrations/"+string(s.Dialect))
	if err != nil {
		return fmt.Errorf("failed to access migrations directory: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// The instance is not closed: closing it would close the shared *sql.DB.
	m, err := migrate.NewWithInstance("iofs", source, string(s.Dialect), driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state at version %d, fix manually or force the version", current)
	}

	switch {
	case targetVersion < 0:
		err = m.Up()
	case targetVersion == 0:
		err = m.Down()
	default:
		err = m.Migrate(uint(targetVersion))
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No migration needed", "backend", s.Dialect, "version", current)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to migrate %s database: %w", s.Dialect, err)
	}

	version, _, _ := m.Version()
	logger.Info("Database migrated", "backend", s.Dialect, "from", current, "to", version)
	return nil
}
