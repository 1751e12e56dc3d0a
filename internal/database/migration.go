// internal/database/migration.go
package database

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"link-service/internal/config"
)

// ErrDirtySchema is returned by Up when a previous migration stopped halfway
var ErrDirtySchema = errors.New("schema is dirty, fix it and run -migrate force=<version>")

// Migrator applies the trusted_peers and link_log schema
type Migrator struct {
	db     *DB
	logger *zap.Logger
	config *config.DatabaseConfig
}

// NewMigrator creates a new migrator instance
func NewMigrator(db *DB, logger *zap.Logger, config *config.DatabaseConfig) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger.With(zap.String("component", "migrator")),
		config: config,
	}
}

// Up applies pending migrations. A dirty schema is reported instead of retried.
func (m *Migrator) Up() error {
	return m.with(func(mg *migrate.Migrate) error {
		if _, dirty, err := mg.Version(); err == nil && dirty {
			return ErrDirtySchema
		}
		if err := ignoreNoChange(mg.Up()); err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		m.logVersion(mg, "Database schema up to date")
		return nil
	})
}

// Down rolls back every migration, dropping the link tables
func (m *Migrator) Down() error {
	return m.with(func(mg *migrate.Migrate) error {
		if err := ignoreNoChange(mg.Down()); err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		m.logger.Info("Database schema rolled back")
		return nil
	})
}

// Version returns the applied schema version and whether it is dirty
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	err = m.with(func(mg *migrate.Migrate) error {
		version, dirty, err = mg.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			err = nil
		}
		return err
	})
	return version, dirty, err
}

// Force marks version as applied and clears the dirty flag
func (m *Migrator) Force(version int) error {
	return m.with(func(mg *migrate.Migrate) error {
		if err := mg.Force(version); err != nil {
			return fmt.Errorf("failed to force version %d: %w", version, err)
		}
		m.logger.Warn("Schema version forced", zap.Int("version", version))
		return nil
	})
}

// RunCleanup removes persisted link log rows older than the retention
// window defined by the cleanup_old_records() migration function.
func (m *Migrator) RunCleanup() error {
	var removed int64
	if err := m.db.QueryRow("SELECT cleanup_old_records()").Scan(&removed); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	m.logger.Info("Database cleanup completed", zap.Int64("removed", removed))
	return nil
}

func (m *Migrator) with(fn func(*migrate.Migrate) error) error {
	mg, err := m.open()
	if err != nil {
		return err
	}
	// Close releases the driver connection; the pool stays open.
	defer mg.Close()
	return fn(mg)
}

func (m *Migrator) open() (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(m.db.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	dir := m.config.MigrationsPath
	if dir == "" {
		dir = "migrations"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	mg, err := migrate.NewWithDatabaseInstance("file://"+abs, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return mg, nil
}

func (m *Migrator) logVersion(mg *migrate.Migrate, msg string) {
	version, _, err := mg.Version()
	if err != nil {
		m.logger.Info(msg)
		return
	}
	m.logger.Info(msg, zap.Uint("version", version))
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
