package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	logx "easytrack/pkg/logx"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// migratePostgres brings the schema up to date. golang-migrate talks to the
// server through database/sql (lib/pq); queries later use pgxpool.
func migratePostgres(dsn string, log logx.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("storage: migrate: open: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("storage: migrate: driver: %w", err)
	}
	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("storage: migrate: source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("storage: migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: migrate up: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("storage: migrate version: %w", err)
	}
	if dirty {
		return fmt.Errorf("storage: schema version %d is dirty", version)
	}
	log.Info("migrations applied", logx.Int("version", int(version)))
	return nil
}
