package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate brings the schema up to date. Safe to call on every run.
//
// Migrations run on a dedicated connection pool that is closed afterwards, so the
// store's own pool is never handed to the migration driver.
func (s *Store) Migrate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := iofs.New(migrationsFS, "migrations/"+s.driver)
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	var drv database.Driver
	switch s.driver {
	case DriverPostgres:
		drv, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		drv, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("create %s migration driver: %w", s.driver, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.driver, drv)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			s.logger.Warn("Closing migration driver failed", "source_error", srcErr, "db_error", dbErr)
		}
	}()

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		s.logger.Debug("Schema up to date")
		return nil
	case err != nil:
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, _, _ := m.Version()
	s.logger.Info("Schema migrated", "version", version)
	return nil
}
