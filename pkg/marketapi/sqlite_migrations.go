package marketapi

import (
	"database/sql"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// DBMigrationsPath is a migrate source URL, e.g. file://db/migrations
	DBMigrationsPath string
	DBPath           string
}

// EnsureMigrations brings the store's schema up to date.
func EnsureMigrations(cfg *Config) error {
	sqliteDb, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(sqliteDb, &sqlite3.Config{})
	if err != nil {
		sqliteDb.Close()
		return err
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.DBMigrationsPath, cfg.DBPath, driver)
	if err != nil {
		sqliteDb.Close()
		return err
	}
	log.Info().Str("path", cfg.DBPath).Msg("bringing up migration")
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		m.Close()
		return err
	}
	e1, e2 := m.Close()
	log.Err(e1).Msg("close-source")
	log.Err(e2).Msg("close-database")
	return nil
}
