package db

import (
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations runs all pending migrations using goose
func (db *DB) RunMigrations() error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	if err := goose.Up(db.conn, "migrations"); err != nil {
		return err
	}

	version, err := db.GetMigrationVersion()
	if err != nil {
		return err
	}
	db.logger.Debug("database schema up to date", "version", version)
	return nil
}

// GetMigrationVersion returns the current migration version
func (db *DB) GetMigrationVersion() (int64, error) {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, err
	}

	return goose.GetDBVersion(db.conn)
}
