package db

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/elee1766/btrsnap/pkg/config"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/fx"
)

var Module = fx.Module("db",
	fx.Provide(New),
)

type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens the history database for the fx application and closes it on stop.
func New(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*DB, error) {
	db, err := Open(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			db.logger.Debug("closing database")
			return db.Close()
		},
	})

	return db, nil
}

// Open opens the database at path, creating it and applying migrations as needed.
func Open(path string, logger *slog.Logger) (*DB, error) {
	logger = logger.With("component", "db")

	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	// Ensure db directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, err
	}

	db := &DB{
		conn:   conn,
		logger: logger,
	}

	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Debug("database initialized", "path", path)
	return db, nil
}

// dsn builds a file URI that enables foreign keys on every pooled connection.
func dsn(path string) string {
	u := url.URL{
		Scheme:   "file",
		OmitHost: true,
		Path:     path,
		RawQuery: "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
	}
	return u.String()
}

func (db *DB) init() error {
	db.logger.Debug("initializing database with migrations")
	return db.RunMigrations()
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}
