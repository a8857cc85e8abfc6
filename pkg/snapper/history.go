package snapper

import (
	"context"
	"log/slog"
	"time"

	"github.com/elee1766/btrsnap/pkg/config"
	"github.com/elee1766/btrsnap/pkg/db"
	"github.com/elee1766/btrsnap/pkg/db/queries"
	"go.uber.org/fx"
)

// History records runs and what they did to each snapshot.
type History interface {
	Begin(run *queries.Run) error
	Record(event *queries.SnapshotEvent) error
	Finish(runID string, at time.Time, runErr error) error
}

type dbHistory struct {
	db *db.DB
}

// NewDBHistory records into the history database.
func NewDBHistory(d *db.DB) History {
	return &dbHistory{db: d}
}

func (h *dbHistory) Begin(run *queries.Run) error {
	return queries.InsertRun(h.db.Conn(), run)
}

func (h *dbHistory) Record(event *queries.SnapshotEvent) error {
	return queries.InsertEvent(h.db.Conn(), event)
}

func (h *dbHistory) Finish(runID string, at time.Time, runErr error) error {
	return queries.FinishRun(h.db.Conn(), runID, at, runErr)
}

// NopHistory discards everything.
type NopHistory struct{}

func (NopHistory) Begin(*queries.Run) error { return nil }

func (NopHistory) Record(*queries.SnapshotEvent) error { return nil }

func (NopHistory) Finish(string, time.Time, error) error { return nil }

// NewHistory opens the history database when history is enabled. A database
// that cannot be opened only disables recording; snapshots are still taken.
func NewHistory(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) History {
	if !cfg.History {
		return NopHistory{}
	}

	d, err := db.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Warn("history disabled, failed to open database", "path", cfg.DBPath, "error", err)
		return NopHistory{}
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return d.Close()
		},
	})

	return NewDBHistory(d)
}
