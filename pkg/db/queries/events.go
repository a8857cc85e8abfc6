package queries

import (
	"database/sql"
	"time"
)

// Event actions
const (
	ActionCreate = "create"
	ActionDelete = "delete"
	ActionSkip   = "skip"
)

// SnapshotEvent records what a run did, or failed to do, to one snapshot.
type SnapshotEvent struct {
	ID           int64
	RunID        string
	Action       string
	Name         string
	Path         string
	SnapshotTime sql.NullTime
	At           time.Time
	Error        sql.NullString
}

func InsertEvent(db *sql.DB, e *SnapshotEvent) error {
	var snapshotTime sql.NullInt64
	if e.SnapshotTime.Valid {
		snapshotTime = sql.NullInt64{Int64: e.SnapshotTime.Time.Unix(), Valid: true}
	}
	_, err := db.Exec(`
		INSERT INTO snapshot_events (run_id, action, name, path, snapshot_time, at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.Action, e.Name, e.Path, snapshotTime, e.At.Unix(), e.Error)
	return err
}

// ListEvents returns the events of a run in insertion order.
func ListEvents(db *sql.DB, runID string) ([]*SnapshotEvent, error) {
	rows, err := db.Query(`
		SELECT id, run_id, action, name, path, snapshot_time, at, error
		FROM snapshot_events
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*SnapshotEvent
	for rows.Next() {
		var e SnapshotEvent
		var snapshotTime sql.NullInt64
		var at int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Action, &e.Name, &e.Path, &snapshotTime, &at, &e.Error); err != nil {
			return nil, err
		}
		if snapshotTime.Valid {
			e.SnapshotTime = sql.NullTime{Time: time.Unix(snapshotTime.Int64, 0), Valid: true}
		}
		e.At = time.Unix(at, 0)
		events = append(events, &e)
	}

	return events, rows.Err()
}

// CountFailed is the CountEvents key for create and delete events that failed.
const CountFailed = "failed"

// CountEvents returns the number of events per action for a run. Failed
// creates and deletes are counted under CountFailed instead of their action.
func CountEvents(db *sql.DB, runID string) (map[string]int, error) {
	rows, err := db.Query(`
		SELECT CASE WHEN error IS NOT NULL AND action != ? THEN ? ELSE action END AS kind, COUNT(*)
		FROM snapshot_events
		WHERE run_id = ?
		GROUP BY kind
	`, ActionSkip, CountFailed, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		counts[action] = n
	}
	return counts, rows.Err()
}
