package queries

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrAmbiguousRun = errors.New("run id prefix matches more than one run")
)

// Run statuses
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

type Run struct {
	ID          string
	Command     string
	Subvolume   string
	SnapshotDir string
	Policy      sql.NullString
	DryRun      bool
	StartedAt   time.Time
	FinishedAt  sql.NullTime
	Status      string
	Error       sql.NullString
}

func InsertRun(db *sql.DB, r *Run) error {
	_, err := db.Exec(`
		INSERT INTO runs (id, command, subvolume, snapshot_dir, policy, dry_run, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Command, r.Subvolume, r.SnapshotDir, r.Policy, r.DryRun, r.StartedAt.Unix(), RunRunning)
	return err
}

// FinishRun marks a run as finished. A nil runErr means the run succeeded.
func FinishRun(db *sql.DB, id string, finishedAt time.Time, runErr error) error {
	status := RunSucceeded
	var msg sql.NullString
	if runErr != nil {
		status = RunFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := db.Exec(
		"UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?",
		finishedAt.Unix(), status, msg, id,
	)
	return err
}

const runColumns = "id, command, subvolume, snapshot_dir, policy, dry_run, started_at, finished_at, status, error"

func ListRuns(db *sql.DB, limit int) ([]*Run, error) {
	rows, err := db.Query(`
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

// FindRun returns the run whose id is, or starts with, idPrefix.
func FindRun(db *sql.DB, idPrefix string) (*Run, error) {
	if idPrefix == "" {
		return nil, fmt.Errorf("%w: empty id", ErrRunNotFound)
	}
	escaped := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(idPrefix)
	rows, err := db.Query(`
		SELECT `+runColumns+`
		FROM runs
		WHERE id LIKE ? ESCAPE '\'
		LIMIT 2
	`, escaped+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, idPrefix)
	case 1:
		return runs[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousRun, idPrefix)
	}
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		var r Run
		var startedAt int64
		var finishedAt sql.NullInt64
		err := rows.Scan(&r.ID, &r.Command, &r.Subvolume, &r.SnapshotDir, &r.Policy, &r.DryRun, &startedAt, &finishedAt, &r.Status, &r.Error)
		if err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(startedAt, 0)
		if finishedAt.Valid {
			r.FinishedAt = sql.NullTime{Time: time.Unix(finishedAt.Int64, 0), Valid: true}
		}
		runs = append(runs, &r)
	}

	return runs, rows.Err()
}
