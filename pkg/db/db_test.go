package db

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/elee1766/btrsnap/pkg/db/queries"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := Open(filepath.Join(t.TempDir(), "nested", "btrsnap.db"), logger)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRunsMigrations(t *testing.T) {
	db := openTestDB(t)

	version, err := db.GetMigrationVersion()
	if err != nil {
		t.Fatalf("GetMigrationVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("expected migration version 1, got %d", version)
	}
}

func TestRunHistory(t *testing.T) {
	db := openTestDB(t)
	conn := db.Conn()

	started := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b"} {
		err := queries.InsertRun(conn, &queries.Run{
			ID:          id,
			Command:     "clean",
			Subvolume:   "/mnt/pool/home",
			SnapshotDir: "/mnt/pool/home/.snapshots",
			Policy:      sql.NullString{String: "keep_count=3 keep_since=unset", Valid: true},
			StartedAt:   started.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("InsertRun failed: %v", err)
		}
	}

	events := []*queries.SnapshotEvent{
		{RunID: "run-b", Action: queries.ActionDelete, Name: "home-2024-01-01-000000", Path: "/mnt/pool/home/.snapshots/home-2024-01-01-000000",
			SnapshotTime: sql.NullTime{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Valid: true}, At: started},
		{RunID: "run-b", Action: queries.ActionDelete, Name: "home-2024-01-02-000000", Path: "/mnt/pool/home/.snapshots/home-2024-01-02-000000",
			At: started, Error: sql.NullString{String: "device or resource busy", Valid: true}},
		{RunID: "run-b", Action: queries.ActionSkip, Name: "random_file", Path: "/mnt/pool/home/.snapshots/random_file",
			At: started, Error: sql.NullString{String: "prefix does not match", Valid: true}},
	}
	for _, e := range events {
		if err := queries.InsertEvent(conn, e); err != nil {
			t.Fatalf("InsertEvent failed: %v", err)
		}
	}

	if err := queries.FinishRun(conn, "run-b", started.Add(2*time.Minute), errors.New("1 deletion failed")); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	if err := queries.FinishRun(conn, "run-a", started.Add(time.Minute), nil); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	runs, err := queries.ListRuns(conn, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-b" || runs[0].Status != queries.RunFailed || runs[0].Error.String != "1 deletion failed" {
		t.Errorf("unexpected newest run: %+v", runs[0])
	}
	if runs[1].Status != queries.RunSucceeded || runs[1].Error.Valid || !runs[1].FinishedAt.Valid {
		t.Errorf("unexpected oldest run: %+v", runs[1])
	}

	got, err := queries.ListEvents(conn, "run-b")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if !got[0].SnapshotTime.Valid || got[0].SnapshotTime.Time.Unix() != events[0].SnapshotTime.Time.Unix() {
		t.Errorf("snapshot time not preserved: %+v", got[0].SnapshotTime)
	}
	if got[1].SnapshotTime.Valid {
		t.Error("expected null snapshot time")
	}

	counts, err := queries.CountEvents(conn, "run-b")
	if err != nil {
		t.Fatalf("CountEvents failed: %v", err)
	}
	if counts[queries.ActionDelete] != 1 || counts[queries.CountFailed] != 1 || counts[queries.ActionSkip] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	limited, err := queries.ListRuns(conn, 1)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d runs", len(limited))
	}
}

func TestEventRequiresRun(t *testing.T) {
	db := openTestDB(t)
	err := queries.InsertEvent(db.Conn(), &queries.SnapshotEvent{
		RunID: "missing", Action: queries.ActionCreate, Name: "x", Path: "/x", At: time.Now(),
	})
	if err == nil {
		t.Error("expected foreign key violation")
	}
}

func TestFindRun(t *testing.T) {
	db := openTestDB(t)
	conn := db.Conn()

	started := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"4f1c2a9e-aaaa", "4f1c77b0-bbbb", "90e2d1c3-cccc", "a_b-dddd"} {
		if err := queries.InsertRun(conn, &queries.Run{ID: id, Command: "clean", StartedAt: started}); err != nil {
			t.Fatalf("InsertRun failed: %v", err)
		}
	}

	tests := []struct {
		name    string
		prefix  string
		wantID  string
		wantErr error
	}{
		{"full id", "90e2d1c3-cccc", "90e2d1c3-cccc", nil},
		{"unique prefix", "4f1c2", "4f1c2a9e-aaaa", nil},
		{"ambiguous prefix", "4f1c", "", queries.ErrAmbiguousRun},
		{"no match", "ffff", "", queries.ErrRunNotFound},
		{"empty", "", "", queries.ErrRunNotFound},
		{"underscore is literal", "a_b", "a_b-dddd", nil},
		{"wildcards do not match", "%", "", queries.ErrRunNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := queries.FindRun(conn, tt.prefix)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindRun failed: %v", err)
			}
			if run.ID != tt.wantID {
				t.Errorf("expected run %s, got %s", tt.wantID, run.ID)
			}
		})
	}
}
