// Package snapper runs the snapshot and clean commands: it names and creates
// snapshots, asks the retention engine what to delete and performs the
// deletions, recording every step in the run history.
package snapper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/elee1766/btrsnap/pkg/btrfs"
	"github.com/elee1766/btrsnap/pkg/db/queries"
	"github.com/elee1766/btrsnap/pkg/naming"
	"github.com/elee1766/btrsnap/pkg/retention"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/multierr"
)

var Module = fx.Module("snapper",
	fx.Provide(
		NewHistory,
		func(logger *slog.Logger, m *btrfs.Manager, h History) *Runner {
			return New(logger, m, h, time.Now)
		},
	),
)

// Filesystem is the subset of the btrfs binding the runner uses.
type Filesystem interface {
	CreateSnapshot(subvolume, destination string, readonly bool) error
	DeleteSubvolume(path string) error
	ListSubvolumeChildren(dir string) ([]string, error)
}

// Target locates a subvolume and its snapshot directory.
type Target struct {
	MountPoint string
	// Subvolume is relative to MountPoint.
	Subvolume string
	// SnapshotPath is relative to the subvolume.
	SnapshotPath string
	Scheme       *naming.Scheme
}

func (t Target) SubvolumeDir() string {
	return filepath.Join(t.MountPoint, t.Subvolume)
}

func (t Target) SnapshotDir() string {
	return filepath.Join(t.SubvolumeDir(), t.SnapshotPath)
}

type SnapshotRequest struct {
	Target
	Readonly bool
	// Policy is optional; when set a cleaning pass follows a successful snapshot.
	Policy retention.Policy
	DryRun bool
}

type CleanRequest struct {
	Target
	Policy retention.Policy
	DryRun bool
}

type SnapshotResult struct {
	RunID  string
	Name   string
	Path   string
	DryRun bool
	// Clean is nil when no policy was requested.
	Clean *CleanResult
}

type CleanResult struct {
	RunID   string
	Plan    *retention.Plan
	Deleted []retention.Snapshot
	Failed  []*DeletionError
	DryRun  bool
}

type Runner struct {
	logger  *slog.Logger
	fs      Filesystem
	history History
	now     func() time.Time
}

func New(logger *slog.Logger, filesystem Filesystem, history History, now func() time.Time) *Runner {
	return &Runner{
		logger:  logger.With("component", "snapper"),
		fs:      filesystem,
		history: history,
		now:     now,
	}
}

// Snapshot creates a snapshot of the target subvolume and, when the request
// carries a policy, cleans the snapshot directory afterwards. A failed
// creation is returned as a *CreationError and no cleaning happens.
func (r *Runner) Snapshot(ctx context.Context, req SnapshotRequest) (*SnapshotResult, error) {
	if req.Policy.IsSet() {
		if err := req.Policy.Validate(); err != nil {
			return nil, err
		}
	}

	now := r.now()
	name := req.Scheme.Name(now)
	result := &SnapshotResult{
		RunID:  uuid.NewString(),
		Name:   name,
		Path:   filepath.Join(req.SnapshotDir(), name),
		DryRun: req.DryRun,
	}
	logger := r.logger.With("run_id", result.RunID, "subvolume", req.SubvolumeDir(), "snapshot", result.Path)

	r.begin(logger, result.RunID, "snapshot", req.Target, req.Policy, req.DryRun, now)

	var runErr error
	defer func() {
		r.finish(logger, result.RunID, runErr)
	}()

	var pending []retention.Entry
	if req.DryRun {
		logger.Info("would create snapshot", "readonly", req.Readonly)
		pending = append(pending, retention.Entry{Name: name, Path: result.Path})
	} else {
		if err := r.fs.CreateSnapshot(req.SubvolumeDir(), result.Path, req.Readonly); err != nil {
			runErr = &CreationError{Subvolume: req.SubvolumeDir(), Destination: result.Path, Err: err}
			logger.Error("failed to create snapshot", "error", err)
			r.record(logger, result.RunID, queries.ActionCreate, name, result.Path, now, err)
			return nil, runErr
		}
		logger.Info("snapshot created", "readonly", req.Readonly)
		r.record(logger, result.RunID, queries.ActionCreate, name, result.Path, now, nil)
	}

	if !req.Policy.IsSet() {
		return result, nil
	}

	result.Clean, runErr = r.clean(ctx, logger, result.RunID, req.Target, req.Policy, req.DryRun, pending)
	return result, runErr
}

// Clean deletes the snapshots in the target's snapshot directory that the
// policy does not retain. Every deletion is attempted; failures are returned
// together as *DeletionError values combined with multierr.
func (r *Runner) Clean(ctx context.Context, req CleanRequest) (*CleanResult, error) {
	if err := req.Policy.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID, "snapshot_dir", req.SnapshotDir())

	r.begin(logger, runID, "clean", req.Target, req.Policy, req.DryRun, r.now())

	result, err := r.clean(ctx, logger, runID, req.Target, req.Policy, req.DryRun, nil)
	r.finish(logger, runID, err)
	return result, err
}

func (r *Runner) clean(ctx context.Context, logger *slog.Logger, runID string, target Target, policy retention.Policy, dryRun bool, pending []retention.Entry) (*CleanResult, error) {
	entries, err := r.entries(target)
	if err != nil {
		return nil, err
	}
	entries = append(entries, pending...)

	now := r.now()
	plan, err := retention.SelectForDeletion(entries, target.Scheme, policy, now)
	if err != nil {
		return nil, err
	}

	logger.Info("retention plan",
		"policy", policy.String(),
		"keep", len(plan.Keep),
		"delete", len(plan.Delete),
		"skipped", len(plan.Skipped),
	)

	for _, s := range plan.Skipped {
		logger.Warn("skipping entry that is not a snapshot of this subvolume", "path", s.Path, "error", s.Err)
		r.record(logger, runID, queries.ActionSkip, s.Name, s.Path, time.Time{}, s.Err)
	}
	for _, k := range plan.Keep {
		logger.Debug("keeping snapshot", "path", k.Path, "created_at", k.CreatedAt, "reason", k.Reason)
	}

	result := &CleanResult{RunID: runID, Plan: plan, DryRun: dryRun}
	var errs error
	for i, s := range plan.Delete {
		if err := ctx.Err(); err != nil {
			logger.Warn("cleaning interrupted", "remaining", len(plan.Delete)-i)
			errs = multierr.Append(errs, err)
			break
		}

		if dryRun {
			logger.Info("would delete snapshot", "path", s.Path, "created_at", s.CreatedAt)
			continue
		}

		if err := r.fs.DeleteSubvolume(s.Path); err != nil {
			logger.Error("failed to delete snapshot", "path", s.Path, "error", err)
			derr := &DeletionError{Path: s.Path, Err: err}
			result.Failed = append(result.Failed, derr)
			errs = multierr.Append(errs, derr)
			r.record(logger, runID, queries.ActionDelete, s.Name, s.Path, s.CreatedAt, err)
			continue
		}

		logger.Info("snapshot deleted", "path", s.Path, "created_at", s.CreatedAt)
		result.Deleted = append(result.Deleted, s)
		r.record(logger, runID, queries.ActionDelete, s.Name, s.Path, s.CreatedAt, nil)
	}

	if len(result.Failed) > 0 {
		logger.Error("cleaning finished with failures", "deleted", len(result.Deleted), "failed", len(result.Failed))
	}
	return result, errs
}

func (r *Runner) entries(target Target) ([]retention.Entry, error) {
	dir := target.SnapshotDir()
	children, err := r.fs.ListSubvolumeChildren(dir)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("snapshot directory does not exist", "path", dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list snapshots in %s: %w", dir, err)
	}

	entries := make([]retention.Entry, 0, len(children))
	for _, path := range children {
		entries = append(entries, retention.Entry{Name: filepath.Base(path), Path: path})
	}
	return entries, nil
}

func (r *Runner) begin(logger *slog.Logger, runID, command string, target Target, policy retention.Policy, dryRun bool, at time.Time) {
	run := &queries.Run{
		ID:          runID,
		Command:     command,
		Subvolume:   target.SubvolumeDir(),
		SnapshotDir: target.SnapshotDir(),
		DryRun:      dryRun,
		StartedAt:   at,
	}
	if policy.IsSet() {
		run.Policy = sql.NullString{String: policy.String(), Valid: true}
	}
	if err := r.history.Begin(run); err != nil {
		logger.Warn("failed to record run", "error", err)
	}
}

func (r *Runner) record(logger *slog.Logger, runID, action, name, path string, snapshotTime time.Time, eventErr error) {
	event := &queries.SnapshotEvent{
		RunID:  runID,
		Action: action,
		Name:   name,
		Path:   path,
		At:     r.now(),
	}
	if !snapshotTime.IsZero() {
		event.SnapshotTime = sql.NullTime{Time: snapshotTime, Valid: true}
	}
	if eventErr != nil {
		event.Error = sql.NullString{String: eventErr.Error(), Valid: true}
	}
	if err := r.history.Record(event); err != nil {
		logger.Warn("failed to record event", "action", action, "path", path, "error", err)
	}
}

func (r *Runner) finish(logger *slog.Logger, runID string, runErr error) {
	if err := r.history.Finish(runID, r.now(), runErr); err != nil {
		logger.Warn("failed to record run result", "error", err)
	}
}
