// Package retention decides which snapshots a cleaning pass deletes.
//
// A Policy combines a minimum number of most recent snapshots to keep with a
// minimum age window to keep. Snapshots inside the age window are never
// deleted, whatever the count says.
package retention

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"
)

// ErrInvalidPolicy is returned when a policy sets neither constraint or sets a negative one.
var ErrInvalidPolicy = errors.New("invalid retention policy")

// Policy is the pair of retention constraints. A nil field is unset.
type Policy struct {
	// KeepCount is the number of most recent snapshots always kept.
	KeepCount *int
	// KeepSince keeps every snapshot not older than this.
	KeepSince *time.Duration
}

// Validate reports whether the policy can be used for a cleaning pass.
func (p Policy) Validate() error {
	if p.KeepCount == nil && p.KeepSince == nil {
		return fmt.Errorf("%w: at least one of keep count or keep since is required", ErrInvalidPolicy)
	}
	if p.KeepCount != nil && *p.KeepCount < 0 {
		return fmt.Errorf("%w: keep count %d is negative", ErrInvalidPolicy, *p.KeepCount)
	}
	if p.KeepSince != nil && *p.KeepSince < 0 {
		return fmt.Errorf("%w: keep since %s is negative", ErrInvalidPolicy, *p.KeepSince)
	}
	return nil
}

// IsSet is true when at least one constraint is present.
func (p Policy) IsSet() bool {
	return p.KeepCount != nil || p.KeepSince != nil
}

func (p Policy) String() string {
	count, since := "unset", "unset"
	if p.KeepCount != nil {
		count = fmt.Sprint(*p.KeepCount)
	}
	if p.KeepSince != nil {
		since = Duration(*p.KeepSince).String()
	}
	return fmt.Sprintf("keep_count=%s keep_since=%s", count, since)
}

// Entry is a candidate directory entry.
type Entry struct {
	Name string
	Path string
}

// Snapshot is an entry whose name parsed to a creation time.
type Snapshot struct {
	Name      string
	Path      string
	CreatedAt time.Time
}

// Parser recovers the creation time from a snapshot name.
type Parser interface {
	Parse(name string) (time.Time, error)
}

// Reason explains why a snapshot was kept.
type Reason string

const (
	ReasonAge   Reason = "age"
	ReasonCount Reason = "count"
)

// Kept is a retained snapshot together with the rule that retained it.
// Age takes precedence when both rules apply.
type Kept struct {
	Snapshot
	Reason Reason
}

// Skipped is an entry excluded from the pass because its name did not parse.
type Skipped struct {
	Entry
	Err error
}

// Plan is the outcome of SelectForDeletion.
type Plan struct {
	// Keep is ordered newest first.
	Keep []Kept
	// Delete is ordered oldest first, which is the order deletions run in.
	Delete []Snapshot
	// Skipped entries are neither kept nor deleted.
	Skipped []Skipped
}

// SelectForDeletion parses entries, orders them by creation time and marks
// for deletion every snapshot that neither policy constraint protects.
//
// A snapshot is age protected when now-CreatedAt <= KeepSince. The count
// constraint keeps the first KeepCount snapshots of the newest-first list,
// counting age protected snapshots toward that quota. Entries that fail to
// parse are reported in Skipped and never deleted.
func SelectForDeletion(entries []Entry, parser Parser, policy Policy, now time.Time) (*Plan, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	plan := &Plan{}
	snapshots := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		createdAt, err := parser.Parse(e.Name)
		if err != nil {
			plan.Skipped = append(plan.Skipped, Skipped{Entry: e, Err: err})
			continue
		}
		snapshots = append(snapshots, Snapshot{Name: e.Name, Path: e.Path, CreatedAt: createdAt})
	}

	// Newest first; equal times fall back to name so the result never depends on input order.
	sort.Slice(snapshots, func(i, j int) bool {
		a, b := snapshots[i], snapshots[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Name > b.Name
	})

	for i, s := range snapshots {
		switch {
		case policy.KeepSince != nil && now.Sub(s.CreatedAt) <= *policy.KeepSince:
			plan.Keep = append(plan.Keep, Kept{Snapshot: s, Reason: ReasonAge})
		case policy.KeepCount != nil && i < *policy.KeepCount:
			plan.Keep = append(plan.Keep, Kept{Snapshot: s, Reason: ReasonCount})
		default:
			plan.Delete = append(plan.Delete, s)
		}
	}

	// Walked newest first above; deletions go oldest first.
	slices.Reverse(plan.Delete)

	return plan, nil
}
