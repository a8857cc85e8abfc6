package snapper

import (
	"slices"
	"strings"
	"time"

	"github.com/elee1766/btrsnap/pkg/retention"
)

// Verdict is what a cleaning pass would do with an entry.
type Verdict string

const (
	VerdictNone      Verdict = ""
	VerdictKeepAge   Verdict = "keep (age)"
	VerdictKeepCount Verdict = "keep (count)"
	VerdictDelete    Verdict = "delete"
	VerdictSkip      Verdict = "skip"
)

// Listed is one entry of the snapshot directory.
type Listed struct {
	retention.Entry
	CreatedAt time.Time
	// ParseErr is set for entries that are not snapshots of the target.
	ParseErr error
	Verdict  Verdict
}

// Inspect lists the snapshot directory newest first, followed by entries
// that are not snapshots. With a policy set, each entry carries the verdict
// a cleaning pass would reach now. Nothing is modified or recorded.
func (r *Runner) Inspect(target Target, policy retention.Policy) ([]*Listed, error) {
	entries, err := r.entries(target)
	if err != nil {
		return nil, err
	}

	check := policy
	if !check.IsSet() {
		// Keeping everything yields every parsed snapshot in order.
		all := len(entries)
		check = retention.Policy{KeepCount: &all}
	}
	plan, err := retention.SelectForDeletion(entries, target.Scheme, check, r.now())
	if err != nil {
		return nil, err
	}

	listed := make([]*Listed, 0, len(entries))
	for _, k := range plan.Keep {
		l := &Listed{Entry: retention.Entry{Name: k.Name, Path: k.Path}, CreatedAt: k.CreatedAt}
		if policy.IsSet() {
			l.Verdict = VerdictKeepCount
			if k.Reason == retention.ReasonAge {
				l.Verdict = VerdictKeepAge
			}
		}
		listed = append(listed, l)
	}
	for _, s := range plan.Delete {
		listed = append(listed, &Listed{Entry: retention.Entry{Name: s.Name, Path: s.Path}, CreatedAt: s.CreatedAt, Verdict: VerdictDelete})
	}
	slices.SortStableFunc(listed, func(a, b *Listed) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Name, a.Name)
	})

	for _, s := range plan.Skipped {
		l := &Listed{Entry: s.Entry, ParseErr: s.Err}
		if policy.IsSet() {
			l.Verdict = VerdictSkip
		}
		listed = append(listed, l)
	}
	return listed, nil
}
