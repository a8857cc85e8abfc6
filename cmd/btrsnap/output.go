package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/elee1766/btrsnap/pkg/btrfs"
	"github.com/elee1766/btrsnap/pkg/db"
	"github.com/elee1766/btrsnap/pkg/db/queries"
	"github.com/elee1766/btrsnap/pkg/snapper"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const timeLayout = "2006-01-02 15:04:05"

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	return t
}

func printSnapshotResult(res *snapper.SnapshotResult) {
	t := newTable()
	if res.DryRun {
		t.SetTitle("Dry run")
	}
	t.AppendRow(table.Row{"Snapshot", res.Name})
	t.AppendRow(table.Row{"Path", res.Path})
	t.Render()

	if res.Clean != nil {
		fmt.Println()
		printCleanResult(res.Clean)
	}
}

func printCleanResult(res *snapper.CleanResult) {
	t := newTable()
	title := "Cleaning"
	if res.DryRun {
		title = "Cleaning (dry run)"
	}
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Snapshot", "Created", "Result"})

	failed := make(map[string]error, len(res.Failed))
	for _, f := range res.Failed {
		failed[f.Path] = f.Err
	}
	deleted := make(map[string]bool, len(res.Deleted))
	for _, d := range res.Deleted {
		deleted[d.Path] = true
	}

	for _, s := range res.Plan.Delete {
		result := "not attempted"
		switch {
		case res.DryRun:
			result = "would delete"
		case deleted[s.Path]:
			result = "deleted"
		case failed[s.Path] != nil:
			result = fmt.Sprintf("failed: %v", failed[s.Path])
		}
		t.AppendRow(table.Row{s.Name, s.CreatedAt.Format(timeLayout), result})
	}
	for _, s := range res.Plan.Skipped {
		t.AppendRow(table.Row{s.Name, "", "skipped"})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"Kept", len(res.Plan.Keep), ""})
	t.Render()
}

func printListing(listed []*snapper.Listed, index map[string]*btrfs.SubvolumeInfo, withVerdict bool, now time.Time) {
	if len(listed) == 0 {
		fmt.Println("No snapshots found")
		return
	}

	t := newTable()
	header := table.Row{"Name", "Created", "Age", "RO"}
	if withVerdict {
		header = append(header, "Verdict")
	}
	t.AppendHeader(header)

	for _, l := range listed {
		created, age := "", ""
		if l.ParseErr == nil {
			created = l.CreatedAt.Format(timeLayout)
			age = humanize.RelTime(l.CreatedAt, now, "ago", "from now")
		}
		ro := ""
		if sv, ok := index[l.Path]; ok && sv.IsReadonly {
			ro = "ro"
		}
		row := table.Row{l.Name, created, age, ro}
		if withVerdict {
			row = append(row, string(l.Verdict))
		}
		t.AppendRow(row)
	}
	t.Render()
}

func printHistory(database *db.DB, limit int) error {
	runs, err := queries.ListRuns(database.Conn(), limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"Run", "Command", "Subvolume", "Started", "Took", "Status", "Created", "Deleted", "Skipped", "Failed", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
		{Number: 10, Align: text.AlignRight},
		{Number: 11, WidthMax: 60},
	})

	for _, r := range runs {
		counts, err := queries.CountEvents(database.Conn(), r.ID)
		if err != nil {
			return fmt.Errorf("failed to count events: %w", err)
		}

		command := r.Command
		if r.DryRun {
			command += " (dry run)"
		}
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		took := ""
		if r.FinishedAt.Valid {
			took = r.FinishedAt.Time.Sub(r.StartedAt).String()
		}
		t.AppendRow(table.Row{
			id,
			command,
			r.Subvolume,
			humanize.Time(r.StartedAt),
			took,
			r.Status,
			counts[queries.ActionCreate],
			counts[queries.ActionDelete],
			counts[queries.ActionSkip],
			counts[queries.CountFailed],
			r.Error.String,
		})
	}
	t.Render()
	return nil
}

func printRun(database *db.DB, idPrefix string) error {
	run, err := queries.FindRun(database.Conn(), idPrefix)
	if err != nil {
		return err
	}
	events, err := queries.ListEvents(database.Conn(), run.ID)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	t := newTable()
	t.SetTitle(fmt.Sprintf("Run %s", run.ID))
	t.AppendRow(table.Row{"Command", run.Command})
	t.AppendRow(table.Row{"Subvolume", run.Subvolume})
	t.AppendRow(table.Row{"Snapshot dir", run.SnapshotDir})
	if run.Policy.Valid {
		t.AppendRow(table.Row{"Policy", run.Policy.String})
	}
	t.AppendRow(table.Row{"Dry run", run.DryRun})
	t.AppendRow(table.Row{"Started", run.StartedAt.Format(timeLayout)})
	if run.FinishedAt.Valid {
		t.AppendRow(table.Row{"Finished", run.FinishedAt.Time.Format(timeLayout)})
	}
	t.AppendRow(table.Row{"Status", run.Status})
	if run.Error.Valid {
		t.AppendRow(table.Row{"Error", run.Error.String})
	}
	t.Render()

	if len(events) == 0 {
		return nil
	}
	fmt.Println()

	ev := newTable()
	ev.AppendHeader(table.Row{"At", "Action", "Snapshot", "Snapshot time", "Error"})
	ev.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, WidthMax: 60},
	})
	for _, e := range events {
		snapshotTime := ""
		if e.SnapshotTime.Valid {
			snapshotTime = e.SnapshotTime.Time.Format(timeLayout)
		}
		ev.AppendRow(table.Row{e.At.Format(timeLayout), e.Action, e.Name, snapshotTime, e.Error.String})
	}
	ev.Render()
	return nil
}

func printSubvolumes(subvols []*btrfs.SubvolumeInfo) {
	t := newTable()
	t.AppendHeader(table.Row{"ID", "Gen", "Path", "RO", "Created"})

	for _, sv := range subvols {
		ro := ""
		if sv.IsReadonly {
			ro = "ro"
		}
		created := ""
		if !sv.CreatedAt.IsZero() {
			created = sv.CreatedAt.Format(timeLayout)
		}
		t.AppendRow(table.Row{sv.ID, sv.Gen, sv.Path, ro, created})
	}
	t.Render()
}
