package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/elee1766/btrsnap/pkg/naming"
	"github.com/elee1766/btrsnap/pkg/retention"
	"github.com/elee1766/btrsnap/pkg/snapper"
)

// optionalCount is an integer flag that remembers whether it was given.
type optionalCount struct {
	n   int
	set bool
}

func (c *optionalCount) UnmarshalText(text []byte) error {
	n, err := strconv.Atoi(string(text))
	if err != nil {
		return fmt.Errorf("invalid count %q", text)
	}
	c.n, c.set = n, true
	return nil
}

// optionalDuration is a humantime duration flag that remembers whether it was given.
type optionalDuration struct {
	d   retention.Duration
	set bool
}

func (d *optionalDuration) UnmarshalText(text []byte) error {
	if err := d.d.UnmarshalText(text); err != nil {
		return err
	}
	d.set = true
	return nil
}

// TargetFlags select the subvolume and how its snapshots are named.
type TargetFlags struct {
	MountPoint   string `arg:"" predictor:"dir" help:"Mount point of the btrfs filesystem"`
	Subvolume    string `arg:"" help:"Subvolume path relative to the mount point"`
	SnapshotPath string `short:"p" default:".snapshots" help:"Snapshot directory relative to the subvolume"`
	Prefix       string `help:"Snapshot name prefix (default: last component of the subvolume path)"`
	Format       string `short:"f" default:"%Y-%m-%d-%H%M%S" help:"strftime format of the snapshot timestamp"`
}

func (f *TargetFlags) target() (snapper.Target, error) {
	prefix := f.Prefix
	if prefix == "" {
		var err error
		prefix, err = naming.DefaultPrefix(f.Subvolume)
		if err != nil {
			return snapper.Target{}, err
		}
	}

	scheme, err := naming.NewScheme(prefix, f.Format)
	if err != nil {
		return snapper.Target{}, err
	}

	return snapper.Target{
		MountPoint:   f.MountPoint,
		Subvolume:    f.Subvolume,
		SnapshotPath: f.SnapshotPath,
		Scheme:       scheme,
	}, nil
}

// PolicyFlags are the retention constraints shared by snapshot, clean and list.
type PolicyFlags struct {
	KeepCount optionalCount    `short:"c" placeholder:"N" help:"Keep at least the N most recent snapshots"`
	KeepSince optionalDuration `short:"s" placeholder:"DURATION" help:"Keep every snapshot younger than DURATION (e.g. 5d, 6h 30m, 1M)"`
}

func (f *PolicyFlags) policy() retention.Policy {
	var p retention.Policy
	if f.KeepCount.set {
		n := f.KeepCount.n
		p.KeepCount = &n
	}
	if f.KeepSince.set {
		d := time.Duration(f.KeepSince.d)
		p.KeepSince = &d
	}
	return p
}

// validate rejects invalid values; required reports whether an empty policy is an error.
func (f *PolicyFlags) validate(required bool) error {
	p := f.policy()
	if !p.IsSet() {
		if required {
			return fmt.Errorf("%w: --keep-count and/or --keep-since is required", retention.ErrInvalidPolicy)
		}
		return nil
	}
	return p.Validate()
}
