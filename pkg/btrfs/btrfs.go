package btrfs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dennwc/btrfs"
	"go.uber.org/fx"
)

// Package btrfs provides the filesystem operations btrsnap needs:
// - Creating snapshots of subvolumes
// - Deleting subvolumes
// - Listing the subvolumes inside a snapshot directory
// - Reading subvolume metadata through the tree search ioctl

var Module = fx.Module("btrfs",
	fx.Provide(New),
)

// ErrExists is returned when a snapshot destination is already taken.
var ErrExists = errors.New("destination already exists")

type Manager struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger.With("component", "btrfs"),
	}
}

// CreateSnapshot snapshots subvolume to destination, which must not exist yet.
// The parent directory of destination is created when missing.
func (m *Manager) CreateSnapshot(subvolume, destination string, readonly bool) error {
	// SnapshotSubVolume places the snapshot inside destination when it is an
	// existing directory, so refuse instead of nesting.
	if _, err := os.Lstat(destination); err == nil {
		return fmt.Errorf("%s: %w", destination, ErrExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat destination: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	m.logger.Debug("creating snapshot", "subvolume", subvolume, "destination", destination, "readonly", readonly)
	if err := btrfs.SnapshotSubVolume(subvolume, destination, readonly); err != nil {
		return fmt.Errorf("snapshot %s: %w", subvolume, err)
	}
	return nil
}

// DeleteSubvolume deletes the subvolume at path.
func (m *Manager) DeleteSubvolume(path string) error {
	ok, err := btrfs.IsSubVolume(path)
	if err != nil {
		return fmt.Errorf("check subvolume %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("%s is not a btrfs subvolume", path)
	}

	m.logger.Debug("deleting subvolume", "path", path)
	if err := btrfs.DeleteSubVolume(path); err != nil {
		return fmt.Errorf("delete subvolume %s: %w", path, err)
	}
	return nil
}

// ListSubvolumeChildren returns the paths of the direct children of dir that
// are subvolumes. Other entries are left out. The order is unspecified.
func (m *Manager) ListSubvolumeChildren(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var children []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if !entry.IsDir() {
			m.logger.Debug("ignoring non-directory entry", "path", path)
			continue
		}

		ok, err := btrfs.IsSubVolume(path)
		if err != nil {
			m.logger.Warn("failed to check subvolume", "path", path, "error", err)
			continue
		}
		if !ok {
			m.logger.Debug("ignoring plain directory", "path", path)
			continue
		}
		children = append(children, path)
	}

	return children, nil
}
