package btrfs

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testManager() *Manager {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateSnapshotRefusesExistingDestination(t *testing.T) {
	tmpDir := t.TempDir()
	dst := filepath.Join(tmpDir, "home-2024-01-01-000000")
	if err := os.Mkdir(dst, 0755); err != nil {
		t.Fatal(err)
	}

	err := testManager().CreateSnapshot(filepath.Join(tmpDir, "home"), dst, true)
	if !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestListSubvolumeChildrenMissingDir(t *testing.T) {
	_, err := testManager().ListSubvolumeChildren(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestListSubvolumeChildrenSkipsFiles(t *testing.T) {
	tmpDir := t.TempDir()
	for _, name := range []string{"random_file", "home-2024-01-01-000000"} {
		if err := os.WriteFile(filepath.Join(tmpDir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	children, err := testManager().ListSubvolumeChildren(tmpDir)
	if err != nil {
		t.Fatalf("ListSubvolumeChildren failed: %v", err)
	}
	if len(children) != 0 {
		t.Errorf("expected no children, got %v", children)
	}
}

func TestParseRootItem(t *testing.T) {
	data := make([]byte, 439)
	binary.LittleEndian.PutUint64(data[160:], 42)
	binary.LittleEndian.PutUint64(data[208:], rootSubvolReadonly)
	for i := range 16 {
		data[247+i] = byte(i + 1)
	}
	binary.LittleEndian.PutUint64(data[339:], 1704067200)
	binary.LittleEndian.PutUint32(data[347:], 500)

	item, ok := parseRootItem(257, data)
	if !ok {
		t.Fatal("expected root item to parse")
	}
	if item.ID != 257 || item.Generation != 42 {
		t.Errorf("unexpected id/generation: %d/%d", item.ID, item.Generation)
	}
	if item.Flags&rootSubvolReadonly == 0 {
		t.Error("expected readonly flag")
	}
	if got := item.UUID.String(); got != "01020304-0506-0708-090a-0b0c0d0e0f10" {
		t.Errorf("unexpected uuid %s", got)
	}
	if !item.OTime.Equal(time.Unix(1704067200, 500)) {
		t.Errorf("unexpected otime %s", item.OTime)
	}

	if _, ok := parseRootItem(258, data[:100]); ok {
		t.Error("expected short root item to be rejected")
	}

	old, ok := parseRootItem(259, data[:239])
	if !ok {
		t.Fatal("expected old format root item to parse")
	}
	if !old.OTime.IsZero() {
		t.Error("expected zero otime for old format")
	}
}

func TestIsSubvolumeID(t *testing.T) {
	tests := []struct {
		name string
		id   uint64
		want bool
	}{
		{"top level", 5, true},
		{"first subvolume", 256, true},
		{"regular subvolume", 1042, true},
		{"last free objectid", ^uint64(0) - 255, true},
		{"root tree", 1, false},
		{"extent tree", 2, false},
		{"csum tree", 7, false},
		{"uuid tree", 9, false},
		{"free space tree", 10, false},
		{"data reloc tree", ^uint64(0) - 8, false},
		{"tree reloc", ^uint64(0) - 7, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSubvolumeID(tt.id); got != tt.want {
				t.Errorf("isSubvolumeID(%d) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestNewSubvolumeInfo(t *testing.T) {
	data := make([]byte, 439)
	binary.LittleEndian.PutUint64(data[160:], 7)

	id := ^uint64(0) - 300
	item, ok := parseRootItem(id, data)
	if !ok {
		t.Fatal("expected root item to parse")
	}
	sv := newSubvolumeInfo(item)
	if sv.ID != id || sv.Gen != 7 {
		t.Errorf("unexpected id/generation: %d/%d", sv.ID, sv.Gen)
	}
	if sv.UUID != "" || sv.IsReadonly {
		t.Errorf("unexpected uuid/readonly: %q/%v", sv.UUID, sv.IsReadonly)
	}

	top := newSubvolumeInfo(rootItem{ID: fsTreeObjectID})
	if top.Path != "/" {
		t.Errorf("expected top level path /, got %q", top.Path)
	}
}

func TestIndexByMountPath(t *testing.T) {
	subvols := []*SubvolumeInfo{
		{ID: 5, Path: "/"},
		{ID: 256, Path: "@"},
		{ID: 257, Path: "@home"},
		{ID: 300, Path: "@home/.snapshots/home-2024-01-01-000000"},
		{ID: 301, Path: "@home/.snapshots/home-2024-01-02-000000"},
		{ID: 400, Path: "pool/data/.snapshots/data-2024-01-01-000000"},
		{ID: 401, Path: "old/data/.snapshots/data-2024-01-01-000000"},
		{ID: 402, Path: "data/.snapshots/data-2024-01-01-000000"},
	}

	tests := []struct {
		name       string
		mountPoint string
		child      string
		wantID     uint64
	}{
		{"top level mount", "/mnt/pool", "/mnt/pool/@home/.snapshots/home-2024-01-01-000000", 300},
		{"subvolume mount", "/home", "/home/.snapshots/home-2024-01-02-000000", 301},
		{"exact match wins", "/mnt", "/mnt/data/.snapshots/data-2024-01-01-000000", 402},
		{"ambiguous suffix", "/srv", "/srv/.snapshots/data-2024-01-01-000000", 0},
		{"outside mount", "/home", "/var/.snapshots/home-2024-01-01-000000", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index := IndexByMountPath(tt.mountPoint, subvols, []string{tt.child})
			sv := index[tt.child]
			if tt.wantID == 0 {
				if sv != nil {
					t.Errorf("expected no match, got %d", sv.ID)
				}
				return
			}
			if sv == nil || sv.ID != tt.wantID {
				t.Errorf("expected subvolume %d, got %+v", tt.wantID, sv)
			}
		})
	}
}
