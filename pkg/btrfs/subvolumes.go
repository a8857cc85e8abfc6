package btrfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SubvolumeInfo struct {
	ID         uint64
	Gen        uint64
	Path       string
	UUID       string
	ParentUUID string
	IsReadonly bool
	CreatedAt  time.Time
}

// ListSubvolumes lists all subvolumes of the filesystem mounted at mountPoint.
// Paths are relative to the top level subvolume, which is reported as "/".
func (m *Manager) ListSubvolumes(mountPoint string) ([]*SubvolumeInfo, error) {
	f, err := os.OpenFile(mountPoint, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open filesystem: %w", err)
	}
	defer f.Close()

	items, err := searchSubvolumes(f)
	if err != nil {
		return nil, fmt.Errorf("failed to list subvolumes via ioctl: %w", err)
	}

	subvolumes := make([]*SubvolumeInfo, 0, len(items))
	for _, item := range items {
		subvolumes = append(subvolumes, newSubvolumeInfo(item))
	}

	return subvolumes, nil
}

func newSubvolumeInfo(item rootItem) *SubvolumeInfo {
	sv := &SubvolumeInfo{
		ID:         item.ID,
		Gen:        item.Generation,
		Path:       item.Path,
		IsReadonly: item.Flags&rootSubvolReadonly != 0,
		CreatedAt:  item.OTime,
	}
	if item.UUID != uuid.Nil {
		sv.UUID = item.UUID.String()
	}
	if item.ParentUUID != uuid.Nil {
		sv.ParentUUID = item.ParentUUID.String()
	}
	if item.ID == fsTreeObjectID && sv.Path == "" {
		sv.Path = "/"
	}
	return sv
}

// IndexByMountPath indexes subvolumes by their absolute path below mountPoint.
//
// Subvolume paths are relative to the top level subvolume, which is not
// necessarily what is mounted at mountPoint. A child whose relative path is
// not an exact match is matched by suffix, and left out when the suffix is
// ambiguous.
func IndexByMountPath(mountPoint string, subvolumes []*SubvolumeInfo, children []string) map[string]*SubvolumeInfo {
	index := make(map[string]*SubvolumeInfo, len(children))
	for _, child := range children {
		rel, err := filepath.Rel(mountPoint, child)
		if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
			continue
		}
		rel = filepath.ToSlash(rel)

		var matches []*SubvolumeInfo
		for _, sv := range subvolumes {
			if sv.Path == rel {
				matches = []*SubvolumeInfo{sv}
				break
			}
			if strings.HasSuffix(sv.Path, "/"+rel) {
				matches = append(matches, sv)
			}
		}
		if len(matches) == 1 {
			index[child] = matches[0]
		}
	}
	return index
}
