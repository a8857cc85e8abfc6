package btrfs

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/dennwc/ioctl"
	"github.com/google/uuid"
)

const btrfsIoctlMagic = 0x94

const (
	rootTreeObjectID  = 1
	fsTreeObjectID    = 5
	firstFreeObjectID = 256
	lastFreeObjectID  = ^uint64(0) - 255
)

// isSubvolumeID reports whether a root tree objectid names a subvolume
// rather than an internal tree (csum, uuid, free space, data reloc).
func isSubvolumeID(id uint64) bool {
	return id == fsTreeObjectID || (id >= firstFreeObjectID && id <= lastFreeObjectID)
}

// Item key types
const (
	rootItemKey    = 132
	rootBackrefKey = 144
)

const rootSubvolReadonly = 1 << 0

const (
	searchKeySize    = 104
	searchBufSize    = 4096 - searchKeySize
	searchHeaderSize = 32
)

type searchKey struct {
	TreeID      uint64
	MinObjectID uint64
	MaxObjectID uint64
	MinOffset   uint64
	MaxOffset   uint64
	MinTransID  uint64
	MaxTransID  uint64
	MinType     uint32
	MaxType     uint32
	NrItems     uint32
	_           uint32
	_           [4]uint64
}

type searchArgs struct {
	Key searchKey
	Buf [searchBufSize]byte
}

type searchHeader struct {
	TransID  uint64
	ObjectID uint64
	Offset   uint64
	Type     uint32
	Len      uint32
}

var ioctlTreeSearch = ioctl.IOWR(btrfsIoctlMagic, 17, unsafe.Sizeof(searchArgs{}))

type fsInfoArgs struct {
	MaxID          uint64
	NumDevices     uint64
	FSID           [16]byte
	NodeSize       uint32
	SectorSize     uint32
	CloneAlignment uint32
	CsumType       uint16
	CsumSize       uint16
	Flags          uint64
	Generation     uint64
	MetadataUUID   [16]byte
	Reserved       [944]byte
}

var ioctlFsInfo = ioctl.IOR(btrfsIoctlMagic, 31, unsafe.Sizeof(fsInfoArgs{}))

// FilesystemInfo identifies the btrfs filesystem a path belongs to.
type FilesystemInfo struct {
	UUID       string
	NumDevices uint64
	Generation uint64
}

// GetFilesystemInfo returns an error if path is not on a btrfs filesystem.
func GetFilesystemInfo(path string) (*FilesystemInfo, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open path: %w", err)
	}
	defer f.Close()

	var args fsInfoArgs
	if err := ioctl.Do(f, ioctlFsInfo, &args); err != nil {
		return nil, fmt.Errorf("not a btrfs filesystem: %w", err)
	}

	return &FilesystemInfo{
		UUID:       uuid.UUID(args.FSID).String(),
		NumDevices: args.NumDevices,
		Generation: args.Generation,
	}, nil
}

// rootItem is the subset of a ROOT_ITEM btrsnap reports on.
type rootItem struct {
	ID         uint64
	Generation uint64
	Flags      uint64
	UUID       uuid.UUID
	ParentUUID uuid.UUID
	OTime      time.Time
	Path       string
}

// searchSubvolumes reads every subvolume root item of the filesystem
// containing f and resolves its path from the root backrefs.
func searchSubvolumes(f *os.File) ([]rootItem, error) {
	var items []rootItem
	err := treeSearch(f, rootTreeObjectID, fsTreeObjectID, lastFreeObjectID, rootItemKey, func(hdr searchHeader, data []byte) {
		if !isSubvolumeID(hdr.ObjectID) {
			return
		}
		item, ok := parseRootItem(hdr.ObjectID, data)
		if ok {
			items = append(items, item)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("tree search: %w", err)
	}

	paths, err := subvolumePaths(f)
	if err != nil {
		// Paths are optional
		return items, nil
	}
	for i := range items {
		items[i].Path = paths[items[i].ID]
	}
	return items, nil
}

type backref struct {
	parentID uint64
	name     string
}

// subvolumePaths maps subvolume IDs to their path relative to the top level.
func subvolumePaths(f *os.File) (map[uint64]string, error) {
	backrefs := make(map[uint64]backref)
	err := treeSearch(f, rootTreeObjectID, firstFreeObjectID, ^uint64(0), rootBackrefKey, func(hdr searchHeader, data []byte) {
		// dirid (8) sequence (8) name_len (2) name
		if len(data) < 18 {
			return
		}
		nameLen := int(binary.LittleEndian.Uint16(data[16:18]))
		if len(data) < 18+nameLen {
			return
		}
		backrefs[hdr.ObjectID] = backref{parentID: hdr.Offset, name: string(data[18 : 18+nameLen])}
	})
	if err != nil {
		return nil, fmt.Errorf("tree search for backrefs: %w", err)
	}

	paths := map[uint64]string{fsTreeObjectID: "/"}
	var resolve func(id uint64, depth int) string
	resolve = func(id uint64, depth int) string {
		if id == fsTreeObjectID || depth > len(backrefs) {
			return ""
		}
		br, ok := backrefs[id]
		if !ok {
			return ""
		}
		if parent := resolve(br.parentID, depth+1); parent != "" {
			return parent + "/" + br.name
		}
		return br.name
	}
	for id := range backrefs {
		paths[id] = resolve(id, 0)
	}
	return paths, nil
}

// parseRootItem decodes the fields of a ROOT_ITEM at their on-disk offsets:
// generation at 160, flags at 208, uuid at 247, parent_uuid at 263 and
// otime at 339. Items shorter than 375 bytes predate uuids and times.
func parseRootItem(objectID uint64, data []byte) (rootItem, bool) {
	if len(data) < 239 {
		return rootItem{}, false
	}

	item := rootItem{
		ID:         objectID,
		Generation: binary.LittleEndian.Uint64(data[160:168]),
		Flags:      binary.LittleEndian.Uint64(data[208:216]),
	}
	if len(data) >= 375 {
		copy(item.UUID[:], data[247:263])
		copy(item.ParentUUID[:], data[263:279])
		item.OTime = parseTimespec(data[339:351])
	}
	return item, true
}

// parseTimespec parses a btrfs_timespec (8 byte seconds + 4 byte nsec).
func parseTimespec(data []byte) time.Time {
	sec := int64(binary.LittleEndian.Uint64(data[0:8]))
	nsec := int64(binary.LittleEndian.Uint32(data[8:12]))
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, nsec)
}

// treeSearch walks all items of itemType in tree between minObjID and
// maxObjID, calling fn for each one.
func treeSearch(f *os.File, tree, minObjID, maxObjID uint64, itemType uint32, fn func(searchHeader, []byte)) error {
	args := searchArgs{
		Key: searchKey{
			TreeID:      tree,
			MinObjectID: minObjID,
			MaxObjectID: maxObjID,
			MaxOffset:   ^uint64(0),
			MaxTransID:  ^uint64(0),
			MinType:     itemType,
			MaxType:     itemType,
			NrItems:     4096,
		},
	}

	for {
		if err := ioctl.Do(f, ioctlTreeSearch, &args); err != nil {
			return fmt.Errorf("tree search ioctl: %w", err)
		}
		if args.Key.NrItems == 0 {
			return nil
		}

		var last searchHeader
		got := false
		offset := 0
		for i := uint32(0); i < args.Key.NrItems; i++ {
			if offset+searchHeaderSize > len(args.Buf) {
				break
			}
			hdr := searchHeader{
				TransID:  binary.LittleEndian.Uint64(args.Buf[offset:]),
				ObjectID: binary.LittleEndian.Uint64(args.Buf[offset+8:]),
				Offset:   binary.LittleEndian.Uint64(args.Buf[offset+16:]),
				Type:     binary.LittleEndian.Uint32(args.Buf[offset+24:]),
				Len:      binary.LittleEndian.Uint32(args.Buf[offset+28:]),
			}
			offset += searchHeaderSize
			if offset+int(hdr.Len) > len(args.Buf) {
				break
			}
			if hdr.Type == itemType {
				data := make([]byte, hdr.Len)
				copy(data, args.Buf[offset:offset+int(hdr.Len)])
				fn(hdr, data)
			}
			offset += int(hdr.Len)
			last = hdr
			got = true
		}
		if !got {
			return nil
		}

		// Continue after the last returned key.
		switch {
		case last.Offset != ^uint64(0):
			args.Key.MinObjectID = last.ObjectID
			args.Key.MinType = last.Type
			args.Key.MinOffset = last.Offset + 1
		case last.ObjectID == maxObjID:
			return nil
		default:
			args.Key.MinObjectID = last.ObjectID + 1
			args.Key.MinType = itemType
			args.Key.MinOffset = 0
		}
		args.Key.NrItems = 4096
	}
}
