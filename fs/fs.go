package fs

import (
	"sync"

	"github.com/hwang-pku/pintos/disk"
)

// NameMax is the longest name a directory entry can hold, matching
// Pintos's own NAME_MAX (spec §6 config).
const NameMax = 14

// Fs_t is the filesystem singleton: the buffer cache, the free-map, and
// the open-inode table shared by every directory and file handle (spec
// §4, "Global singletons" design note).
type Fs_t struct {
	mu         sync.Mutex // protects openInodes
	cache      *Cache_t
	freemap    *Freemap_t
	openInodes map[disk.Sector]*Inode_t
}

// Format lays out a brand-new filesystem on d: an empty free-map and a
// root directory whose parent-link entry points at itself (spec §4.4,
// "The root directory's parent is itself").
func Format(d disk.Disk_i) *Fs_t {
	c := MkCache(d)
	fm := MkFreemap(c, d.Size())
	fs := &Fs_t{cache: c, freemap: fm, openInodes: make(map[disk.Sector]*Inode_t)}

	// RootDirSector is a fixed, reserved sector (like FreeMapSector):
	// it never comes from the free-map's own bitmap, the same way
	// Pintos's do_format creates the root directory before the
	// general-purpose allocator is exercised.
	if err := fs.CreateInode(RootDirSector, direntSize, true); err != 0 {
		panic("fs: failed to create root directory")
	}
	root, err := fs.Open(RootDirSector)
	if err != 0 {
		panic(err)
	}
	writeParentLink(root, RootDirSector)
	fs.Close(root)
	fs.freemap.Flush()
	return fs
}

// Boot reattaches to a previously formatted filesystem on d.
func Boot(d disk.Disk_i) *Fs_t {
	c := MkCache(d)
	fm := LoadFreemap(c, d.Size())
	return &Fs_t{cache: c, freemap: fm, openInodes: make(map[disk.Sector]*Inode_t)}
}

// Shutdown flushes the free-map and the buffer cache.
func (fs *Fs_t) Shutdown() {
	fs.freemap.Flush()
	fs.cache.Shutdown()
}
