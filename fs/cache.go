// Package fs implements the on-disk filesystem: the buffer cache, the
// free-map, inodes, directories, and the path-facing façade. All disk
// I/O for the filesystem passes through the cache in this file.
package fs

import (
	"fmt"
	"sync"

	"github.com/hwang-pku/pintos/disk"
)

// Debug gates the cache's diagnostic prints, the way the teacher gates
// fs/blk.go's traffic dump behind the package-level bdev_debug bool.
var Debug = false

// CacheSlots is the fixed number of cache entries (spec §6 config).
const CacheSlots = 64

// Centry_t is one cache slot: a resident sector's payload plus its
// occupancy, dirty, and clock-accessed bits, guarded by its own mutex so
// distinct sectors can be read/written concurrently (spec §4.1).
type Centry_t struct {
	sync.Mutex
	sector   disk.Sector
	data     [disk.SectorSize]byte
	occupied bool
	dirty    bool
	accessed bool
}

// Cache_t is the 64-entry clock-replacement buffer cache over a fixed
// block device.
type Cache_t struct {
	mu      sync.Mutex // serializes the slot scan and victim selection
	entries [CacheSlots]*Centry_t
	clock   int
	disk    disk.Disk_i
}

// MkCache constructs an empty cache over d.
func MkCache(d disk.Disk_i) *Cache_t {
	c := &Cache_t{disk: d}
	for i := range c.entries {
		c.entries[i] = &Centry_t{}
	}
	return c
}

// pickVictim advances the clock hand, skipping accessed entries and
// clearing their accessed bit, until it finds a free slot or an
// occupied-but-unaccessed one. Must be called with c.mu held. Guaranteed
// to terminate within one revolution past the worst case of every slot
// starting accessed.
func (c *Cache_t) pickVictim() *Centry_t {
	for {
		e := c.entries[c.clock]
		c.clock = (c.clock + 1) % CacheSlots
		if !e.occupied {
			return e
		}
		if e.accessed {
			e.accessed = false
			continue
		}
		return e
	}
}

// ensure returns the cache entry holding sector, locked. On a cache miss
// the chosen victim is stamped with the new sector identity before c.mu
// is released, so a second concurrent miss for the same sector finds the
// match on its scan and simply waits on the entry lock instead of
// allocating a second slot — this is what makes two concurrent reads of
// the same sector coalesce into one disk read.
func (c *Cache_t) ensure(sector disk.Sector) *Centry_t {
	c.mu.Lock()
	for _, e := range c.entries {
		if e.occupied && e.sector == sector {
			c.mu.Unlock()
			e.Lock()
			if !e.occupied || e.sector != sector {
				// a concurrent miss re-stamped this slot while we
				// waited for its lock; look the sector up again.
				e.Unlock()
				return c.ensure(sector)
			}
			e.accessed = true
			return e
		}
	}

	e := c.pickVictim()
	e.Lock()
	wasOccupied := e.occupied
	wasDirty := e.dirty
	oldSector := e.sector
	e.sector = sector
	e.occupied = true
	c.mu.Unlock()

	if wasOccupied && wasDirty {
		if Debug {
			fmt.Printf("cache: evicting dirty sector %d for %d\n", oldSector, sector)
		}
		if err := c.disk.Write(oldSector, e.data[:]); err != nil {
			panic(err)
		}
	}
	if err := c.disk.Read(sector, e.data[:]); err != nil {
		panic(err)
	}
	e.dirty = false
	e.accessed = true
	return e
}

// Read copies length bytes from the cached sector starting at offset
// into dst, loading the sector first if necessary.
func (c *Cache_t) Read(sector disk.Sector, dst []byte, offset, length int) {
	e := c.ensure(sector)
	copy(dst, e.data[offset:offset+length])
	e.accessed = true
	e.Unlock()
}

// Write copies length bytes from src into the cached sector at offset,
// marking the entry dirty.
func (c *Cache_t) Write(sector disk.Sector, src []byte, offset, length int) {
	e := c.ensure(sector)
	copy(e.data[offset:offset+length], src)
	e.dirty = true
	e.accessed = true
	e.Unlock()
}

// Shutdown flushes every dirty occupied slot to disk.
func (c *Cache_t) Shutdown() {
	for _, e := range c.entries {
		e.Lock()
		if e.occupied && e.dirty {
			if err := c.disk.Write(e.sector, e.data[:]); err != nil {
				panic(err)
			}
			e.dirty = false
		}
		e.Unlock()
	}
}
