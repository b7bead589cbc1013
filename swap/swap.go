// Package swap implements the backing store for evicted writable pages:
// a bitmap of fixed-size slots over a dedicated block device, each slot
// holding exactly one page's worth of sectors (spec §4.6).
package swap

import (
	"sync"

	"github.com/hwang-pku/pintos/defs"
	"github.com/hwang-pku/pintos/disk"
)

// PageSize is the VM page size the rest of the vm package also uses.
const PageSize = 4096

// SectorsPerPage is the number of disk sectors one page occupies.
const SectorsPerPage = PageSize / disk.SectorSize

// Swap_t is the swap-slot allocator. A single lock serializes bitmap
// mutations and their paired I/O, matching the teacher's cache-entry
// locking discipline of holding one lock for the duration of a
// transfer (spec §4.6 synchronization).
type Swap_t struct {
	mu    sync.Mutex
	disk  disk.Disk_i
	used  []bool
	slots int
}

// MkSwap sizes a swap table to fit d's sector count.
func MkSwap(d disk.Disk_i) *Swap_t {
	slots := int(d.Size()) / SectorsPerPage
	return &Swap_t{disk: d, used: make([]bool, slots), slots: slots}
}

// SwapOut finds a free slot, writes frame's PageSize bytes to it, and
// returns the slot id. ok is false if every slot is occupied.
func (s *Swap_t) SwapOut(frame *[PageSize]byte) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := -1
	for i, u := range s.used {
		if !u {
			slot = i
			break
		}
	}
	if slot == -1 {
		return 0, false
	}
	s.used[slot] = true
	base := disk.Sector(slot * SectorsPerPage)
	for i := 0; i < SectorsPerPage; i++ {
		off := i * disk.SectorSize
		if err := s.disk.Write(base+disk.Sector(i), frame[off:off+disk.SectorSize]); err != nil {
			panic(err)
		}
	}
	return slot, true
}

// SwapIn reads slot's PageSize bytes into frame and frees the slot. It
// panics if slot was not in use — callers only ever swap in a slot
// they themselves recorded in an SPT entry.
func (s *Swap_t) SwapIn(slot int, frame *[PageSize]byte) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= s.slots || !s.used[slot] {
		panic("swap: swap_in on unused slot")
	}
	base := disk.Sector(slot * SectorsPerPage)
	for i := 0; i < SectorsPerPage; i++ {
		off := i * disk.SectorSize
		if err := s.disk.Read(base+disk.Sector(i), frame[off:off+disk.SectorSize]); err != nil {
			panic(err)
		}
	}
	s.used[slot] = false
	return 0
}

// FreeCount reports the number of unused slots, for tests asserting
// that swap accounting round-trips (spec §8).
func (s *Swap_t) FreeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.used {
		if !u {
			n++
		}
	}
	return n
}
