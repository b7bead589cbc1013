package vm

import (
	"sync"

	"github.com/hwang-pku/pintos/defs"
	"github.com/hwang-pku/pintos/swap"
)

// frameDesc is one entry of the global frame table: the physical
// frame, its current owner, and the per-frame load lock held while its
// backing is being changed or loaded (spec §4.7, lock #3 of §5).
type frameDesc struct {
	sync.Mutex
	frame     Frame
	valid     bool
	evictable bool
	owner     *SPT_t
	pd        any
	page      uintptr
}

// FrameTable_t is the single global registry of user-accessible
// physical frames shared by every process (spec §4.7, §5 "shared
// resources").
type FrameTable_t struct {
	evictLock sync.Mutex // serializes eviction decisions end-to-end
	mu        sync.Mutex // protects the frame list and the clock hand
	frames    []*frameDesc
	clock     int
	alloc     PhysAlloc_i
	pt        PageTable_i
	swap      *swap.Swap_t
}

// MkFrameTable constructs an empty frame table backed by alloc for
// fresh frames, pt for hardware mapping manipulation, and sw for
// eviction's backing store.
func MkFrameTable(alloc PhysAlloc_i, pt PageTable_i, sw *swap.Swap_t) *FrameTable_t {
	return &FrameTable_t{alloc: alloc, pt: pt, swap: sw}
}

// FrameHandle_t is returned by GetFrame with its frame's load lock
// held; the caller must populate the frame's contents and then call
// Release once the new mapping is installed (spec §4.7/§4.8).
type FrameHandle_t struct {
	ft *FrameTable_t
	fd *frameDesc
}

// Frame returns the handle's backing storage.
func (h *FrameHandle_t) Frame() Frame { return h.fd.frame }

// Release drops the frame's load lock.
func (h *FrameHandle_t) Release() { h.fd.Unlock() }

// SetEvictable toggles whether this frame may be chosen as an eviction
// victim, used by syscall read/write paths to pin user buffers for the
// duration of an I/O transfer (spec §4.7 "Pinning").
func (h *FrameHandle_t) SetEvictable(v bool) {
	h.ft.mu.Lock()
	h.fd.evictable = v
	h.ft.mu.Unlock()
}

// GetFrame obtains a frame for owner's entry at page (mapped through
// pd), asking the physical allocator first and falling back to
// eviction. The returned handle's load lock is held by the caller.
func (ft *FrameTable_t) GetFrame(owner *SPT_t, pd any, page uintptr, evictable bool) (*FrameHandle_t, defs.Err_t) {
	if fr, ok := ft.alloc.AllocUserPage(); ok {
		fd := &frameDesc{frame: fr, valid: true, evictable: evictable, owner: owner, pd: pd, page: page}
		fd.Lock()
		ft.mu.Lock()
		ft.frames = append(ft.frames, fd)
		ft.mu.Unlock()
		return &FrameHandle_t{ft: ft, fd: fd}, 0
	}
	return ft.evict(owner, pd, page, evictable)
}

// pickVictim advances the clock hand, skipping pinned or recently
// accessed frames, until it finds one that may be evicted. Returns the
// victim with its load lock held (spec §4.7 "Victim selection").
func (ft *FrameTable_t) pickVictim() *frameDesc {
	for {
		ft.mu.Lock()
		if len(ft.frames) == 0 {
			ft.mu.Unlock()
			panic("vm: no frames to evict")
		}
		cand := ft.frames[ft.clock]
		ft.clock = (ft.clock + 1) % len(ft.frames)
		ft.mu.Unlock()

		cand.Lock()
		if !cand.evictable {
			cand.Unlock()
			continue
		}
		if ft.pt.IsAccessed(cand.pd, cand.page) {
			ft.pt.SetAccessed(cand.pd, cand.page, false)
			cand.Unlock()
			continue
		}
		return cand
	}
}

// evict runs the eviction protocol on a chosen victim and reassigns
// its frame to owner/page (spec §4.7 "Eviction protocol"). A victim
// whose write-back fails (swap exhausted) is restored and left in
// place; the sweep continues onto another candidate instead of
// aborting the whole request (spec §7 "a failed write-back during
// eviction aborts the eviction of that frame, letting the caller try
// another victim").
func (ft *FrameTable_t) evict(owner *SPT_t, pd any, page uintptr, evictable bool) (*FrameHandle_t, defs.Err_t) {
	ft.evictLock.Lock()
	defer ft.evictLock.Unlock()

	ft.mu.Lock()
	attempts := len(ft.frames)
	ft.mu.Unlock()

	for tries := 0; tries < attempts; tries++ {
		victim := ft.pickVictim() // locked

		dirty := ft.pt.IsDirty(victim.pd, victim.page)
		oldFrame, oldWritable, _ := ft.pt.GetMapping(victim.pd, victim.page)
		ft.pt.ClearMapping(victim.pd, victim.page)
		entry := victim.owner.markEvicted(victim.page)

		switch {
		case entry.Kind == KindMmap:
			if dirty {
				entry.File.WriteAt(victim.frame[:entry.ReadBytes], entry.Offset)
			}
		case dirty || entry.Kind == KindSwap:
			slot, ok := ft.swap.SwapOut(victim.frame)
			if !ok {
				// swap exhausted: undo the clear and try another victim.
				ft.pt.SetMapping(victim.pd, victim.page, oldFrame, oldWritable)
				victim.owner.restoreResident(victim.page)
				victim.Unlock()
				continue
			}
			if entry.Kind != KindSwap {
				entry.origKind = entry.Kind
			}
			entry.Kind = KindSwap
			entry.Slot = slot
		}

		victim.owner = owner
		victim.pd = pd
		victim.page = page
		victim.evictable = evictable
		return &FrameHandle_t{ft: ft, fd: victim}, 0
	}
	return nil, defs.ENOSPC
}

// FreeFrame releases the physical frame owned by owner at page, if
// any is currently assigned there, dropping its frameDesc from the
// table entirely (spec §3 frame entry lifecycle: "destroyed on
// eviction, munmap, or process teardown"). Held under evictLock so it
// cannot race a concurrent pickVictim/evict over the same frame.
func (ft *FrameTable_t) FreeFrame(owner *SPT_t, page uintptr) {
	ft.evictLock.Lock()
	defer ft.evictLock.Unlock()

	ft.mu.Lock()
	idx := -1
	for i, fd := range ft.frames {
		if fd.owner == owner && fd.page == page {
			idx = i
			break
		}
	}
	if idx == -1 {
		ft.mu.Unlock()
		return
	}
	fd := ft.frames[idx]
	ft.frames = append(ft.frames[:idx], ft.frames[idx+1:]...)
	if len(ft.frames) == 0 {
		ft.clock = 0
	} else {
		ft.clock %= len(ft.frames)
	}
	ft.mu.Unlock()

	fd.Lock()
	ft.alloc.FreeUserPage(fd.frame)
	fd.Unlock()
}
