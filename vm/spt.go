package vm

import (
	"sync"

	"github.com/hwang-pku/pintos/defs"
	"github.com/hwang-pku/pintos/fs"
)

// Kind_t tags how an unloaded page's contents are produced (spec §3
// "backing-kind").
type Kind_t int

const (
	KindZero Kind_t = iota
	KindFile
	KindMisc
	KindSwap
	KindMmap
)

// SPTEntry_t describes the backing of one user-virtual page before (or
// after) it is resident (spec §4.8).
type SPTEntry_t struct {
	Kind      Kind_t
	File      *fs.File_t
	Offset    int
	ReadBytes int
	ZeroBytes int
	Writable  bool
	Resident  bool
	Slot      int // valid when Kind == KindSwap

	// origKind remembers the backing kind a page had before it was
	// swapped out, so LoadPage can restore it once the page is
	// resident again instead of leaving a stale Kind == KindSwap on a
	// resident page (spec §8 "# swap bits set == # SPT entries of kind
	// SWAP").
	origKind Kind_t
}

// SPT_t is one process's supplementary page table (spec §5 "SPT and
// mmap tables are per-process").
type SPT_t struct {
	mu      sync.Mutex
	entries map[uintptr]*SPTEntry_t
	ft      *FrameTable_t
	pt      PageTable_i
	pd      any

	// stackTop and stackCap bound grow_stack (spec §4.8).
	stackTop uintptr
	stackCap uintptr
}

// MkSPT constructs an empty supplementary page table for a process
// whose hardware page directory is pd, with its user stack's top at
// stackTop.
func MkSPT(ft *FrameTable_t, pt PageTable_i, pd any, stackTop uintptr) *SPT_t {
	return &SPT_t{
		entries:  make(map[uintptr]*SPTEntry_t),
		ft:       ft,
		pt:       pt,
		pd:       pd,
		stackTop: stackTop,
		stackCap: 32 * 1024 * 1024,
	}
}

// Add inserts an entry for userPage. read_bytes + zero_bytes must equal
// PageSize; it fails with EINVAL if violated or if an entry already
// exists there (spec §4.8).
func (s *SPT_t) Add(kind Kind_t, file *fs.File_t, offset int, userPage uintptr, readBytes, zeroBytes int, writable bool) defs.Err_t {
	if readBytes+zeroBytes != PageSize {
		return defs.EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[userPage]; ok {
		return defs.EINVAL
	}
	s.entries[userPage] = &SPTEntry_t{
		Kind: kind, File: file, Offset: offset,
		ReadBytes: readBytes, ZeroBytes: zeroBytes, Writable: writable,
	}
	return 0
}

// Remove drops the metadata entry for userPage. The caller is
// responsible for separately freeing any frame backing it.
func (s *SPT_t) Remove(userPage uintptr) {
	s.mu.Lock()
	delete(s.entries, userPage)
	s.mu.Unlock()
}

// Find returns the entry for userPage, if any.
func (s *SPT_t) Find(userPage uintptr) (*SPTEntry_t, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userPage]
	return e, ok
}

// markEvicted is called by the frame table when this process's page is
// chosen as an eviction victim: it clears Resident and returns the
// entry so the frame table can decide how to write the page back.
func (s *SPT_t) markEvicted(userPage uintptr) *SPTEntry_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[userPage]
	e.Resident = false
	return e
}

// restoreResident undoes markEvicted for a victim whose eviction was
// aborted (spec §7 "a failed write-back during eviction aborts the
// eviction of that frame").
func (s *SPT_t) restoreResident(userPage uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[userPage]; ok {
		e.Resident = true
	}
}

// dropFrame removes and releases userPage's frame, if any is
// currently resident, without touching the SPT entry itself (spec §3
// "Frame entry: destroyed on eviction, munmap, or process teardown").
func (s *SPT_t) dropFrame(userPage uintptr) {
	s.pt.ClearMapping(s.pd, userPage)
	s.ft.FreeFrame(s, userPage)
}

// Teardown clears every resident page's hardware mapping and releases
// its frame, then drops all entries — used at process exit to tear
// down the SPT and its frame ownership alongside Mmap_t.UnmapAll
// (spec §4.9 "tearing down the SPT and the frame ownership").
func (s *SPT_t) Teardown() {
	s.mu.Lock()
	pages := make([]uintptr, 0, len(s.entries))
	for page, e := range s.entries {
		if e.Resident {
			pages = append(pages, page)
		}
	}
	s.mu.Unlock()

	for _, page := range pages {
		s.dropFrame(page)
		s.mu.Lock()
		if e, ok := s.entries[page]; ok {
			e.Resident = false
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.entries = make(map[uintptr]*SPTEntry_t)
	s.mu.Unlock()
}

// LoadPage looks up userPage's entry, fails if it is already resident,
// and otherwise acquires a frame and populates it according to the
// entry's backing-kind before installing the hardware mapping (spec
// §4.8 "load_page").
func (s *SPT_t) LoadPage(userPage uintptr, evictable bool) defs.Err_t {
	s.mu.Lock()
	e, ok := s.entries[userPage]
	s.mu.Unlock()
	if !ok {
		return defs.EFAULT
	}
	if e.Resident {
		return defs.EINVAL
	}

	h, err := s.ft.GetFrame(s, s.pd, userPage, evictable)
	if err != 0 {
		return err
	}
	frame := h.Frame()

	switch e.Kind {
	case KindSwap:
		if err := s.ft.swap.SwapIn(e.Slot, frame); err != 0 {
			h.Release()
			return err
		}
	case KindFile, KindMisc, KindMmap:
		n, rerr := e.File.ReadAt(frame[:e.ReadBytes], e.Offset)
		if rerr != 0 {
			h.Release()
			return rerr
		}
		for i := n; i < e.ReadBytes; i++ {
			frame[i] = 0
		}
		for i := e.ReadBytes; i < PageSize; i++ {
			frame[i] = 0
		}
	case KindZero:
		for i := range frame {
			frame[i] = 0
		}
	}

	s.pt.SetMapping(s.pd, userPage, frame, e.Writable)
	s.mu.Lock()
	if e.Kind == KindSwap {
		e.Kind = e.origKind
	}
	e.Resident = true
	s.mu.Unlock()
	h.Release()
	return 0
}

// GrowStack extends the stack to cover userPage, refusing pages more
// than stackCap below the stack's top or more than one page below the
// current stack pointer sp (spec §4.8 "Stack growth").
func (s *SPT_t) GrowStack(userPage, sp uintptr) defs.Err_t {
	if userPage > s.stackTop || s.stackTop-userPage > s.stackCap {
		return defs.EFAULT
	}
	if sp > userPage && sp-userPage > PageSize {
		return defs.EFAULT
	}
	if err := s.Add(KindZero, nil, 0, userPage, 0, PageSize, true); err != 0 {
		return err
	}
	return s.LoadPage(userPage, false)
}
