// Package vm implements the demand-paged virtual memory engine: the
// per-process supplementary page table, the global frame table with
// clock eviction, and memory-mapped files (spec §4.7-§4.9). The
// hardware page tables and the physical page allocator are external
// collaborators (spec §6); this package only consumes them through the
// PageTable_i and PhysAlloc_i interfaces below.
package vm

// PageSize is the hardware page size.
const PageSize = 4096

// Frame is a handle to one physical page's backing storage, exactly
// PageSize bytes. It stands in for the teacher's mem.Pa_t physical
// address — the real kernel never holds it as a Go slice, but letting
// VM code read and write through it directly keeps page loading,
// eviction, and swap I/O free of a separate "map this physical frame"
// step, which here would have no hardware to call into.
type Frame = *[PageSize]byte

// PhysAlloc_i is the physical page allocator consumed by the frame
// table (spec §6 "Physical allocator").
type PhysAlloc_i interface {
	AllocUserPage() (Frame, bool)
	FreeUserPage(Frame)
}

// PageTable_i is the hardware page table consumed by the frame table
// and supplementary page table (spec §6 "Hardware page tables"). pd
// identifies a process's page directory; vaddr is a page-aligned user
// virtual address.
type PageTable_i interface {
	GetMapping(pd any, vaddr uintptr) (frame Frame, writable bool, ok bool)
	SetMapping(pd any, vaddr uintptr, frame Frame, writable bool)
	ClearMapping(pd any, vaddr uintptr)
	IsAccessed(pd any, vaddr uintptr) bool
	SetAccessed(pd any, vaddr uintptr, val bool)
	IsDirty(pd any, vaddr uintptr) bool
}
