package vm

import (
	"sync"

	"github.com/hwang-pku/pintos/defs"
	"github.com/hwang-pku/pintos/fs"
)

// Mapping_t is one memory-mapped file's bookkeeping (spec §4.9).
type Mapping_t struct {
	file  *fs.File_t
	base  uintptr
	pages int
}

// Mmap_t is one process's table of active mmap descriptors (spec §5
// "SPT and mmap tables are per-process").
type Mmap_t struct {
	mu       sync.Mutex
	spt      *SPT_t
	next     int
	mappings map[int]*Mapping_t
}

// MkMmapTable constructs an empty mmap table for the process owning spt.
func MkMmapTable(spt *SPT_t) *Mmap_t {
	return &Mmap_t{spt: spt, mappings: make(map[int]*Mapping_t)}
}

// stdioFile reports whether f is stdin/stdout, which callers identify
// by passing a nil *fs.File_t (those descriptors have no backing
// inode in this filesystem).
func stdioFile(f *fs.File_t) bool { return f == nil }

// Map registers file as mapped starting at base, adding an MMAP-kind
// SPT entry for every covered page. It rejects a non-page-aligned or
// zero base, stdin/stdout, and any base that overlaps an existing SPT
// entry (spec §4.9 "map").
func (m *Mmap_t) Map(file *fs.File_t, base uintptr) (int, defs.Err_t) {
	if base == 0 || base%PageSize != 0 {
		return 0, defs.EINVAL
	}
	if stdioFile(file) {
		return 0, defs.EINVAL
	}
	length := file.Length()
	if length == 0 {
		return 0, defs.EINVAL
	}
	pages := (length + PageSize - 1) / PageSize

	for i := 0; i < pages; i++ {
		if _, ok := m.spt.Find(base + uintptr(i*PageSize)); ok {
			return 0, defs.EINVAL
		}
	}

	for i := 0; i < pages; i++ {
		page := base + uintptr(i*PageSize)
		offset := i * PageSize
		readBytes := PageSize
		if i == pages-1 {
			readBytes = length - offset
		}
		zeroBytes := PageSize - readBytes
		if err := m.spt.Add(KindMmap, file, offset, page, readBytes, zeroBytes, true); err != 0 {
			for j := 0; j < i; j++ {
				m.spt.Remove(base + uintptr(j*PageSize))
			}
			return 0, err
		}
	}

	m.mu.Lock()
	id := m.next
	m.next++
	m.mappings[id] = &Mapping_t{file: file, base: base, pages: pages}
	m.mu.Unlock()
	return id, 0
}

// Unmap writes back any resident, dirty pages of mapping id to its
// file, drops their SPT entries, and closes the mapping's file handle
// (spec §4.9 "unmap").
func (m *Mmap_t) Unmap(id int) defs.Err_t {
	m.mu.Lock()
	mapping, ok := m.mappings[id]
	if ok {
		delete(m.mappings, id)
	}
	m.mu.Unlock()
	if !ok {
		return defs.EINVAL
	}

	for i := 0; i < mapping.pages; i++ {
		page := mapping.base + uintptr(i*PageSize)
		entry, ok := m.spt.Find(page)
		if !ok {
			continue
		}
		if entry.Resident {
			if frame, writable, ok := m.spt.pt.GetMapping(m.spt.pd, page); ok && writable && m.spt.pt.IsDirty(m.spt.pd, page) {
				mapping.file.WriteAt(frame[:entry.ReadBytes], entry.Offset)
			}
			m.spt.pt.ClearMapping(m.spt.pd, page)
			m.spt.ft.FreeFrame(m.spt, page)
		}
		m.spt.Remove(page)
	}
	mapping.file.Close()
	return 0
}

// UnmapAll unmaps every outstanding mapping, used at process exit
// (spec §4.9 "Process exit unmaps every remaining mapping").
func (m *Mmap_t) UnmapAll() {
	m.mu.Lock()
	ids := make([]int, 0, len(m.mappings))
	for id := range m.mappings {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Unmap(id)
	}
}
