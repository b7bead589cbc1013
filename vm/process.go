package vm

import (
	"github.com/hwang-pku/pintos/defs"
	"github.com/hwang-pku/pintos/fs"
)

// SetEvictable finds the frame currently mapping (pd, page), if any,
// and toggles whether it may be chosen as an eviction victim (spec
// §4.7 "Pinning").
func (ft *FrameTable_t) SetEvictable(pd any, page uintptr, v bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	for _, fd := range ft.frames {
		if fd.pd == pd && fd.page == page {
			fd.Lock()
			fd.evictable = v
			fd.Unlock()
			return
		}
	}
}

// Vm_t wires one process's supplementary page table and mmap table
// together, the way the teacher's Vm_t wires Vmregion and Pmap under a
// single per-process handle (spec §5 "SPT and mmap tables are
// per-process").
type Vm_t struct {
	SPT  *SPT_t
	Mmap *Mmap_t
	ft   *FrameTable_t
	pd   any
}

// MkVm constructs the VM state for a new process whose hardware page
// directory is pd and whose user stack begins at stackTop.
func MkVm(ft *FrameTable_t, pt PageTable_i, pd any, stackTop uintptr) *Vm_t {
	spt := MkSPT(ft, pt, pd, stackTop)
	return &Vm_t{SPT: spt, Mmap: MkMmapTable(spt), ft: ft, pd: pd}
}

func pageRange(userPtr uintptr, size int) (uintptr, uintptr) {
	first := (userPtr / PageSize) * PageSize
	last := ((userPtr + uintptr(size) - 1) / PageSize) * PageSize
	return first, last
}

// TryLoadMultiple lazily installs every page covering [userPtr,
// userPtr+size) and pins each one, so a syscall can safely read or
// write a user buffer without the pages being evicted mid-transfer
// (spec §6 "VM operations exposed to system calls").
func (vm *Vm_t) TryLoadMultiple(userPtr uintptr, size int) defs.Err_t {
	first, last := pageRange(userPtr, size)
	for page := first; page <= last; page += PageSize {
		e, ok := vm.SPT.Find(page)
		if !ok {
			return defs.EFAULT
		}
		if !e.Resident {
			if err := vm.SPT.LoadPage(page, false); err != 0 {
				return err
			}
		} else {
			vm.ft.SetEvictable(vm.pd, page, false)
		}
	}
	return 0
}

// ResetEvictability un-pins every page covering [userPtr, userPtr+size),
// reversing a prior TryLoadMultiple once the syscall's I/O completes.
func (vm *Vm_t) ResetEvictability(userPtr uintptr, size int) {
	first, last := pageRange(userPtr, size)
	for page := first; page <= last; page += PageSize {
		vm.ft.SetEvictable(vm.pd, page, true)
	}
}

// MapFile maps file at base, returning a mapping id (spec §6 "mmap").
func (vm *Vm_t) MapFile(file *fs.File_t, base uintptr) (int, defs.Err_t) {
	return vm.Mmap.Map(file, base)
}

// UnmapFile reverses MapFile (spec §6 "munmap").
func (vm *Vm_t) UnmapFile(id int) defs.Err_t {
	return vm.Mmap.Unmap(id)
}

// Exit unmaps every remaining mapping with writeback, then tears down
// the SPT's own resident frames and ownership (spec §4.9 "Process exit
// unmaps every remaining mapping" and "tearing down the SPT and the
// frame ownership").
func (vm *Vm_t) Exit() {
	vm.Mmap.UnmapAll()
	vm.SPT.Teardown()
}
