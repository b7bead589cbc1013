package fs

import (
	"sync"

	"github.com/hwang-pku/pintos/defs"
	"github.com/hwang-pku/pintos/disk"
)

// File_t is an open file handle exposed to system calls: a backing
// inode plus a private seek position (spec §6 "File system operations
// exposed to system calls").
type File_t struct {
	mu  sync.Mutex
	fs  *Fs_t
	ino *Inode_t
	pos int
}

// Read reads into dst starting at the handle's current position and
// advances it by the number of bytes actually read.
func (f *File_t) Read(dst []byte) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.ino.ReadAt(dst, f.pos)
	f.pos += n
	return n, err
}

// Write writes src starting at the handle's current position and
// advances it by the number of bytes actually written.
func (f *File_t) Write(src []byte) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ino.WritesDenied() {
		return 0, defs.EBUSY
	}
	n, err := f.ino.WriteAt(src, f.pos)
	f.pos += n
	return n, err
}

// ReadAt reads into dst at offset without touching the handle's seek
// position, used by the VM layer to load file-backed and mmap'ed
// pages (spec §4.8 "Preserves the file's current position").
func (f *File_t) ReadAt(dst []byte, offset int) (int, defs.Err_t) {
	return f.ino.ReadAt(dst, offset)
}

// WriteAt writes src at offset without touching the handle's seek
// position, used by mmap writeback and eviction of dirty MMAP pages
// (spec §4.7/§4.9).
func (f *File_t) WriteAt(src []byte, offset int) (int, defs.Err_t) {
	return f.ino.WriteAt(src, offset)
}

// Seek repositions the handle; seeking past the current length is
// legal and simply makes the next write extend the file (spec §4.3).
func (f *File_t) Seek(offset int) {
	f.mu.Lock()
	f.pos = offset
	f.mu.Unlock()
}

// Tell returns the handle's current position.
func (f *File_t) Tell() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

// Length returns the file's current byte length.
func (f *File_t) Length() int {
	return f.ino.Length()
}

// Inumber returns the sector backing this file, used as its stable
// inumber (spec §6).
func (f *File_t) Inumber() disk.Sector {
	return f.ino.Sector()
}

// IsDir reports whether the handle is backed by a directory inode.
func (f *File_t) IsDir() bool {
	return f.ino.IsDir()
}

// DenyWrite marks the backing inode non-writable while this handle is
// open, used when a file backs a running executable.
func (f *File_t) DenyWrite() {
	f.ino.DenyWrite()
}

// AllowWrite reverses DenyWrite.
func (f *File_t) AllowWrite() {
	f.ino.AllowWrite()
}

// Inode exposes the backing inode, used by the VM layer to satisfy
// file-backed page faults and mmap (spec §4.9).
func (f *File_t) Inode() *Inode_t {
	return f.ino
}

// Close releases the handle's reference to its backing inode.
func (f *File_t) Close() {
	f.fs.Close(f.ino)
}
