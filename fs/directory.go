package fs

import (
	"encoding/binary"

	"github.com/hwang-pku/pintos/defs"
	"github.com/hwang-pku/pintos/disk"
)

// direntSize is sizeof(entry): a 4-byte inode sector, a NUL-terminated
// name up to NameMax bytes, and an in-use flag.
const direntSize = 4 + NameMax + 1 + 1

const (
	direntSector = 0
	direntName   = 4
	direntInUse  = 4 + NameMax + 1
)

func encodeEntry(sector disk.Sector, name string, inUse bool) []byte {
	buf := make([]byte, direntSize)
	binary.LittleEndian.PutUint32(buf[direntSector:], uint32(sector))
	copy(buf[direntName:direntName+NameMax], name)
	if inUse {
		buf[direntInUse] = 1
	}
	return buf
}

func decodeName(buf []byte) string {
	raw := buf[direntName : direntName+NameMax+1]
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}

// writeParentLink stores parent at offset 0 of dir's backing file — the
// reserved parent-link slot (spec §3).
func writeParentLink(dir *Inode_t, parent disk.Sector) {
	dir.growth.Lock()
	defer dir.growth.Unlock()
	buf := make([]byte, direntSize)
	binary.LittleEndian.PutUint32(buf[direntSector:], uint32(parent))
	dir.writeLocked(buf, 0)
}

func readParentLink(dir *Inode_t) disk.Sector {
	buf := make([]byte, direntSize)
	dir.ReadAt(buf, 0)
	return disk.Sector(binary.LittleEndian.Uint32(buf[direntSector:]))
}

// Dir_t is an open directory handle: the backing open inode plus a scan
// position used by Readdir (spec §3 "Open directory handle").
type Dir_t struct {
	ino *Inode_t
	pos int
}

// CreateDir formats a directory inode at sector sized to hold the
// parent-link slot plus nEntries regular entries.
func (fs *Fs_t) CreateDir(sector disk.Sector, nEntries int) defs.Err_t {
	return fs.CreateInode(sector, (nEntries+1)*direntSize, true)
}

// OpenDir opens the directory backed by the inode at sector.
func (fs *Fs_t) OpenDir(sector disk.Sector) (*Dir_t, defs.Err_t) {
	ino, err := fs.Open(sector)
	if err != 0 {
		return nil, err
	}
	if !ino.IsDir() {
		fs.Close(ino)
		return nil, defs.ENOTDIR
	}
	return &Dir_t{ino: ino, pos: direntSize}, 0
}

// ReopenDir duplicates the directory handle, bumping the backing inode's
// reference count.
func (fs *Fs_t) ReopenDir(d *Dir_t) *Dir_t {
	ino, _ := fs.Open(d.ino.sector)
	return &Dir_t{ino: ino, pos: direntSize}
}

// CloseDir releases a directory handle.
func (fs *Fs_t) CloseDir(d *Dir_t) {
	fs.Close(d.ino)
}

// Inode returns the backing inode of an open directory.
func (d *Dir_t) Inode() *Inode_t { return d.ino }

// GetParent returns the inode sector of dir's parent; the root is its
// own parent.
func (fs *Fs_t) GetParent(dir *Dir_t) disk.Sector {
	return readParentLink(dir.ino)
}

// Lookup scans dir's entries for name, special-casing "." and "..".
// The scan holds the directory inode's growth lock so it observes a
// consistent snapshot with respect to concurrent Add/Remove (spec §4.4).
func (fs *Fs_t) Lookup(dir *Dir_t, name string) (disk.Sector, bool) {
	if name == "." {
		return dir.ino.sector, true
	}
	if name == ".." {
		return readParentLink(dir.ino), true
	}
	dir.ino.growth.Lock()
	defer dir.ino.growth.Unlock()
	return lookupLocked(dir.ino, name)
}

func lookupLocked(ino *Inode_t, name string) (disk.Sector, bool) {
	length := ino.Length()
	buf := make([]byte, direntSize)
	for off := direntSize; off+direntSize <= length; off += direntSize {
		ino.ReadAt(buf, off)
		if buf[direntInUse] != 0 && decodeName(buf) == name {
			return disk.Sector(binary.LittleEndian.Uint32(buf[direntSector:])), true
		}
	}
	return 0, false
}

// Add inserts a new entry for name → inodeSector into dir. If isDir,
// the new directory's parent-link slot is pointed back at dir first
// (spec §4.4).
func (fs *Fs_t) Add(dir *Dir_t, name string, inodeSector disk.Sector, isDir bool) defs.Err_t {
	if len(name) == 0 {
		return defs.EINVAL
	}
	if len(name) > NameMax {
		return defs.ENAMETOOLONG
	}
	if dir.ino.Removed() {
		return defs.ESTALE
	}

	dir.ino.growth.Lock()
	defer dir.ino.growth.Unlock()

	if _, ok := lookupLocked(dir.ino, name); ok {
		return defs.EEXIST
	}

	if isDir {
		child, err := fs.Open(inodeSector)
		if err != 0 {
			return err
		}
		writeParentLink(child, dir.ino.sector)
		fs.Close(child)
	}

	length := dir.ino.Length()
	buf := make([]byte, direntSize)
	writeOff := -1
	for off := direntSize; off+direntSize <= length; off += direntSize {
		dir.ino.ReadAt(buf, off)
		if buf[direntInUse] == 0 {
			writeOff = off
			break
		}
	}
	if writeOff == -1 {
		writeOff = length
	}

	entry := encodeEntry(inodeSector, name, true)
	_, err := dir.ino.writeLocked(entry, writeOff)
	return err
}

// RemoveEntry unlinks name from dir. A non-empty directory target is
// rejected; storage reclamation happens when the target's last opener
// closes it (spec §4.4).
func (fs *Fs_t) RemoveEntry(dir *Dir_t, name string) defs.Err_t {
	if name == "." || name == ".." {
		return defs.EINVAL
	}
	dir.ino.growth.Lock()
	defer dir.ino.growth.Unlock()

	length := dir.ino.Length()
	buf := make([]byte, direntSize)
	targetOff := -1
	var targetSector disk.Sector
	for off := direntSize; off+direntSize <= length; off += direntSize {
		dir.ino.ReadAt(buf, off)
		if buf[direntInUse] != 0 && decodeName(buf) == name {
			targetOff = off
			targetSector = disk.Sector(binary.LittleEndian.Uint32(buf[direntSector:]))
			break
		}
	}
	if targetOff == -1 {
		return defs.ENOENT
	}

	target, err := fs.Open(targetSector)
	if err != 0 {
		return err
	}
	if target.IsDir() && !dirIsEmpty(target) {
		fs.Close(target)
		return defs.ENOTEMPTY
	}

	freeBuf := make([]byte, direntSize) // zeroed: in-use bit clear
	if _, err := dir.ino.writeLocked(freeBuf, targetOff); err != 0 {
		fs.Close(target)
		return err
	}
	target.MarkRemoved()
	fs.Close(target)
	return 0
}

// dirIsEmpty reports whether ino (a directory inode) holds no entries
// besides its reserved parent-link slot.
func dirIsEmpty(ino *Inode_t) bool {
	length := ino.Length()
	buf := make([]byte, direntSize)
	for off := direntSize; off+direntSize <= length; off += direntSize {
		ino.ReadAt(buf, off)
		if buf[direntInUse] != 0 {
			return false
		}
	}
	return true
}

// Readdir advances handle's scan position past free slots and returns
// the next in-use entry's name, or ok=false at end of file.
func (fs *Fs_t) Readdir(d *Dir_t) (string, bool) {
	buf := make([]byte, direntSize)
	length := d.ino.Length()
	for d.pos+direntSize <= length {
		off := d.pos
		d.pos += direntSize
		d.ino.ReadAt(buf, off)
		if buf[direntInUse] != 0 {
			return decodeName(buf), true
		}
	}
	return "", false
}
