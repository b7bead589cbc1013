package fs

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/hwang-pku/pintos/defs"
	"github.com/hwang-pku/pintos/disk"
	"github.com/hwang-pku/pintos/util"
)

// InodeMagic tags a formatted on-disk inode sector.
const InodeMagic uint32 = 0x494e4f44

// DirectBlocks is the number of direct block pointers an inode carries.
const DirectBlocks = 124

// IndirectEntries is the number of sector ids that fit in one indirect
// block (512 / 4).
const IndirectEntries = disk.SectorSize / 4

// MaxFileSectors is the largest file size expressible by 124 direct
// blocks plus one doubly-indirect tree.
const MaxFileSectors = DirectBlocks + IndirectEntries*IndirectEntries

// MaxFileSize is MaxFileSectors worth of bytes (~8 MiB).
const MaxFileSize = MaxFileSectors * disk.SectorSize

// inode sector layout offsets (exactly one 512-byte sector).
const (
	offIsDir    = 0
	offIndirect = 4
	offDirect   = 8
	offLength   = offDirect + DirectBlocks*4
	offMagic    = offLength + 4
)

// Inode_t is an open, in-memory inode: the cached on-disk fields plus
// the reference count and locks described in spec §3/§4.3.
type Inode_t struct {
	growth sync.Mutex // held during file extension (spec's inode growth lock)
	refmu  sync.Mutex // protects openCount/denyWrite/removed

	sector disk.Sector
	fs     *Fs_t

	openCount int
	denyWrite int
	removed   bool

	isDir    bool
	indirect disk.Sector
	direct   [DirectBlocks]disk.Sector
	length   uint32 // read-visible length; read/written with atomic ops
}

func decodeInodeInto(ino *Inode_t, buf []byte) bool {
	if binary.LittleEndian.Uint32(buf[offMagic:]) != InodeMagic {
		return false
	}
	ino.isDir = binary.LittleEndian.Uint32(buf[offIsDir:]) != 0
	ino.indirect = disk.Sector(binary.LittleEndian.Uint32(buf[offIndirect:]))
	for i := 0; i < DirectBlocks; i++ {
		ino.direct[i] = disk.Sector(binary.LittleEndian.Uint32(buf[offDirect+i*4:]))
	}
	ino.length = binary.LittleEndian.Uint32(buf[offLength:])
	return true
}

// writeMeta persists the inode's in-memory fields to its sector.
func (ino *Inode_t) writeMeta() {
	buf := make([]byte, disk.SectorSize)
	if ino.isDir {
		binary.LittleEndian.PutUint32(buf[offIsDir:], 1)
	}
	binary.LittleEndian.PutUint32(buf[offIndirect:], uint32(ino.indirect))
	for i := 0; i < DirectBlocks; i++ {
		binary.LittleEndian.PutUint32(buf[offDirect+i*4:], uint32(ino.direct[i]))
	}
	binary.LittleEndian.PutUint32(buf[offLength:], atomic.LoadUint32(&ino.length))
	binary.LittleEndian.PutUint32(buf[offMagic:], InodeMagic)
	ino.fs.cache.Write(ino.sector, buf, 0, disk.SectorSize)
}

// Sector returns the inode's own on-disk sector (used as its inumber).
func (ino *Inode_t) Sector() disk.Sector { return ino.sector }

// IsDir reports whether this inode is a directory.
func (ino *Inode_t) IsDir() bool { return ino.isDir }

// Length returns the current read-visible length in bytes.
func (ino *Inode_t) Length() int { return int(atomic.LoadUint32(&ino.length)) }

// CreateInode formats a fresh inode at sector: zero-filled, sized to
// cover length bytes, with every sector needed to reach length
// allocated up front (spec §4.3 create).
func (fs *Fs_t) CreateInode(sector disk.Sector, length int, isDir bool) defs.Err_t {
	if length < 0 || length > MaxFileSize {
		return defs.EFBIG
	}
	tmp := &Inode_t{sector: sector, fs: fs, isDir: isDir}
	target := 0
	if length > 0 {
		target = (length + disk.SectorSize - 1) / disk.SectorSize
	}
	if err := tmp.extend(target); err != 0 {
		tmp.freeAllBlocks()
		return err
	}
	tmp.length = uint32(length)
	tmp.writeMeta()
	return 0
}

// blockno maps a sector-index within the file to its physical sector,
// without allocating. ok is false for an unallocated (sparse) index.
func (ino *Inode_t) blockno(idx int) (disk.Sector, bool) {
	if idx < DirectBlocks {
		s := ino.direct[idx]
		return s, s != 0
	}
	idx2 := idx - DirectBlocks
	l1 := idx2 / IndirectEntries
	l2 := idx2 % IndirectEntries
	if ino.indirect == 0 {
		return 0, false
	}
	l1buf := make([]byte, 4)
	ino.fs.cache.Read(ino.indirect, l1buf, l1*4, 4)
	l1sector := disk.Sector(binary.LittleEndian.Uint32(l1buf))
	if l1sector == 0 {
		return 0, false
	}
	ebuf := make([]byte, 4)
	ino.fs.cache.Read(l1sector, ebuf, l2*4, 4)
	s := disk.Sector(binary.LittleEndian.Uint32(ebuf))
	return s, s != 0
}

// setBlock records sector as the backing of sector-index idx, allocating
// whatever indirect-tree nodes are needed to reach it.
func (ino *Inode_t) setBlock(idx int, sector disk.Sector) defs.Err_t {
	if idx < DirectBlocks {
		ino.direct[idx] = sector
		return 0
	}
	idx2 := idx - DirectBlocks
	l1 := idx2 / IndirectEntries
	l2 := idx2 % IndirectEntries

	if ino.indirect == 0 {
		s, ok := ino.fs.freemap.Allocate(1)
		if !ok {
			return defs.ENOSPC
		}
		ino.indirect = s
		zero := make([]byte, disk.SectorSize)
		ino.fs.cache.Write(s, zero, 0, disk.SectorSize)
	}

	l1buf := make([]byte, disk.SectorSize)
	ino.fs.cache.Read(ino.indirect, l1buf, 0, disk.SectorSize)
	l1sector := disk.Sector(binary.LittleEndian.Uint32(l1buf[l1*4:]))
	if l1sector == 0 {
		s, ok := ino.fs.freemap.Allocate(1)
		if !ok {
			return defs.ENOSPC
		}
		l1sector = s
		zero := make([]byte, disk.SectorSize)
		ino.fs.cache.Write(s, zero, 0, disk.SectorSize)
		binary.LittleEndian.PutUint32(l1buf[l1*4:], uint32(s))
		ino.fs.cache.Write(ino.indirect, l1buf, 0, disk.SectorSize)
	}

	var entry [4]byte
	binary.LittleEndian.PutUint32(entry[:], uint32(sector))
	ino.fs.cache.Write(l1sector, entry[:], l2*4, 4)
	return 0
}

// extend grows the inode's sector chain to cover targetSectors sectors,
// allocating and zeroing each newly-needed sector. Failure midway
// leaves every sector allocated so far reachable from the inode (they
// are reclaimed at close if the caller then removes the inode).
func (ino *Inode_t) extend(targetSectors int) defs.Err_t {
	current := 0
	if ino.length > 0 {
		current = (int(ino.length) + disk.SectorSize - 1) / disk.SectorSize
	}
	for idx := current; idx < targetSectors; idx++ {
		sec, ok := ino.fs.freemap.Allocate(1)
		if !ok {
			return defs.ENOSPC
		}
		if err := ino.setBlock(idx, sec); err != 0 {
			ino.fs.freemap.Release(sec, 1)
			return err
		}
		zero := make([]byte, disk.SectorSize)
		ino.fs.cache.Write(sec, zero, 0, disk.SectorSize)
	}
	return 0
}

// freeAllBlocks releases every allocated data sector and indirect-tree
// node reachable from this inode (spec §4.3 removal).
func (ino *Inode_t) freeAllBlocks() {
	for i := 0; i < DirectBlocks; i++ {
		if ino.direct[i] != 0 {
			ino.fs.freemap.Release(ino.direct[i], 1)
			ino.direct[i] = 0
		}
	}
	if ino.indirect != 0 {
		l1buf := make([]byte, disk.SectorSize)
		ino.fs.cache.Read(ino.indirect, l1buf, 0, disk.SectorSize)
		for l1 := 0; l1 < IndirectEntries; l1++ {
			l1sector := disk.Sector(binary.LittleEndian.Uint32(l1buf[l1*4:]))
			if l1sector == 0 {
				continue
			}
			ebuf := make([]byte, disk.SectorSize)
			ino.fs.cache.Read(l1sector, ebuf, 0, disk.SectorSize)
			for l2 := 0; l2 < IndirectEntries; l2++ {
				s := disk.Sector(binary.LittleEndian.Uint32(ebuf[l2*4:]))
				if s != 0 {
					ino.fs.freemap.Release(s, 1)
				}
			}
			ino.fs.freemap.Release(l1sector, 1)
		}
		ino.fs.freemap.Release(ino.indirect, 1)
		ino.indirect = 0
	}
}

// ReadAt reads up to len(dst) bytes starting at offset, short-reading at
// end of file (spec §8: returns min(n, max(0, length-off))).
func (ino *Inode_t) ReadAt(dst []byte, offset int) (int, defs.Err_t) {
	if offset < 0 {
		return 0, defs.EINVAL
	}
	length := int(atomic.LoadUint32(&ino.length))
	if offset >= length {
		return 0, 0
	}
	n := len(dst)
	if offset+n > length {
		n = length - offset
	}
	pos, out, remaining := offset, 0, n
	for remaining > 0 {
		idx := pos / disk.SectorSize
		secOff := pos % disk.SectorSize
		chunk := util.Min(remaining, disk.SectorSize-secOff)
		if sec, ok := ino.blockno(idx); ok {
			ino.fs.cache.Read(sec, dst[out:out+chunk], secOff, chunk)
		} else {
			for i := 0; i < chunk; i++ {
				dst[out+i] = 0
			}
		}
		pos += chunk
		out += chunk
		remaining -= chunk
	}
	return n, 0
}

func (ino *Inode_t) doWrite(src []byte, offset int) {
	pos, out, remaining := offset, 0, len(src)
	for remaining > 0 {
		idx := pos / disk.SectorSize
		secOff := pos % disk.SectorSize
		chunk := util.Min(remaining, disk.SectorSize-secOff)
		sec, ok := ino.blockno(idx)
		if !ok {
			panic("fs: write to unallocated sector")
		}
		ino.fs.cache.Write(sec, src[out:out+chunk], secOff, chunk)
		pos += chunk
		out += chunk
		remaining -= chunk
	}
}

// WriteAt writes src at offset, extending the file under the growth
// lock if necessary. The new read-visible length is published only
// after the new sectors are zeroed and the caller's bytes are written,
// so concurrent readers never see uninitialized data (spec §4.3/§5).
// Writes that stay within the current length take no lock at all,
// so concurrent writers to disjoint regions of the same file run in
// parallel; only extension (and directory mutation, via writeLocked)
// serializes on the growth lock.
func (ino *Inode_t) WriteAt(src []byte, offset int) (int, defs.Err_t) {
	if offset < 0 {
		return 0, defs.EINVAL
	}
	if len(src) == 0 {
		return 0, 0
	}
	end := offset + len(src)
	if end > MaxFileSize {
		return 0, defs.EFBIG
	}

	if end <= int(atomic.LoadUint32(&ino.length)) {
		ino.doWrite(src, offset)
		return len(src), 0
	}

	ino.growth.Lock()
	defer ino.growth.Unlock()
	return ino.writeLocked(src, offset)
}

// writeLocked performs the same work as WriteAt but assumes the caller
// already holds the growth lock — used by directory mutation (Add,
// parent-link writes), which must scan and mutate the directory's
// backing file as one atomic step under that same lock (spec §4.4).
func (ino *Inode_t) writeLocked(src []byte, offset int) (int, defs.Err_t) {
	end := offset + len(src)
	if end > MaxFileSize {
		return 0, defs.EFBIG
	}
	if end > int(atomic.LoadUint32(&ino.length)) {
		target := (end + disk.SectorSize - 1) / disk.SectorSize
		if err := ino.extend(target); err != 0 {
			return 0, err
		}
		ino.doWrite(src, offset)
		atomic.StoreUint32(&ino.length, uint32(end))
		ino.writeMeta()
		return len(src), 0
	}
	ino.doWrite(src, offset)
	return len(src), 0
}

// DenyWrite inhibits writes to this inode while it backs a running
// executable (spec §4.3).
func (ino *Inode_t) DenyWrite() {
	ino.refmu.Lock()
	ino.denyWrite++
	ino.refmu.Unlock()
}

// AllowWrite reverses one DenyWrite.
func (ino *Inode_t) AllowWrite() {
	ino.refmu.Lock()
	if ino.denyWrite == 0 {
		panic("fs: allow_write without deny_write")
	}
	ino.denyWrite--
	ino.refmu.Unlock()
}

// WritesDenied reports whether any opener currently holds deny_write.
func (ino *Inode_t) WritesDenied() bool {
	ino.refmu.Lock()
	defer ino.refmu.Unlock()
	return ino.denyWrite > 0
}

// Open returns the in-memory inode for sector, bumping its open count
// if already resident in the open-inode table, or populating it from
// the cache otherwise.
func (fs *Fs_t) Open(sector disk.Sector) (*Inode_t, defs.Err_t) {
	fs.mu.Lock()
	if ino, ok := fs.openInodes[sector]; ok {
		ino.refmu.Lock()
		ino.openCount++
		ino.refmu.Unlock()
		fs.mu.Unlock()
		return ino, 0
	}
	fs.mu.Unlock()

	buf := make([]byte, disk.SectorSize)
	fs.cache.Read(sector, buf, 0, disk.SectorSize)
	ino := &Inode_t{sector: sector, fs: fs, openCount: 1}
	if !decodeInodeInto(ino, buf) {
		return nil, defs.ENOENT
	}

	fs.mu.Lock()
	if existing, ok := fs.openInodes[sector]; ok {
		existing.refmu.Lock()
		existing.openCount++
		existing.refmu.Unlock()
		fs.mu.Unlock()
		return existing, 0
	}
	fs.openInodes[sector] = ino
	fs.mu.Unlock()
	return ino, 0
}

// MarkRemoved flags the inode for deletion; actual reclamation happens
// when the last opener closes it (spec §4.3).
func (ino *Inode_t) MarkRemoved() {
	ino.refmu.Lock()
	ino.removed = true
	ino.refmu.Unlock()
}

// Removed reports whether MarkRemoved has been called.
func (ino *Inode_t) Removed() bool {
	ino.refmu.Lock()
	defer ino.refmu.Unlock()
	return ino.removed
}

// Close decrements the inode's open count. Once the count reaches zero
// it drops the inode from the open-inode table and, if the inode was
// marked removed, reclaims its sectors.
func (fs *Fs_t) Close(ino *Inode_t) {
	ino.refmu.Lock()
	ino.openCount--
	if ino.openCount > 0 {
		ino.refmu.Unlock()
		return
	}
	removed := ino.removed
	ino.refmu.Unlock()

	fs.mu.Lock()
	delete(fs.openInodes, ino.sector)
	fs.mu.Unlock()

	if removed {
		ino.freeAllBlocks()
		fs.freemap.Release(ino.sector, 1)
	}
}
