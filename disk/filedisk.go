package disk

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDisk_t backs a Disk_i with an ordinary file, the way the teacher's
// ahci_disk_t simulates a disk over an *os.File (ufs/driver.go). That
// implementation serializes every transfer behind Seek+Read/Write under
// one mutex; this one uses positioned pread/pwrite instead so sector
// transfers issued by distinct buffer-cache entries — which the cache
// deliberately allows to run concurrently once residency is settled —
// don't contend on a shared file cursor.
type FileDisk_t struct {
	f   *os.File
	fd  int
	nsec Sector
}

// OpenFileDisk opens an existing disk image; its sector count is taken
// from the file's size.
func OpenFileDisk(path string) (*FileDisk_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size()%SectorSize != 0 {
		f.Close()
		return nil, fmt.Errorf("disk image %s is not sector aligned", path)
	}
	return &FileDisk_t{f: f, fd: int(f.Fd()), nsec: Sector(st.Size() / SectorSize)}, nil
}

// CreateFileDisk creates a new zero-filled disk image of nsec sectors.
func CreateFileDisk(path string, nsec Sector) (*FileDisk_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(nsec) * SectorSize); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDisk_t{f: f, fd: int(f.Fd()), nsec: nsec}, nil
}

func (d *FileDisk_t) Read(s Sector, buf []byte) error {
	if len(buf) != SectorSize {
		panic("disk: short buffer")
	}
	n, err := unix.Pread(d.fd, buf, int64(s)*SectorSize)
	if err != nil {
		return err
	}
	if n != SectorSize {
		return fmt.Errorf("disk: short read of sector %d (%d bytes)", s, n)
	}
	return nil
}

func (d *FileDisk_t) Write(s Sector, buf []byte) error {
	if len(buf) != SectorSize {
		panic("disk: short buffer")
	}
	n, err := unix.Pwrite(d.fd, buf, int64(s)*SectorSize)
	if err != nil {
		return err
	}
	if n != SectorSize {
		return fmt.Errorf("disk: short write of sector %d (%d bytes)", s, n)
	}
	return nil
}

func (d *FileDisk_t) Size() Sector {
	return d.nsec
}

// Close flushes and closes the underlying file.
func (d *FileDisk_t) Close() error {
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}
