package fs

import (
	"testing"

	"github.com/hwang-pku/pintos/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFs(t *testing.T, nsec disk.Sector) *Fs_t {
	t.Helper()
	d := disk.MkMemDisk(nsec)
	return Format(d)
}

func TestInodeCreateReadWrite(t *testing.T) {
	fsys := testFs(t, 2048)
	sector, ok := fsys.freemap.Allocate(1)
	require.True(t, ok)
	require.Zero(t, fsys.CreateInode(sector, 0, false))

	ino, err := fsys.Open(sector)
	require.Zero(t, err)
	defer fsys.Close(ino)

	payload := []byte("the quick brown fox")
	n, werr := ino.WriteAt(payload, 100)
	require.Zero(t, werr)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, 100+len(payload), ino.Length())

	back := make([]byte, len(payload))
	n, rerr := ino.ReadAt(back, 100)
	require.Zero(t, rerr)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, back)
}

func TestInodeReadShortAtEOF(t *testing.T) {
	fsys := testFs(t, 2048)
	sector, ok := fsys.freemap.Allocate(1)
	require.True(t, ok)
	require.Zero(t, fsys.CreateInode(sector, 0, false))
	ino, _ := fsys.Open(sector)
	defer fsys.Close(ino)

	ino.WriteAt([]byte("12345"), 0)
	buf := make([]byte, 100)
	n, err := ino.ReadAt(buf, 2)
	require.Zero(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "345", string(buf[:3]))
}

func TestInodeGrowsAcrossIndirectBoundary(t *testing.T) {
	fsys := testFs(t, 1024)
	sector, ok := fsys.freemap.Allocate(1)
	require.True(t, ok)
	require.Zero(t, fsys.CreateInode(sector, 0, false))
	ino, _ := fsys.Open(sector)
	defer fsys.Close(ino)

	// DirectBlocks sectors fit without the indirect tree; one more
	// byte forces allocation of the doubly-indirect block and its
	// first second-level block.
	offset := DirectBlocks*disk.SectorSize + 10
	payload := []byte("crossing the indirect boundary")
	_, err := ino.WriteAt(payload, offset)
	require.Zero(t, err)

	back := make([]byte, len(payload))
	_, err = ino.ReadAt(back, offset)
	require.Zero(t, err)
	assert.Equal(t, payload, back)
}

func TestInodeRemoveReclaimsOnLastClose(t *testing.T) {
	fsys := testFs(t, 2048)
	before := fsys.freemap.FreeCount()

	sector, ok := fsys.freemap.Allocate(1)
	require.True(t, ok)
	require.Zero(t, fsys.CreateInode(sector, disk.SectorSize*3, false))

	ino, _ := fsys.Open(sector)
	ino2, _ := fsys.Open(sector)
	ino.MarkRemoved()

	fsys.Close(ino)
	assert.Less(t, fsys.freemap.FreeCount(), before, "sector still held open by ino2")
	fsys.Close(ino2)

	assert.Equal(t, before, fsys.freemap.FreeCount())
}
