package vm

import (
	"testing"

	"github.com/hwang-pku/pintos/disk"
	"github.com/hwang-pku/pintos/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmapMapRejectsUnalignedBase(t *testing.T) {
	d := disk.MkMemDisk(2048)
	pfs := fs.Format(d)
	cwd := pfs.MkRootCwd()
	defer pfs.CloseCwd(cwd)
	require.Zero(t, pfs.Create(cwd, "/m", 10))
	f, _ := pfs.OpenPath(cwd, "/m")

	ft, pt := mkTestFrameTable(t, 4)
	spt := MkSPT(ft, pt, "p1", 0x800000)
	m := MkMmapTable(spt)

	_, err := m.Map(f, 0x1001)
	assert.NotZero(t, err)
}

func TestMmapMapLoadUnmapWritesBack(t *testing.T) {
	d := disk.MkMemDisk(2048)
	pfs := fs.Format(d)
	cwd := pfs.MkRootCwd()
	defer pfs.CloseCwd(cwd)

	content := []byte("mapped file contents")
	require.Zero(t, pfs.Create(cwd, "/m", 0))
	f, _ := pfs.OpenPath(cwd, "/m")
	f.Write(content)

	ft, pt := mkTestFrameTable(t, 4)
	spt := MkSPT(ft, pt, "p1", 0x800000)
	m := MkMmapTable(spt)

	id, err := m.Map(f, 0x4000)
	require.Zero(t, err)

	require.Zero(t, spt.LoadPage(0x4000, true))
	frame, _, ok := pt.GetMapping("p1", 0x4000)
	require.True(t, ok)
	assert.Equal(t, content, frame[:len(content)])

	// simulate the process dirtying the mapped page, then unmap.
	copy(frame[:], []byte("MAPPED FILE CONTENTS"))
	pt.setDirty("p1", 0x4000, true)

	require.Zero(t, m.Unmap(id))

	f2, _ := pfs.OpenPath(cwd, "/m")
	back := make([]byte, len(content))
	f2.Read(back)
	assert.Equal(t, "MAPPED FILE CONTENTS", string(back))
	f2.Close()
}
