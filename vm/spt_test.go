package vm

import (
	"testing"

	"github.com/hwang-pku/pintos/disk"
	"github.com/hwang-pku/pintos/fs"
	"github.com/hwang-pku/pintos/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkTestFrameTable(t *testing.T, capacity int) (*FrameTable_t, *fakePageTable) {
	t.Helper()
	pt := newFakePageTable()
	sw := swap.MkSwap(disk.MkMemDisk(swap.SectorsPerPage * 8))
	return MkFrameTable(newFakePhysAlloc(capacity), pt, sw), pt
}

func TestSPTAddFindRemove(t *testing.T) {
	ft, pt := mkTestFrameTable(t, 4)
	spt := MkSPT(ft, pt, "p1", 0x800000)

	require.Zero(t, spt.Add(KindZero, nil, 0, 0x1000, 0, PageSize, true))
	e, ok := spt.Find(0x1000)
	require.True(t, ok)
	assert.Equal(t, KindZero, e.Kind)

	// a second Add at the same page is rejected.
	assert.NotZero(t, spt.Add(KindZero, nil, 0, 0x1000, 0, PageSize, true))

	spt.Remove(0x1000)
	_, ok = spt.Find(0x1000)
	assert.False(t, ok)
}

func TestSPTLoadPageZero(t *testing.T) {
	ft, pt := mkTestFrameTable(t, 4)
	spt := MkSPT(ft, pt, "p1", 0x800000)

	require.Zero(t, spt.Add(KindZero, nil, 0, 0x2000, 0, PageSize, true))
	require.Zero(t, spt.LoadPage(0x2000, true))

	frame, writable, ok := pt.GetMapping("p1", 0x2000)
	require.True(t, ok)
	assert.True(t, writable)
	for _, b := range frame {
		assert.Equal(t, byte(0), b)
	}

	e, _ := spt.Find(0x2000)
	assert.True(t, e.Resident)
}

func TestSPTLoadPageFile(t *testing.T) {
	d := disk.MkMemDisk(2048)
	pfs := fs.Format(d)
	cwd := pfs.MkRootCwd()
	defer pfs.CloseCwd(cwd)

	require.Zero(t, pfs.Create(cwd, "/data", 0))
	f, err := pfs.OpenPath(cwd, "/data")
	require.Zero(t, err)
	content := []byte("page contents")
	f.Write(content)

	ft, pt := mkTestFrameTable(t, 4)
	spt := MkSPT(ft, pt, "p1", 0x800000)
	require.Zero(t, spt.Add(KindFile, f, 0, 0x3000, len(content), PageSize-len(content), false))
	require.Zero(t, spt.LoadPage(0x3000, true))

	frame, _, ok := pt.GetMapping("p1", 0x3000)
	require.True(t, ok)
	assert.Equal(t, content, frame[:len(content)])
	assert.Equal(t, byte(0), frame[len(content)])
}

func TestGrowStackRejectsTooFarBelowPointer(t *testing.T) {
	ft, pt := mkTestFrameTable(t, 4)
	stackTop := uintptr(0x800000)
	spt := MkSPT(ft, pt, "p1", stackTop)

	userPage := stackTop - 3*PageSize
	sp := stackTop - PageSize // requested page is more than one page below sp
	assert.NotZero(t, spt.GrowStack(userPage, sp))
}

func TestGrowStackAcceptsAdjacentPage(t *testing.T) {
	ft, pt := mkTestFrameTable(t, 4)
	stackTop := uintptr(0x800000)
	spt := MkSPT(ft, pt, "p1", stackTop)

	userPage := stackTop - PageSize
	require.Zero(t, spt.GrowStack(userPage, userPage))
	e, ok := spt.Find(userPage)
	require.True(t, ok)
	assert.True(t, e.Resident)
}

func TestGrowStackRejectsBeyondCap(t *testing.T) {
	ft, pt := mkTestFrameTable(t, 4)
	stackTop := uintptr(64 * 1024 * 1024)
	spt := MkSPT(ft, pt, "p1", stackTop)

	tooFar := stackTop - 33*1024*1024
	assert.NotZero(t, spt.GrowStack(tooFar, tooFar))
}
