package vm

import (
	"testing"

	"github.com/hwang-pku/pintos/disk"
	"github.com/hwang-pku/pintos/fs"
	"github.com/hwang-pku/pintos/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameTableEvictsWhenExhausted(t *testing.T) {
	ft, pt := mkTestFrameTable(t, 1)
	spt := MkSPT(ft, pt, "p1", 0x800000)

	require.Zero(t, spt.Add(KindZero, nil, 0, 0x1000, 0, PageSize, true))
	require.Zero(t, spt.Add(KindZero, nil, 0, 0x2000, 0, PageSize, true))

	require.Zero(t, spt.LoadPage(0x1000, true))
	require.Zero(t, spt.LoadPage(0x2000, true))

	_, _, ok := pt.GetMapping("p1", 0x2000)
	assert.True(t, ok, "second page resident after eviction made room")

	e1, _ := spt.Find(0x1000)
	assert.False(t, e1.Resident, "first page evicted to make room")
}

func TestFrameTablePickVictimSkipsPinnedFrame(t *testing.T) {
	ft, pt := mkTestFrameTable(t, 2)
	spt := MkSPT(ft, pt, "p1", 0x800000)

	require.Zero(t, spt.Add(KindZero, nil, 0, 0x1000, 0, PageSize, true))
	require.Zero(t, spt.Add(KindZero, nil, 0, 0x2000, 0, PageSize, true))
	require.Zero(t, spt.LoadPage(0x1000, false)) // pinned
	require.Zero(t, spt.LoadPage(0x2000, true))

	victim := ft.pickVictim()
	defer victim.Unlock()
	assert.Equal(t, uintptr(0x2000), victim.page, "pinned frame at 0x1000 must never be selected")
}

func TestFreeFrameReleasesPhysicalFrame(t *testing.T) {
	ft, pt := mkTestFrameTable(t, 1)
	spt := MkSPT(ft, pt, "p1", 0x800000)

	require.Zero(t, spt.Add(KindZero, nil, 0, 0x1000, 0, PageSize, true))
	require.Zero(t, spt.LoadPage(0x1000, true))

	// capacity is exhausted: a second distinct page must evict the
	// first one rather than allocate fresh.
	require.Zero(t, spt.Add(KindZero, nil, 0, 0x2000, 0, PageSize, true))
	h2, err := ft.GetFrame(spt, "p1", 0x2000, true)
	assert.Zero(t, err)
	h2.Release()

	ft.FreeFrame(spt, 0x2000)

	// the physical allocator's single frame is back in the pool now
	// that its frameDesc has been dropped, so a fresh request succeeds
	// without needing to evict anything.
	h, err := ft.GetFrame(spt, "p1", 0x3000, true)
	require.Zero(t, err)
	h.Release()
}

func TestMmapUnmapFreesFrameForReuse(t *testing.T) {
	ft, pt := mkTestFrameTable(t, 1)
	spt := MkSPT(ft, pt, "p1", 0x800000)
	m := MkMmapTable(spt)

	d := disk.MkMemDisk(2048)
	pfs := fs.Format(d)
	cwd := pfs.MkRootCwd()
	defer pfs.CloseCwd(cwd)
	require.Zero(t, pfs.Create(cwd, "/m", 0))
	f, _ := pfs.OpenPath(cwd, "/m")
	f.Write([]byte("hello"))

	id, err := m.Map(f, 0x4000)
	require.Zero(t, err)
	require.Zero(t, spt.LoadPage(0x4000, true))

	require.Zero(t, m.Unmap(id))

	// with capacity 1 and the mapped frame truly released, loading an
	// unrelated page must succeed by fresh allocation, not by evicting
	// a frame that Unmap should already have dropped.
	require.Zero(t, spt.Add(KindZero, nil, 0, 0x5000, 0, PageSize, true))
	require.Zero(t, spt.LoadPage(0x5000, true))
}

func TestEvictRollsBackAndTriesAnotherVictimOnSwapExhaustion(t *testing.T) {
	sw := swap.MkSwap(disk.MkMemDisk(0)) // zero slots: SwapOut always fails
	pt := newFakePageTable()
	ft := MkFrameTable(newFakePhysAlloc(2), pt, sw)
	spt := MkSPT(ft, pt, "p1", 0x800000)

	require.Zero(t, spt.Add(KindZero, nil, 0, 0x1000, 0, PageSize, true))
	require.Zero(t, spt.Add(KindZero, nil, 0, 0x2000, 0, PageSize, true))
	require.Zero(t, spt.LoadPage(0x1000, true))
	require.Zero(t, spt.LoadPage(0x2000, true))
	pt.setDirty("p1", 0x1000, true) // dirty: would need swap, which has no slots
	// 0x2000 stays clean: evictable for free, no swap needed.

	require.Zero(t, spt.Add(KindZero, nil, 0, 0x3000, 0, PageSize, true))
	require.Zero(t, spt.LoadPage(0x3000, true))

	// the clean page was dropped to make room; the dirty one (which
	// could not be written back) must still be resident and mapped.
	e1, _ := spt.Find(0x1000)
	assert.True(t, e1.Resident, "swap-exhausted dirty victim must be restored, not lost")
	_, _, ok := pt.GetMapping("p1", 0x1000)
	assert.True(t, ok, "rolled-back victim keeps its hardware mapping")

	e2, _ := spt.Find(0x2000)
	assert.False(t, e2.Resident, "clean page is the one actually evicted")
}
