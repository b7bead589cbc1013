package swap

import (
	"testing"

	"github.com/hwang-pku/pintos/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwapOutInRoundTrip(t *testing.T) {
	d := disk.MkMemDisk(SectorsPerPage * 4)
	s := MkSwap(d)

	var page [PageSize]byte
	for i := range page {
		page[i] = byte(i)
	}

	slot, ok := s.SwapOut(&page)
	require.True(t, ok)

	var back [PageSize]byte
	require.Zero(t, s.SwapIn(slot, &back))
	assert.Equal(t, page, back)
}

func TestSwapAccountingReturnsToBaseline(t *testing.T) {
	d := disk.MkMemDisk(SectorsPerPage * 4)
	s := MkSwap(d)
	before := s.FreeCount()

	var page [PageSize]byte
	slot, ok := s.SwapOut(&page)
	require.True(t, ok)
	assert.Equal(t, before-1, s.FreeCount())

	var back [PageSize]byte
	s.SwapIn(slot, &back)
	assert.Equal(t, before, s.FreeCount())
}

func TestSwapExhaustion(t *testing.T) {
	d := disk.MkMemDisk(SectorsPerPage * 2)
	s := MkSwap(d)

	var page [PageSize]byte
	_, ok := s.SwapOut(&page)
	require.True(t, ok)
	_, ok = s.SwapOut(&page)
	require.True(t, ok)
	_, ok = s.SwapOut(&page)
	assert.False(t, ok)
}
