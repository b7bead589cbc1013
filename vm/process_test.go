package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExitTearsDownResidentFramesNotJustMappings guards against the
// frame table retaining a frameDesc after a process exits: if Exit only
// unmapped files and never released the SPT's own resident frames, a
// later eviction sweep could still land on one of them and call
// markEvicted against an entry Teardown already deleted, panicking on a
// nil map lookup.
func TestExitTearsDownResidentFramesNotJustMappings(t *testing.T) {
	ft, pt := mkTestFrameTable(t, 1)
	vm1 := MkVm(ft, pt, "p1", 0x800000)

	require.Zero(t, vm1.SPT.Add(KindZero, nil, 0, 0x1000, 0, PageSize, true))
	require.Zero(t, vm1.SPT.LoadPage(0x1000, true))

	vm1.Exit()

	_, ok := vm1.SPT.Find(0x1000)
	assert.False(t, ok, "exit drops the SPT entry")

	// the frame table must have dropped vm1's frameDesc entirely, not
	// just cleared its hardware mapping — otherwise a later clock sweep
	// could still select it and call markEvicted against an entry
	// vm1.SPT.Teardown already deleted, panicking on a nil lookup.
	assert.Len(t, ft.frames, 0, "exit must drop the frameDesc, not just clear the mapping")

	vm2 := MkVm(ft, pt, "p2", 0x800000)
	require.Zero(t, vm2.SPT.Add(KindZero, nil, 0, 0x2000, 0, PageSize, true))
	require.Zero(t, vm2.SPT.LoadPage(0x2000, true))
}
