package lower

import (
	"testing"

	"github.com/nullc-lang/regexec/src/metadata"
	"github.com/nullc-lang/regexec/src/ssa"
	"github.com/stretchr/testify/require"
)

func TestSlotsForPrimitivesAndComposites(t *testing.T) {
	mod := &metadata.Module{
		Types: []metadata.TypeInfo{
			{Index: 0, Name: "int", Size: 4},
			{Index: 1, Name: "long", Size: 8},
			{Index: 2, Name: "auto[]", NameHash: metadata.AutoArrayNameHash, Size: 0},
			{Index: 3, Name: "auto ref", NameHash: metadata.AutoRefNameHash, Size: 0},
			{Index: 4, Name: "f()", Category: metadata.CategoryFunction, Size: 0},
			{Index: 5, Name: "int[]", Category: metadata.CategoryArray, ArraySize: metadata.Unsized},
		},
	}

	require.Equal(t, 1, Slots(mod, 0))
	require.Equal(t, 1, Slots(mod, 1))
	require.Equal(t, 3, Slots(mod, 2))
	require.Equal(t, 2, Slots(mod, 3))
	require.Equal(t, 2, Slots(mod, 4))
	require.Equal(t, 2, Slots(mod, 5))
	require.Equal(t, 0, Slots(mod, metadata.NoIndex))
}

func TestGetRegisterBumpsThenReusesFreedSingleRegisters(t *testing.T) {
	a := newAllocator()

	r1, err := a.GetRegister(1)
	require.NoError(t, err)
	require.Equal(t, []uint8{uint8(firstPhysicalRegister)}, r1)

	r2, err := a.GetRegister(1)
	require.NoError(t, err)
	require.Equal(t, []uint8{uint8(firstPhysicalRegister + 1)}, r2)

	a.FreeRegister(r1)
	a.commitFrees()

	r3, err := a.GetRegister(1)
	require.NoError(t, err)
	require.Equal(t, r1, r3, "a freed single register should be reused before bumping next")
}

func TestGetRegisterMultiRegisterRunNeverReusesFreeList(t *testing.T) {
	a := newAllocator()
	single, err := a.GetRegister(1)
	require.NoError(t, err)
	a.FreeRegister(single)
	a.commitFrees()

	run, err := a.GetRegister(3)
	require.NoError(t, err)
	require.Len(t, run, 3)
	require.NotContains(t, run, single[0], "a multi-register run must not be satisfied from the single-register free list")
}

func TestGetRegisterOverflowsAtLimit(t *testing.T) {
	a := newAllocator()
	a.next = maxRegister - 1

	_, err := a.GetRegister(5)
	require.Error(t, err)
	require.True(t, a.overflow)
}

func TestFreeRegisterIgnoresMultiRegisterRuns(t *testing.T) {
	a := newAllocator()
	run, err := a.GetRegister(2)
	require.NoError(t, err)

	a.FreeRegister(run)
	require.Empty(t, a.pending, "multi-register runs are never recycled")
}

func TestAssignAndRegistersOfRoundTrip(t *testing.T) {
	a := newAllocator()
	v := ssa.NewConst(0, []byte{0, 0, 0, 0})
	run, err := a.GetRegister(1)
	require.NoError(t, err)

	a.Assign(v, run)
	require.Equal(t, run, a.RegistersOf(v))

	other := ssa.NewConst(0, []byte{0, 0, 0, 0})
	require.Nil(t, a.RegistersOf(other))
}

func TestRegisterFileSizeReflectsHighWaterMark(t *testing.T) {
	a := newAllocator()
	require.Equal(t, uint32(firstPhysicalRegister), a.registerFileSize())

	_, err := a.GetRegister(4)
	require.NoError(t, err)
	require.Equal(t, uint32(firstPhysicalRegister+4), a.registerFileSize())
}
