package gc

import (
	"testing"

	"github.com/nullc-lang/regexec/internal/rt"
	"github.com/nullc-lang/regexec/src/metadata"
	"github.com/stretchr/testify/require"
)

// stubRoots is a fixed RootProvider for tests; real implementations come
// from a stopped interpreter.
type stubRoots struct {
	globalBase uint64
	frames     []FrameRoot
	tempBase   uint64
	tempTop    uint64
}

func (s stubRoots) GlobalBase() uint64          { return s.globalBase }
func (s stubRoots) Frames() []FrameRoot         { return s.frames }
func (s stubRoots) TempStack() (uint64, uint64) { return s.tempBase, s.tempTop }

// buildChainModule returns a metadata.Module describing a global of type
// "pointer to C", where C has one pointer member to a leaf class D with no
// further pointers: global -> C -> D.
func buildChainModule() *metadata.Module {
	const (
		typeD int = iota
		typePtrToD
		typeC
		typePtrToC
	)

	mod := &metadata.Module{
		Types: []metadata.TypeInfo{
			typeD:      {Index: uint32(typeD), Name: "D", Size: 8, Category: metadata.CategoryClass, SubType: metadata.NoIndex},
			typePtrToD: {Index: uint32(typePtrToD), Name: "D*", Size: 8, Category: metadata.CategoryPointer, SubType: uint32(typeD), PointerCount: 1},
			typeC:      {Index: uint32(typeC), Name: "C", Size: 8, Category: metadata.CategoryClass, SubType: metadata.NoIndex, MemberCount: 1, MemberOffset: 0, PointerCount: 1},
			typePtrToC: {Index: uint32(typePtrToC), Name: "C*", Size: 8, Category: metadata.CategoryPointer, SubType: uint32(typeC), PointerCount: 1},
		},
		TypeExtra: []metadata.MemberInfo{
			{TypeIndex: uint32(typePtrToD), Offset: 0}, // C's declared member list
			{TypeIndex: uint32(typePtrToD), Offset: 0}, // C's reordered pointer-member list
		},
		Variables: []metadata.GlobalInfo{
			{TypeIndex: uint32(typePtrToC), Offset: 0, Name: "g"},
		},
	}
	return mod
}

func TestMarkWalksPointerChainFromGlobal(t *testing.T) {
	const rootSize = 0x10000 + 64

	h := NewHeap(rootSize)
	mod := buildChainModule()

	blockC := h.Alloc(8, 2) // typeC
	blockD := h.Alloc(8, 0) // typeD

	h.WritePointer(0, blockC) // global slot holds &C
	idxC, ok := h.BaseOf(blockC)
	require.True(t, ok)
	idxD, ok := h.BaseOf(blockD)
	require.True(t, ok)

	h.WritePointer(blockC, blockD) // C's single member holds &D

	roots := stubRoots{globalBase: 0, tempBase: 0, tempTop: 0}
	Mark(h, mod, roots, rt.NewNopLogger())

	require.True(t, h.Marker(idxC).Visible(), "C block should be reachable from the global")
	require.True(t, h.Marker(idxD).Visible(), "D block should be reachable through C's member")
}

func TestMarkLeavesUnreachableBlockUnmarked(t *testing.T) {
	const rootSize = 0x10000 + 64

	h := NewHeap(rootSize)
	mod := buildChainModule()

	blockC := h.Alloc(8, 2)
	orphan := h.Alloc(8, 0) // never referenced by anything

	h.WritePointer(0, blockC)

	idxOrphan, ok := h.BaseOf(orphan)
	require.True(t, ok)

	roots := stubRoots{globalBase: 0, tempBase: 0, tempTop: 0}
	Mark(h, mod, roots, rt.NewNopLogger())

	require.False(t, h.Marker(idxOrphan).Visible(), "an allocation reachable from nothing should stay unmarked")
}

func TestMarkWalksFrameLocals(t *testing.T) {
	const rootSize = 0x10000 + 64

	h := NewHeap(rootSize)
	mod := buildChainModule()
	mod.Functions = []metadata.FunctionInfo{
		{Name: "f", LocalCount: 1, OffsetToFirstLocal: 0, RegVmAddress: 0, RegVmCodeSize: 1},
	}
	mod.Locals = []metadata.LocalInfo{
		{Kind: metadata.LocalLocal, TypeIndex: 3, Offset: 8}, // typePtrToC, frame-relative offset 8
	}

	frameBase := uint64(16) // well inside the root region, below UnmanageableTop
	blockC := h.Alloc(8, 2)

	h.WritePointer(frameBase+8, blockC)

	idxC, ok := h.BaseOf(blockC)
	require.True(t, ok)

	roots := stubRoots{
		globalBase: 0,
		frames:     []FrameRoot{{Base: frameBase, FunctionIndex: 0}},
		tempBase:   0,
		tempTop:    0,
	}
	Mark(h, mod, roots, rt.NewNopLogger())

	require.True(t, h.Marker(idxC).Visible(), "a live frame local should keep its block reachable")
}

func TestMarkerRoundTrip(t *testing.T) {
	m := NewMarker(7, 0)
	require.False(t, m.Visible())
	require.Equal(t, uint32(7), m.TypeIndex())

	m = m.SetVisible()
	require.True(t, m.Visible())
	require.Equal(t, uint32(7), m.TypeIndex(), "setting VISIBLE must not disturb the type index bits")

	m = m.ClearVisible()
	require.False(t, m.Visible())
}

func TestHeapBaseOfRejectsInteriorOfNothing(t *testing.T) {
	h := NewHeap(0x10000 + 8)
	block := h.Alloc(16, 0)

	_, ok := h.BaseOf(block - 1)
	require.False(t, ok, "an address just before any block must not resolve")

	idx, ok := h.BaseOf(block + 4)
	require.True(t, ok, "an interior pointer must resolve to its containing block")
	require.Equal(t, block, h.BlockStart(idx))
}
