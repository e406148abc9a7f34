// Package gc implements the stop-the-world mark phase: given a metadata
// view and a stopped executor's roots, it sets the VISIBLE flag on every
// reachable heap block (spec.md §4.3).
//
// Grounded directly on Executor_Common.cpp's GC namespace (MarkPointer,
// CheckArray, CheckClass, CheckFunction, CheckVariable, MarkUsedBlocks),
// with two re-architectures spec.md §9 calls for: the marker word moves
// out-of-line into a side table indexed by block id (no more
// before-the-block prefix header), and the base-pointer oracle is a
// sorted side table plus binary search instead of raw pointer arithmetic
// over a real heap.
package gc

// Marker is the per-block metadata word (spec.md §6 "Marker bit layout":
// u64 marker = (type_index << 8) | flags).
type Marker uint64

// Flag bits within a Marker, matching Executor_Common.cpp's marker bits.
const (
	FlagVisible     Marker = 1 << 0
	FlagFreed       Marker = 1 << 1
	FlagFinalizable Marker = 1 << 2
	FlagFinalized   Marker = 1 << 3
	FlagArray       Marker = 1 << 4
)

const flagBits = 8

// NewMarker builds a Marker for a freshly allocated block of the given
// type, with no flags set except those passed in flags.
func NewMarker(typeIndex uint32, flags Marker) Marker {
	return Marker(typeIndex)<<flagBits | (flags & (1<<flagBits - 1))
}

// Visible reports whether the VISIBLE flag is set.
func (m Marker) Visible() bool { return m&FlagVisible != 0 }

// SetVisible returns m with VISIBLE set; other bits are unchanged
// (spec.md §3 invariant: "Marker bits 0..4 are mutated only during mark
// phase; other bits (type index) are immutable for the block's
// lifetime").
func (m Marker) SetVisible() Marker { return m | FlagVisible }

// ClearVisible returns m with VISIBLE cleared, used between a mark pass
// and a sweep (sweep itself is out of scope here).
func (m Marker) ClearVisible() Marker { return m &^ FlagVisible }

// TypeIndex extracts the block's immutable type index.
func (m Marker) TypeIndex() uint32 { return uint32(m >> flagBits) }
