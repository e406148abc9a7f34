package gc

import (
	"encoding/binary"
	"sort"

	"github.com/nullc-lang/regexec/src/metadata"
)

// nullAddress mirrors the source's hardcoded 0x10000 unmanageable-range
// floor: upvalues encode small closure offsets in this range, so any
// pointer at or below it is treated as null/unset rather than dereferenced.
const nullAddress = 0x10000

// block is one managed allocation's metadata: its arena byte range and
// immutable type. Stored out-of-line (spec.md §9), not as a header
// prefixing the allocation.
type block struct {
	start uint64
	size  uint32
}

// Heap is the GC-managed arena: a flat byte slice standing in for the
// process's heap, plus a sorted side table mapping block start address to
// block metadata (the base-pointer oracle, spec.md §9) and an out-of-line
// marker table. Addresses inside [UnmanageableBase, UnmanageableTop) are
// never resolved to a block (spec.md §4.3 "reject ... stack-range
// pointers"), matching SetUnmanagableRange's role of
// excluding stack and global memory from the heap's address range.
type Heap struct {
	Bytes []byte

	UnmanageableBase uint64
	UnmanageableTop  uint64

	blocks  []block
	markers []Marker
}

// NewHeap creates a Heap whose root region (globals and stack) occupies
// the first rootSize bytes of the arena; heap allocations are appended
// after it via Alloc.
func NewHeap(rootSize int) *Heap {
	return &Heap{
		Bytes:            make([]byte, rootSize),
		UnmanageableBase: 0,
		UnmanageableTop:  uint64(rootSize),
	}
}

// Alloc appends size bytes to the arena as a new managed block of the
// given type and returns its start address, the twin of the out-of-scope
// __newS/__newA intrinsics' allocator call.
func (h *Heap) Alloc(size uint32, typeIndex uint32) uint64 {
	start := uint64(len(h.Bytes))
	h.Bytes = append(h.Bytes, make([]byte, size)...)
	h.blocks = append(h.blocks, block{start: start, size: size})
	h.markers = append(h.markers, NewMarker(typeIndex, 0))
	return start
}

// BlockCount returns the number of managed blocks allocated so far.
func (h *Heap) BlockCount() int { return len(h.blocks) }

// BaseOf resolves any interior pointer to the index of the block that
// contains it (Executor_Common.cpp's GetBasePointer), or ok=false if addr
// falls outside every managed block.
func (h *Heap) BaseOf(addr uint64) (blockIdx int, ok bool) {
	i := sort.Search(len(h.blocks), func(i int) bool { return h.blocks[i].start > addr })
	if i == 0 {
		return 0, false
	}
	b := h.blocks[i-1]
	if addr >= b.start && addr < b.start+uint64(b.size) {
		return i - 1, true
	}
	return 0, false
}

// Marker returns the marker word of block blockIdx.
func (h *Heap) Marker(blockIdx int) Marker { return h.markers[blockIdx] }

// SetMarker overwrites the marker word of block blockIdx.
func (h *Heap) SetMarker(blockIdx int, m Marker) { h.markers[blockIdx] = m }

// BlockStart returns the arena start address of block blockIdx.
func (h *Heap) BlockStart(blockIdx int) uint64 { return h.blocks[blockIdx].start }

// inManagedRange reports whether addr is a plausible heap pointer: above
// the reserved null range and outside the half-open unmanageable
// (root/stack) range [UnmanageableBase, UnmanageableTop).
func (h *Heap) inManagedRange(addr uint64) bool {
	return addr > nullAddress && (addr < h.UnmanageableBase || addr >= h.UnmanageableTop)
}

// ReadPointer dereferences the pointer-sized value stored at addr.
func (h *Heap) ReadPointer(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(h.Bytes[addr : addr+metadata.PointerSize])
}

// WritePointer stores a pointer-sized value at addr.
func (h *Heap) WritePointer(addr uint64, v uint64) {
	binary.LittleEndian.PutUint64(h.Bytes[addr:addr+metadata.PointerSize], v)
}

// ReadU32 reads a 4-byte little-endian value at addr.
func (h *Heap) ReadU32(addr uint64) uint32 {
	return binary.LittleEndian.Uint32(h.Bytes[addr : addr+4])
}

// WriteU32 writes a 4-byte little-endian value at addr.
func (h *Heap) WriteU32(addr uint64, v uint32) {
	binary.LittleEndian.PutUint32(h.Bytes[addr:addr+4], v)
}
