package gc

import "github.com/nullc-lang/regexec/src/metadata"

// root is a pending mark-phase work item: a typed pointer whose target
// has not yet been walked for its own outgoing pointers. The worklist
// alternates between two such vectors (spec.md §4.3 "Algorithm").
type root struct {
	addr uint64
	typ  uint32
}

// markPointer reads the pointer stored at addr, resolves its base block,
// and — the first time the block is seen — sets VISIBLE and (for a
// composite pointee) enqueues it on next for a later pass.
// Executor_Common.cpp's MarkPointer.
func markPointer(h *Heap, mod *metadata.Module, next *[]root, addr uint64, t *metadata.TypeInfo, takeSubtype bool) {
	target := h.ReadPointer(addr)
	if !h.inManagedRange(target) {
		return
	}
	blockIdx, ok := h.BaseOf(target)
	if !ok {
		return
	}
	m := h.Marker(blockIdx)
	if m.Visible() {
		return
	}
	h.SetMarker(blockIdx, m.SetVisible())

	nextType := t.Index
	if takeSubtype {
		nextType = t.SubType
	}
	if int(nextType) >= len(mod.Types) {
		return
	}
	if mod.Types[nextType].Category != metadata.CategoryNone {
		*next = append(*next, root{addr: target, typ: nextType})
	}
}

// checkArray walks a sized or unsized array's elements, marking any
// pointer-bearing element. Executor_Common.cpp's CheckArray.
func checkArray(h *Heap, mod *metadata.Module, next *[]root, addr uint64, t *metadata.TypeInfo) {
	var subType *metadata.TypeInfo
	if !t.IsAutoArray() {
		subType = &mod.Types[t.SubType]
	}

	size := t.ArraySize
	ptr := addr

	switch {
	case t.ArraySize == metadata.Unsized:
		size = h.ReadU32(addr + metadata.ArrayRefLenOffset)
		ptr = h.ReadPointer(addr + metadata.ArrayRefPtrOffset)
		if !h.inManagedRange(ptr) {
			return
		}
		blockIdx, ok := h.BaseOf(ptr)
		if !ok {
			return
		}
		m := h.Marker(blockIdx)
		if m.Visible() {
			return
		}
		h.SetMarker(blockIdx, m.SetVisible())

	case t.IsAutoArray():
		typeID := h.ReadU32(addr + metadata.AutoArrayTypeOffset)
		subType = &mod.Types[typeID]

		dataPtr := h.ReadPointer(addr + metadata.AutoArrayPtrOffset)
		if dataPtr == 0 {
			return
		}
		markPointer(h, mod, next, addr+metadata.AutoArrayPtrOffset, subType, false)

		ptr = dataPtr
		size = h.ReadU32(addr + metadata.AutoArrayLenOffset)
	}

	if subType.PointerCount == 0 {
		return
	}

	for i := uint32(0); i < size; i++ {
		elem := ptr + uint64(i)*uint64(subType.Size)
		switch subType.Category {
		case metadata.CategoryNone:
		case metadata.CategoryArray:
			checkArray(h, mod, next, elem, subType)
		case metadata.CategoryPointer:
			markPointer(h, mod, next, elem, subType, true)
		case metadata.CategoryFunction:
			checkFunction(h, mod, next, elem)
		case metadata.CategoryClass:
			checkClass(h, mod, next, elem, subType)
		}
	}
}

// checkClass walks a class's pointer-bearing members (or, for auto ref /
// auto[], dispatches to the type-erased handling). Executor_Common.cpp's
// CheckClass.
func checkClass(h *Heap, mod *metadata.Module, next *[]root, addr uint64, t *metadata.TypeInfo) {
	if t.IsAutoRef() {
		realTypeIdx := h.ReadU32(addr + metadata.AutoRefTypeOffset)
		target := h.ReadPointer(addr + metadata.AutoRefPtrOffset)
		if !h.inManagedRange(target) {
			return
		}
		blockIdx, ok := h.BaseOf(target)
		if !ok {
			return
		}
		m := h.Marker(blockIdx)
		if m.Visible() {
			return
		}
		h.SetMarker(blockIdx, m.SetVisible())
		checkVariable(h, mod, next, target, realTypeIdx)
		return
	}

	if t.IsAutoArray() {
		checkArray(h, mod, next, addr, t)
		return
	}

	for _, member := range mod.PointerMembers(t) {
		checkVariable(h, mod, next, addr+uint64(member.Offset), member.TypeIndex)
	}
}

// checkFunction walks a function-ref's closure context, if it has one.
// Executor_Common.cpp's CheckFunction.
func checkFunction(h *Heap, mod *metadata.Module, next *[]root, addr uint64) {
	ctx := h.ReadPointer(addr + metadata.FuncRefContextOffset)
	if ctx == 0 {
		return
	}
	funcID := h.ReadU32(addr + metadata.FuncRefIDOffset)
	if int(funcID) >= len(mod.Functions) {
		return
	}
	f := &mod.Functions[funcID]
	if f.IsExternal() {
		return
	}
	if f.ContextType != metadata.NoIndex {
		classType := &mod.Types[f.ContextType]
		markPointer(h, mod, next, addr+metadata.FuncRefContextOffset, classType, true)
	}
}

// checkVariable decides, by t's category, which of the walkers above
// applies; it reads the dynamic type from the first 4 bytes of the
// object when t is extendable (polymorphic dispatch).
// Executor_Common.cpp's CheckVariable.
func checkVariable(h *Heap, mod *metadata.Module, next *[]root, addr uint64, typeIndex uint32) {
	t := &mod.Types[typeIndex]
	real := t
	if t.IsExtendable() {
		real = &mod.Types[h.ReadU32(addr)]
	}
	if real.PointerCount == 0 {
		return
	}

	switch t.Category {
	case metadata.CategoryNone:
	case metadata.CategoryArray:
		checkArray(h, mod, next, addr, t)
	case metadata.CategoryPointer:
		markPointer(h, mod, next, addr, t, true)
	case metadata.CategoryFunction:
		checkFunction(h, mod, next, addr)
	case metadata.CategoryClass:
		checkClass(h, mod, next, addr, real)
	}
}
