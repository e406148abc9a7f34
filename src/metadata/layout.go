package metadata

// PointerSize is the compile-time pointer width (spec.md §3 "Pointer size
// is a compile-time constant (4 or 8)"). The execution core targets a
// 64-bit host exclusively, so it is fixed rather than configurable.
const PointerSize = 8

// Composite aggregate layouts (spec.md §3), byte offsets within the
// aggregate's register run / memory representation. Auto-ref's type-id is
// placed after the pointer field, not before, so the 8-byte pointer
// lands on an 8-byte boundary ("field order of auto-ref differs by
// pointer size to preserve natural alignment").
const (
	// FuncRefContextOffset / FuncRefIDOffset: { context_ptr, function_id:int }.
	FuncRefContextOffset = 0
	FuncRefIDOffset      = PointerSize
	FuncRefSize          = PointerSize + 4

	// ArrayRefPtrOffset / ArrayRefLenOffset: { element_ptr, length:int }.
	ArrayRefPtrOffset = 0
	ArrayRefLenOffset = PointerSize
	ArrayRefSize      = PointerSize + 4

	// AutoRefPtrOffset / AutoRefTypeOffset: { type_id:int, target_ptr },
	// type-id stored after the pointer to keep the pointer 8-byte aligned.
	AutoRefPtrOffset  = 0
	AutoRefTypeOffset = PointerSize
	AutoRefSize       = PointerSize + 4

	// AutoArrayTypeOffset / AutoArrayPtrOffset / AutoArrayLenOffset:
	// { type_id:int, element_ptr, length:int }. type_id occupies its own
	// 8-byte slot so element_ptr lands on an 8-byte boundary.
	AutoArrayTypeOffset = 0
	AutoArrayPtrOffset  = PointerSize
	AutoArrayLenOffset  = AutoArrayPtrOffset + PointerSize
	AutoArraySize       = AutoArrayLenOffset + 4
)
