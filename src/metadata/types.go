// Package metadata provides the read-only, process-wide view of a linked
// NULLC program: type descriptors, function descriptors, local descriptors,
// global variable descriptors, the interned symbol and source tables, and
// the RegVM code array. Every other execution-core
// package (gc, treeeval, lower, regvm) consults a *Module built by this
// package; none of it is mutated after linking.
//
// Field names and semantics are ported from the original linker's
// ExternTypeInfo/ExternFuncInfo/ExternLocalInfo/ExternVarInfo tables
// (Linker.h, TypeTree.h) rather than invented, so that a reader already
// familiar with the C++ runtime recognises the shape immediately.
package metadata

import "github.com/cespare/xxhash/v2"

// NoIndex is the sentinel used throughout the linked metadata for "absent":
// no subtype, no parent type, no context type, an external function's
// RegVmAddress, and so on. It corresponds to the source's `~0u`.
const NoIndex = ^uint32(0)

// Unsized marks a TypeInfo.ArraySize as an unsized (`T[]`) array.
const Unsized = ^uint32(0)

// Category classifies a type the way ExternTypeInfo::subCat does.
type Category uint8

const (
	CategoryNone Category = iota
	CategoryArray
	CategoryPointer
	CategoryFunction
	CategoryClass
)

var categoryNames = [...]string{"none", "array", "pointer", "function", "class"}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "unknown category"
}

// PrimitiveKind classifies the basic machine representation of a type.
type PrimitiveKind uint8

const (
	PrimitiveVoid PrimitiveKind = iota
	PrimitiveChar
	PrimitiveShort
	PrimitiveInt
	PrimitiveLong
	PrimitiveFloat
	PrimitiveDouble
	PrimitiveComplex
)

var primitiveNames = [...]string{"void", "char", "short", "int", "long", "float", "double", "complex"}

func (p PrimitiveKind) String() string {
	if int(p) < len(primitiveNames) {
		return primitiveNames[p]
	}
	return "unknown primitive"
}

// TypeFlags carries bit flags about a type, notably whether it may be
// dynamically extended (polymorphic dispatch through an auto-ref).
type TypeFlags uint32

const (
	// TypeIsExtendable marks a class as extendable: the GC and the
	// interpreter read the concrete runtime type id from the first 4
	// bytes of the object before walking members / dispatching a call.
	TypeIsExtendable TypeFlags = 1 << iota
)

// TypeInfo is the linker's per-type descriptor, ExternTypeInfo's Go twin.
type TypeInfo struct {
	Index        uint32
	Name         string
	NameHash     uint32
	Size         uint32
	Category     Category
	Primitive    PrimitiveKind
	SubType      uint32 // Element type (array/pointer) or return type (function). NoIndex if none.
	ArraySize    uint32 // Array length; Unsized for T[].
	MemberCount  uint32
	MemberOffset uint32 // Offset into Module.TypeExtra.
	PointerCount uint32 // Number of GC-relevant members, stored after the member list (see Module.PointerMembers).
	Flags        TypeFlags
}

// IsExtendable reports whether the type carries TypeIsExtendable.
func (t *TypeInfo) IsExtendable() bool {
	return t.Flags&TypeIsExtendable != 0
}

// reservedHash computes the 32-bit name hash used for fast reserved-name
// comparisons (the "auto ref" / "auto[]" synthetic types), replacing the
// source's GetStringHash/StringHashContinue (TypeTree.h) with xxhash while
// preserving its role: a cheap integer compare instead of a string compare
// on every mark/lower step.
func reservedHash(name string) uint32 {
	return uint32(xxhash.Sum64String(name))
}

// NameHashOf computes the name hash for an arbitrary symbol, for callers
// building a Module by hand.
func NameHashOf(name string) uint32 {
	return reservedHash(name)
}

// Reserved synthetic type names and their pre-computed hashes, mirroring
// Executor_Common.cpp's autoRefName/autoArrayName globals.
const (
	AutoRefName   = "auto ref"
	AutoArrayName = "auto[]"
)

// AutoRefNameHash and AutoArrayNameHash let the GC and interpreter detect
// the two type-erased composite kinds by a single integer compare.
var (
	AutoRefNameHash   = reservedHash(AutoRefName)
	AutoArrayNameHash = reservedHash(AutoArrayName)
)

// IsAutoRef reports whether t is the type-erased reference type.
func (t *TypeInfo) IsAutoRef() bool {
	return t.NameHash == AutoRefNameHash && t.Name == AutoRefName
}

// IsAutoArray reports whether t is the type-erased unsized-array type.
func (t *TypeInfo) IsAutoArray() bool {
	return t.NameHash == AutoArrayNameHash && t.Name == AutoArrayName
}

// MemberInfo is one class member: its type and its byte offset within the
// owning class, laid out in declaration order (ExternMemberInfo's twin).
type MemberInfo struct {
	TypeIndex uint32
	Offset    uint32
}
