// Package treeeval interprets the high-level expression tree for
// constant folding, static expressions, and package tests — a sandboxed,
// budget-bounded path entirely separate from ssa/lower/regvm.
//
// Grounded directly on ExpressionEval.cpp: the literal hierarchy
// (ExprBoolLiteral, ExprCharacterLiteral, ExprStringLiteral,
// ExprIntegerLiteral, ExprRationalLiteral, ExprTypeLiteral,
// ExprFunctionIndexLiteral, ExprNullptrLiteral, ExprPointerLiteral,
// ExprMemoryLiteral) becomes a single tagged Value; CreateStore's type
// switch becomes storeValue (eval.go).
package treeeval

import "fmt"

// ValueKind tags the payload a Value carries.
type ValueKind uint8

const (
	KindVoid ValueKind = iota
	KindBool
	KindChar
	KindInt
	KindLong
	KindDouble
	KindString
	KindTypeID
	KindFuncIndex
	KindNullptr
	KindPointer
)

var valueKindNames = [...]string{
	"void", "bool", "char", "int", "long", "double",
	"string", "typeid", "funcindex", "nullptr", "pointer",
}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return "unknown"
}

// Pointer addresses a byte range inside a Storage, the evaluator's twin of
// ExprPointerLiteral (ptr/end pair plus the referenced type).
type Pointer struct {
	Storage *Storage
	Offset  uint32
	Type    uint32
}

// Value is every literal tree-evaluator node can reduce to.
type Value struct {
	Kind ValueKind
	Type uint32 // metadata type index, meaningful for every kind but Void.

	Bool    bool
	Char    byte
	Int     int32
	Long    int64
	Double  float64
	Str     string
	FuncIdx uint32
	Ptr     Pointer
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindChar:
		return fmt.Sprintf("%q", v.Char)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindLong:
		return fmt.Sprintf("%dL", v.Long)
	case KindDouble:
		return fmt.Sprintf("%g", v.Double)
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindTypeID:
		return fmt.Sprintf("typeid(%d)", v.Type)
	case KindFuncIndex:
		return fmt.Sprintf("func#%d", v.FuncIdx)
	case KindNullptr:
		return "nullptr"
	case KindPointer:
		return fmt.Sprintf("ptr(%p+%d)", v.Ptr.Storage, v.Ptr.Offset)
	default:
		return "void"
	}
}

// Storage is one sandboxed allocation: a byte buffer standing in for a
// variable's or heap object's memory, the evaluator's twin of the bytes
// backing an ExprPointerLiteral. Storage never touches the real gc.Heap;
// the tree evaluator's memory model is wholly separate from the
// interpreter's.
//
// Kind records the static type Load/Store reinterpret the bytes as
// (treeeval has no metadata.Module to consult — it is an independent path
// over its own expression-tree types — so the ValueKind tag stands in for
// the static type the original's ExternTypeInfo would otherwise supply).
type Storage struct {
	Bytes []byte
	Kind  ValueKind
	Type  uint32
}

// sizeOfKind returns the byte width Load/Store uses for a given ValueKind.
func sizeOfKind(k ValueKind) uint32 {
	switch k {
	case KindBool, KindChar:
		return 1
	case KindInt, KindFuncIndex, KindTypeID:
		return 4
	case KindLong, KindDouble, KindPointer:
		return 8
	default:
		return 0
	}
}

// NewStorage allocates a zeroed Storage sized for kind.
func NewStorage(kind ValueKind, typ uint32) *Storage {
	return &Storage{Bytes: make([]byte, sizeOfKind(kind)), Kind: kind, Type: typ}
}

// NewBlobStorage allocates a zeroed Storage of an explicit byte size, for
// aggregate (non-scalar) values that duplicate/array_copy operate on.
func NewBlobStorage(size uint32, typ uint32) *Storage {
	return &Storage{Bytes: make([]byte, size), Kind: KindVoid, Type: typ}
}
