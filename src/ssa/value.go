// Package ssa is the high-level SSA-style instruction tree handed to the
// lowering pass: phi nodes, typed values, and basic blocks (VmModule in
// spec.md §1/§4.2). It carries no opinion about physical registers or the
// flat RegVmCmd encoding — that translation is lower's job.
//
// Shaped after the teacher's src/ir/lir package (Value interface,
// sequence-numbered nodes owned by parent slices) but generalized from
// the teacher's fixed Int/Float/String/VaList DataType to the richer
// metadata-table type-index model this module's VM requires.
package ssa

import "github.com/nullc-lang/regexec/src/metadata"

var seq uint64

// nextID returns a process-wide monotonically increasing node id, used to
// give every Value, Block and Function a stable identity for diagnostics.
func nextID() uint64 {
	seq++
	return seq
}

// Value is anything that can be an instruction operand: a constant, a
// function parameter, a phi, or the result of another instruction.
type Value interface {
	ID() uint64
	// Type is the VM type index (an index into metadata.Module.Types)
	// this value's bits are interpreted as.
	Type() uint32
	String() string
}

// valueBase factors out the identity and type shared by every Value.
type valueBase struct {
	id  uint64
	typ uint32
}

func (v *valueBase) ID() uint64   { return v.id }
func (v *valueBase) Type() uint32 { return v.typ }

// Const is a compile-time constant operand materialized by lower into a
// scratch register (spec.md §4.2 "Constants are materialized into scratch
// registers").
type Const struct {
	valueBase
	// Bits holds the constant's raw representation: up to 8 bytes for a
	// scalar lane, or a byte-for-byte composite layout (function-ref,
	// array-ref, auto-ref, auto-array) per spec.md §3.
	Bits []byte
}

// NewConst builds a constant of the given VM type.
func NewConst(typ uint32, bits []byte) *Const {
	return &Const{valueBase: valueBase{id: nextID(), typ: typ}, Bits: bits}
}

func (c *Const) String() string { return "const" }

// Param is one of a Function's incoming arguments; its register run is
// reserved by lower at function entry.
type Param struct {
	valueBase
	Name  string
	Index int
}

func (p *Param) String() string { return "param:" + p.Name }

// Global references a module-level variable by its index into
// metadata.Module.Variables, addressed relative to rvrrGlobals at lowering
// time.
type Global struct {
	valueBase
	Index uint32
}

func (g *Global) String() string { return "global" }

// NewGlobal builds a Global value of the variable's declared type.
func NewGlobal(index uint32, typ uint32) *Global {
	return &Global{valueBase: valueBase{id: nextID(), typ: typ}, Index: index}
}

// NewParam builds a Param value.
func NewParam(index int, name string, typ uint32) *Param {
	return &Param{valueBase: valueBase{id: nextID(), typ: typ}, Name: name, Index: index}
}

// NoType is the sentinel used for a void-typed value (a call with no
// return, or a terminator that carries no value).
const NoType = metadata.NoIndex

// LocalRef is the address of a declared or phi-legalization-synthesized
// frame slot (Function.Locals[Index]); OpLoad/OpStore take one as their
// pointer operand. Its own Type() is the pointee's type, matching
// OpGetAddr's convention elsewhere in this package.
type LocalRef struct {
	valueBase
	Index int
}

func (l *LocalRef) String() string { return "local" }

// NewLocalRef builds a LocalRef to local slot index, typed as the slot's
// declared VM type.
func NewLocalRef(index int, typ uint32) *LocalRef {
	return &LocalRef{valueBase: valueBase{id: nextID(), typ: typ}, Index: index}
}
