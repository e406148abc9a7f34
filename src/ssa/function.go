package ssa

import "github.com/nullc-lang/regexec/src/metadata"

// LocalSlot is a function-local frame slot, pre-existing (from the source
// language's declared locals) or synthesized by phi legalization to hold
// a phi's value. TypeIndex mirrors
// metadata.LocalInfo.TypeIndex.
type LocalSlot struct {
	Name      string
	TypeIndex uint32
	// Synthetic is true for a slot phi legalization allocated; such slots
	// have no metadata.LocalInfo counterpart and are not reported to the
	// stack-frame printer.
	Synthetic bool
}

// Function is one function's SSA body: its parameters, declared locals,
// and basic blocks in layout order. Blocks[0] is always the entry block.
type Function struct {
	id uint64

	Name       string
	Params     []*Param
	Locals     []LocalSlot
	ReturnType uint32 // metadata.NoIndex for a void function.
	Blocks     []*Block

	IsCoroutine bool

	// ContextType mirrors metadata.FunctionInfo.ContextType: NoIndex if
	// the function takes no implicit closure/this argument.
	ContextType uint32
}

// ID returns the function's stable node id.
func (f *Function) ID() uint64 { return f.id }

// NewFunction builds an empty function with no blocks; callers append
// parameters then use NewBlock to grow the body.
func NewFunction(name string, returnType uint32) *Function {
	return &Function{id: nextID(), Name: name, ReturnType: returnType, ContextType: metadata.NoIndex}
}

// AddParam appends a new parameter and returns it.
func (f *Function) AddParam(name string, typ uint32) *Param {
	p := NewParam(len(f.Params), name, typ)
	f.Params = append(f.Params, p)
	return p
}

// AddLocal declares a new frame-local slot and returns its index.
func (f *Function) AddLocal(name string, typ uint32) int {
	f.Locals = append(f.Locals, LocalSlot{Name: name, TypeIndex: typ})
	return len(f.Locals) - 1
}

// Entry returns the function's entry block, or nil if none exist yet.
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}
