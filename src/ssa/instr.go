package ssa

// Op is the SSA-level operation of an Instr. Unlike metadata.Opcode, an Op
// is not yet bound to a register width or lane: lower picks the
// width-specific RegVM opcode from the operand's VM type at lowering time
// (spec.md §4.2 "Key lowerings").
type Op uint8

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpNot
	OpCmpEQ
	OpCmpNE
	OpCmpLT
	OpCmpLE
	OpCmpGT
	OpCmpGE
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpLogAnd
	OpLogOr

	// OpLoad/OpStore read/write through a pointer-typed Value (Args[0]),
	// generalizing rviLoadByte..rviLoadDouble; lower picks the width from
	// the result (Load) or the stored value's (Store) VM type.
	OpLoad
	OpStore

	// OpIndex computes Args[0] + Args[1]*elementSize with a bound check
	// against a sized array's length; OpIndexUnsized computes the same
	// element address from Args[0]'s pointer with no bound check (the
	// array-ref's runtime length is not consulted). Both produce a pointer
	// to the element.
	OpIndex
	OpIndexUnsized

	// OpGetAddr takes the address of a local/global/register operand
	// without dereferencing it.
	OpGetAddr

	// OpConvert performs a numeric conversion (dtoi/dtol/dtof/itod/ltod/
	// itol/ltoi); the target lane is the Instr's own Type().
	OpConvert

	// OpConvertPtr carries an auto-ref downcast's target type index
	// (CONVERT_POINTER in spec.md §4.2). The interpreter passes the pointer
	// through without checking its dynamic type, so a mismatch does not
	// trap.
	OpConvertPtr

	// OpCall invokes a function by id (Args are the arguments in
	// declaration order; FuncIndex names the callee) or, if FuncIndex is
	// metadata.NoIndex, by function-ref value (Args[0] is the ref).
	OpCall

	OpTypeID
	OpFuncAddr

	// OpCheckRet marks a call-expression statement whose result is
	// discarded. It lowers to a RegVM instruction that performs no check
	// at run time.
	OpCheckRet
)

// Instr is one SSA instruction: an operation applied to ordered operands,
// producing a single typed result (void-typed for side-effect-only ops
// like OpStore).
type Instr struct {
	valueBase
	Op   Op
	Args []Value

	// FuncIndex is the callee's function index for OpCall; metadata.NoIndex
	// selects the function-ref-by-value form.
	FuncIndex uint32
	// TargetType carries OpConvertPtr's downcast target and OpTypeID's
	// queried type.
	TargetType uint32

	block *Block
}

// NewInstr builds an Instr with the given result type and appends it to
// block, the teacher's style of owning instructions by parent slice
// rather than by intrusive list.
func NewInstr(block *Block, op Op, typ uint32, args ...Value) *Instr {
	in := &Instr{valueBase: valueBase{id: nextID(), typ: typ}, Op: op, Args: args, FuncIndex: NoType, block: block}
	block.Instrs = append(block.Instrs, in)
	return in
}

// NewDetachedInstr builds an Instr that is not yet owned by any block;
// callers attach it with Block.Prepend or Block.Append. Used by phi
// legalization, which must insert a load at a block's head rather than
// its tail.
func NewDetachedInstr(op Op, typ uint32, args ...Value) *Instr {
	return &Instr{valueBase: valueBase{id: nextID(), typ: typ}, Op: op, Args: args, FuncIndex: NoType}
}

func (i *Instr) String() string { return opNames[i.Op] }

// Block returns the block that owns this instruction.
func (i *Instr) Block() *Block { return i.block }

var opNames = [...]string{
	"add", "sub", "mul", "div", "mod", "neg", "not",
	"cmpeq", "cmpne", "cmplt", "cmple", "cmpgt", "cmpge",
	"and", "or", "xor", "shl", "shr", "logand", "logor",
	"load", "store", "index", "indexUnsized", "getaddr",
	"convert", "convertPtr", "call", "typeid", "funcaddr", "checkret",
}

// Phi is a phi node: one incoming Value per predecessor block, in the
// same order as Block.Preds. Phi legalization (lower/phi.go) rewrites
// every Phi into a frame-slot load before register allocation runs.
type Phi struct {
	valueBase
	Incoming []Value
	block    *Block

	// marker is a per-phi search marker for walking a cyclic phi graph
	// without revisiting a node; no pass in this module sets or reads it.
	marker uint64
}

// NewPhi builds an empty Phi of the given type with len(preds) incoming
// slots, and appends it to block.
func NewPhi(block *Block, typ uint32) *Phi {
	p := &Phi{valueBase: valueBase{id: nextID(), typ: typ}, Incoming: make([]Value, len(block.Preds)), block: block}
	block.Phis = append(block.Phis, p)
	return p
}

func (p *Phi) String() string { return "phi" }

// Block returns the block that owns this phi.
func (p *Phi) Block() *Block { return p.block }

// SetIncoming records the value flowing in from the i'th predecessor.
func (p *Phi) SetIncoming(i int, v Value) { p.Incoming[i] = v }
