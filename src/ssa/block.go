package ssa

import "github.com/nullc-lang/regexec/src/metadata"

// Terminator is a block's control-flow exit: Jump, Branch, or Return.
type Terminator interface {
	isTerminator()
}

// Jump is an unconditional branch to Target. Lowering omits the emitted
// rviJmp when Target is the next block in layout order (spec.md §4.1
// "Ordering").
type Jump struct {
	Target *Block
}

func (Jump) isTerminator() {}

// Branch is a two-way conditional branch on Cond (an int-typed Value):
// nonzero takes True, zero takes False.
type Branch struct {
	Cond        Value
	True, False *Block
}

func (Branch) isTerminator() {}

// Return exits the enclosing function. Kind selects which register lane
// the caller reads; Values is empty for ReturnVoid, a single Value for a
// scalar/composite return bound to a single register run.
type Return struct {
	Kind   metadata.ReturnKind
	Values []Value
}

func (Return) isTerminator() {}

// Block is one basic block: an ordered run of phis (block-head-only) then
// instructions, ending in exactly one Terminator. Preds/Succs form the
// control-flow graph; lower's phi legalization walks Preds.
type Block struct {
	id uint64

	Phis   []*Phi
	Instrs []*Instr
	Term   Terminator

	Preds []*Block
	Succs []*Block

	// Sealed marks that every predecessor edge has been added; phi
	// legalization requires a block be sealed before its phis are
	// resolved (mirrors the teacher's two-phase block construction).
	Sealed bool

	fn *Function
}

// ID returns the block's stable node id.
func (b *Block) ID() uint64 { return b.id }

// NewBlock creates an empty, unsealed block owned by fn and appends it to
// fn.Blocks.
func NewBlock(fn *Function) *Block {
	b := &Block{id: nextID(), fn: fn}
	fn.Blocks = append(fn.Blocks, b)
	return b
}

// Prepend attaches in to b and inserts it at the block's head, before any
// existing instruction. Used by phi legalization to insert the load that
// replaces a resolved phi.
func (b *Block) Prepend(in *Instr) {
	in.block = b
	b.Instrs = append([]*Instr{in}, b.Instrs...)
}

// Append attaches in to b and inserts it after every existing instruction
// but, since Term is a separate field, still before the block's
// terminator. Used by phi legalization to insert the store a predecessor
// makes into a phi's frame slot.
func (b *Block) Append(in *Instr) {
	in.block = b
	b.Instrs = append(b.Instrs, in)
}

// AddEdge records a predecessor/successor relationship from -> to.
func AddEdge(from, to *Block) {
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// Function returns the function that owns this block.
func (b *Block) Function() *Function { return b.fn }

// SetJump terminates b with an unconditional jump to target, wiring the
// edge.
func (b *Block) SetJump(target *Block) {
	AddEdge(b, target)
	b.Term = Jump{Target: target}
}

// SetBranch terminates b with a conditional branch, wiring both edges.
func (b *Block) SetBranch(cond Value, t, f *Block) {
	AddEdge(b, t)
	AddEdge(b, f)
	b.Term = Branch{Cond: cond, True: t, False: f}
}

// SetReturn terminates b with a function return. No outgoing edge is
// added; lower treats a Return block as having no successors.
func (b *Block) SetReturn(kind metadata.ReturnKind, values ...Value) {
	b.Term = Return{Kind: kind, Values: values}
}
