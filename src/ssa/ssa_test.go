package ssa

import (
	"testing"

	"github.com/nullc-lang/regexec/src/metadata"
	"github.com/stretchr/testify/require"
)

const typeInt uint32 = 0

func TestAddEdgeWiresPredsAndSuccs(t *testing.T) {
	fn := NewFunction("f", NoType)
	a := NewBlock(fn)
	b := NewBlock(fn)

	AddEdge(a, b)

	require.Equal(t, []*Block{b}, a.Succs)
	require.Equal(t, []*Block{a}, b.Preds)
}

func TestSetJumpRecordsTerminatorAndEdge(t *testing.T) {
	fn := NewFunction("f", NoType)
	a := NewBlock(fn)
	b := NewBlock(fn)

	a.SetJump(b)

	j, ok := a.Term.(Jump)
	require.True(t, ok)
	require.Same(t, b, j.Target)
	require.Equal(t, []*Block{b}, a.Succs)
}

func TestSetBranchWiresBothEdges(t *testing.T) {
	fn := NewFunction("f", NoType)
	a := NewBlock(fn)
	t1 := NewBlock(fn)
	f1 := NewBlock(fn)
	cond := NewConst(typeInt, []byte{1, 0, 0, 0})

	a.SetBranch(cond, t1, f1)

	br, ok := a.Term.(Branch)
	require.True(t, ok)
	require.Same(t, t1, br.True)
	require.Same(t, f1, br.False)
	require.ElementsMatch(t, []*Block{t1, f1}, a.Succs)
}

func TestPrependInsertsBeforeExistingInstrs(t *testing.T) {
	fn := NewFunction("f", NoType)
	b := NewBlock(fn)
	first := NewInstr(b, OpNeg, typeInt)
	second := NewDetachedInstr(OpNot, typeInt)

	b.Prepend(second)

	require.Len(t, b.Instrs, 2)
	require.Same(t, second, b.Instrs[0])
	require.Same(t, first, b.Instrs[1])
	require.Same(t, b, second.Block())
}

func TestAppendInsertsAfterExistingInstrs(t *testing.T) {
	fn := NewFunction("f", NoType)
	b := NewBlock(fn)
	first := NewInstr(b, OpNeg, typeInt)
	second := NewDetachedInstr(OpNot, typeInt)

	b.Append(second)

	require.Len(t, b.Instrs, 2)
	require.Same(t, first, b.Instrs[0])
	require.Same(t, second, b.Instrs[1])
}

func TestNewPhiSizesIncomingToPredecessorCount(t *testing.T) {
	fn := NewFunction("f", NoType)
	entry := NewBlock(fn)
	a := NewBlock(fn)
	b := NewBlock(fn)
	merge := NewBlock(fn)
	AddEdge(entry, a)
	AddEdge(entry, b)
	AddEdge(a, merge)
	AddEdge(b, merge)

	phi := NewPhi(merge, typeInt)
	require.Len(t, phi.Incoming, 2)

	v1 := NewConst(typeInt, []byte{1, 0, 0, 0})
	v2 := NewConst(typeInt, []byte{2, 0, 0, 0})
	phi.SetIncoming(0, v1)
	phi.SetIncoming(1, v2)
	require.Same(t, v1, phi.Incoming[0])
	require.Same(t, v2, phi.Incoming[1])
}

func TestFunctionAddParamAndAddLocal(t *testing.T) {
	fn := NewFunction("f", typeInt)
	p := fn.AddParam("x", typeInt)
	require.Equal(t, 0, p.Index)
	require.Equal(t, "x", p.Name)

	idx := fn.AddLocal("tmp", typeInt)
	require.Equal(t, 0, idx)
	require.Equal(t, "tmp", fn.Locals[0].Name)
}

func TestFunctionEntryReturnsNilWithoutBlocks(t *testing.T) {
	fn := NewFunction("f", NoType)
	require.Nil(t, fn.Entry())

	b := NewBlock(fn)
	require.Same(t, b, fn.Entry())
}

func TestNewModuleHasEmptyGlobalCode(t *testing.T) {
	mod := NewModule()
	require.NotNil(t, mod.GlobalCode)
	require.Empty(t, mod.Functions)

	fn := NewFunction("g", NoType)
	mod.AddFunction(fn)
	require.Equal(t, []*Function{fn}, mod.Functions)
}

func TestSetReturnCarriesKindAndValues(t *testing.T) {
	fn := NewFunction("f", typeInt)
	b := NewBlock(fn)
	v := NewConst(typeInt, []byte{5, 0, 0, 0})

	b.SetReturn(metadata.ReturnInt, v)

	ret, ok := b.Term.(Return)
	require.True(t, ok)
	require.Equal(t, metadata.ReturnInt, ret.Kind)
	require.Equal(t, []Value{v}, ret.Values)
}

func TestValueIdentitiesAreUnique(t *testing.T) {
	c1 := NewConst(typeInt, []byte{0, 0, 0, 0})
	c2 := NewConst(typeInt, []byte{0, 0, 0, 0})
	require.NotEqual(t, c1.ID(), c2.ID())
}
