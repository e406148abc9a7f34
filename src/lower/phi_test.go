package lower

import (
	"testing"

	"github.com/nullc-lang/regexec/src/metadata"
	"github.com/nullc-lang/regexec/src/ssa"
	"github.com/stretchr/testify/require"
)

// buildDiamondWithPhi builds entry -> {left, right} -> merge, where merge
// has a phi choosing between a value computed on each arm.
func buildDiamondWithPhi() (*ssa.Function, *ssa.Phi) {
	fn := ssa.NewFunction("f", typeIntC)
	entry := ssa.NewBlock(fn)
	left := ssa.NewBlock(fn)
	right := ssa.NewBlock(fn)
	merge := ssa.NewBlock(fn)

	cond := ssa.NewConst(typeIntC, []byte{1, 0, 0, 0})
	entry.SetBranch(cond, left, right)

	lv := ssa.NewConst(typeIntC, []byte{1, 0, 0, 0})
	left.SetJump(merge)

	rv := ssa.NewConst(typeIntC, []byte{2, 0, 0, 0})
	right.SetJump(merge)

	merge.Sealed = true
	phi := ssa.NewPhi(merge, typeIntC)
	phi.SetIncoming(0, lv)
	phi.SetIncoming(1, rv)
	merge.SetReturn(metadata.ReturnInt, phi)

	return fn, phi
}

const typeIntC uint32 = 0

func TestLegalizePhisInsertsStoreOnEachPredecessor(t *testing.T) {
	fn, phi := buildDiamondWithPhi()
	merge := fn.Blocks[3]
	left := fn.Blocks[1]
	right := fn.Blocks[2]

	resolved, err := legalizePhis(fn)
	require.NoError(t, err)

	require.Empty(t, merge.Phis, "legalized phis are cleared from the block")
	require.Len(t, left.Instrs, 1)
	require.Equal(t, ssa.OpStore, left.Instrs[0].Op)
	require.Len(t, right.Instrs, 1)
	require.Equal(t, ssa.OpStore, right.Instrs[0].Op)

	load, ok := resolved[phi]
	require.True(t, ok)
	require.Equal(t, ssa.OpLoad, load.(*ssa.Instr).Op)
	require.Same(t, load, merge.Instrs[0])
}

func TestLegalizePhisAddsSyntheticLocal(t *testing.T) {
	fn, _ := buildDiamondWithPhi()
	before := len(fn.Locals)

	_, err := legalizePhis(fn)
	require.NoError(t, err)

	require.Len(t, fn.Locals, before+1)
	require.True(t, fn.Locals[before].Synthetic)
}

func TestLegalizePhisRejectsUnsealedBlock(t *testing.T) {
	fn := ssa.NewFunction("f", typeIntC)
	entry := ssa.NewBlock(fn)
	merge := ssa.NewBlock(fn)
	ssa.AddEdge(entry, merge)
	// merge is deliberately left unsealed.
	ssa.NewPhi(merge, typeIntC)

	_, err := legalizePhis(fn)
	require.Error(t, err)
}

func TestResolveValuePassesThroughNonPhiValues(t *testing.T) {
	c := ssa.NewConst(typeIntC, []byte{9, 0, 0, 0})
	require.Same(t, c, resolveValue(nil, c))
}

func TestResolveValueSubstitutesResolvedPhi(t *testing.T) {
	fn, phi := buildDiamondWithPhi()
	resolved, err := legalizePhis(fn)
	require.NoError(t, err)

	got := resolveValue(resolved, phi)
	require.Equal(t, resolved[phi], got)
}
