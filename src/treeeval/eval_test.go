package treeeval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func intLit(v int32) Node { return Literal{V: Value{Kind: KindInt, Int: v}} }

func TestEvalConstantFolding(t *testing.T) {
	ctx := NewContext(DefaultLimits(), nil)

	// (2 + 3) * 4
	tree := Binary{
		Op: BinMul,
		L:  Binary{Op: BinAdd, L: intLit(2), R: intLit(3)},
		R:  intLit(4),
	}

	v, sig := Eval(ctx, tree)
	require.Nil(t, ctx.Err())
	require.Equal(t, sigNone, sig)
	require.Equal(t, KindInt, v.Kind)
	require.EqualValues(t, 20, v.Int)
}

func TestEvalDivisionByZeroIsCritical(t *testing.T) {
	ctx := NewContext(DefaultLimits(), nil)

	_, _ = Eval(ctx, Binary{Op: BinDiv, L: intLit(1), R: intLit(0)})

	require.NotNil(t, ctx.Err())
	require.True(t, ctx.Err().Critical, "division by zero must be a critical error")
}

func TestEvalInstructionLimitIsNonCritical(t *testing.T) {
	limits := DefaultLimits()
	limits.InstructionsLimit = 2
	ctx := NewContext(limits, nil)

	// Three nodes: the outer Binary, plus two Literal leaves — exceeds
	// the limit of 2 charged instructions.
	_, _ = Eval(ctx, Binary{Op: BinAdd, L: intLit(1), R: intLit(2)})

	require.NotNil(t, ctx.Err())
	require.False(t, ctx.Err().Critical, "a budget breach alone must not be critical")
}

func TestEvalVariableLoadStore(t *testing.T) {
	ctx := NewContext(DefaultLimits(), nil)
	const x VarID = 1

	require.True(t, ctx.DeclareVar(x, KindInt, 0))

	_, sig := Eval(ctx, Assign{Target: AddrOf{ID: x}, Value: intLit(42)})
	require.Equal(t, sigNone, sig)
	require.Nil(t, ctx.Err())

	v, sig := Eval(ctx, VarRef{ID: x, Type: 0})
	require.Equal(t, sigNone, sig)
	require.EqualValues(t, 42, v.Int)
}

func TestEvalIfElse(t *testing.T) {
	ctx := NewContext(DefaultLimits(), nil)

	tree := If{
		Cond: Literal{V: Value{Kind: KindBool, Bool: false}},
		Then: intLit(1),
		Else: intLit(2),
	}

	v, _ := Eval(ctx, tree)
	require.Nil(t, ctx.Err())
	require.EqualValues(t, 2, v.Int)
}

func TestEvalLoopWithBreak(t *testing.T) {
	ctx := NewContext(DefaultLimits(), nil)
	const i VarID = 1
	require.True(t, ctx.DeclareVar(i, KindInt, 0))

	// for (i = 0; true; i = i + 1) { if (i == 3) break; }
	loop := Loop{
		Init: Assign{Target: AddrOf{ID: i}, Value: intLit(0)},
		Cond: Literal{V: Value{Kind: KindBool, Bool: true}},
		Body: If{
			Cond: Binary{Op: BinEQ, L: VarRef{ID: i}, R: intLit(3)},
			Then: Break{Depth: 1},
		},
		Post: Assign{Target: AddrOf{ID: i}, Value: Binary{Op: BinAdd, L: VarRef{ID: i}, R: intLit(1)}},
	}

	_, sig := Eval(ctx, loop)
	require.Nil(t, ctx.Err())
	require.Equal(t, sigNone, sig)

	v, _ := Eval(ctx, VarRef{ID: i})
	require.EqualValues(t, 3, v.Int)
}

func TestEvalFunctionCallAndReturn(t *testing.T) {
	ctx := NewContext(DefaultLimits(), nil)
	const p VarID = 1

	double := &Function{
		Name:       "double",
		Params:     []VarID{p},
		ReturnType: 0,
		Body:       Return{Value: Binary{Op: BinMul, L: VarRef{ID: p}, R: intLit(2)}},
	}

	v, sig := Eval(ctx, Call{Func: double, Args: []Node{intLit(21)}})
	require.Nil(t, ctx.Err())
	require.Equal(t, sigNone, sig)
	require.EqualValues(t, 42, v.Int)
}

func TestEvalFunctionMustReturn(t *testing.T) {
	ctx := NewContext(DefaultLimits(), nil)

	noReturn := &Function{
		Name:       "noReturn",
		ReturnType: 0,
		Body:       Block{Stmts: []Node{intLit(1)}},
	}

	_, _ = Eval(ctx, Call{Func: noReturn})
	require.NotNil(t, ctx.Err())
	require.True(t, ctx.Err().Critical, "falling off the end of a non-void function is UB-class")
}

func TestEvalAssertIntrinsic(t *testing.T) {
	ctx := NewContext(DefaultLimits(), nil)

	assertFn := &Function{Name: "assert", Intrinsic: "assert"}

	_, sig := Eval(ctx, Call{Func: assertFn, Args: []Node{Literal{V: Value{Kind: KindBool, Bool: true}}}})
	require.Nil(t, ctx.Err())
	require.Equal(t, sigNone, sig)

	_, _ = Eval(ctx, Call{Func: assertFn, Args: []Node{Literal{V: Value{Kind: KindBool, Bool: false}}}})
	require.NotNil(t, ctx.Err())
	require.True(t, ctx.Err().Critical)
}

func TestEvalUnknownIntrinsicIsNonCritical(t *testing.T) {
	ctx := NewContext(DefaultLimits(), nil)
	mystery := &Function{Name: "mystery", Intrinsic: "__nope"}

	_, _ = Eval(ctx, Call{Func: mystery})
	require.NotNil(t, ctx.Err())
	require.False(t, ctx.Err().Critical)
}

func TestIntrinsicNewSAndDuplicate(t *testing.T) {
	ctx := NewContext(DefaultLimits(), nil)
	ctx.RegisterType(7, 8)

	newS := &Function{Name: "__newS", Intrinsic: "__newS"}
	p, sig := Eval(ctx, Call{Func: newS, Args: []Node{Literal{V: Value{Kind: KindTypeID, Type: 7}}}})
	require.Nil(t, ctx.Err())
	require.Equal(t, sigNone, sig)
	require.Equal(t, KindPointer, p.Kind)
	require.Len(t, p.Ptr.Storage.Bytes, 8)

	dup := &Function{Name: "duplicate", Intrinsic: "duplicate"}
	copyVal, _ := Eval(ctx, Call{Func: dup, Args: []Node{Literal{V: p}}})
	require.Nil(t, ctx.Err())
	require.NotSame(t, p.Ptr.Storage, copyVal.Ptr.Storage)
	require.Len(t, copyVal.Ptr.Storage.Bytes, 8)
}

func TestYieldSuspendsAndFastForwardResumes(t *testing.T) {
	ctx := NewContext(DefaultLimits(), nil)

	body := Block{Stmts: []Node{
		intLit(1),
		Yield{Ordinal: 1, Value: intLit(100)},
		intLit(2),
		Yield{Ordinal: 2, Value: intLit(200)},
		Return{Value: intLit(999)},
	}}

	v, sig := Eval(ctx, body)
	require.Nil(t, ctx.Err())
	require.Equal(t, sigYield, sig)
	require.EqualValues(t, 100, v.Int)

	f := ctx.top()
	f.targetYield = 1
	f.yieldOrdinal = 0

	v, sig = Eval(ctx, body)
	require.Nil(t, ctx.Err())
	require.Equal(t, sigYield, sig)
	require.EqualValues(t, 200, v.Int)
}

// isCoroutineReset evaluates the isCoroutineReset intrinsic against s.
func isCoroutineReset(t *testing.T, ctx *Context, s *Storage) bool {
	t.Helper()
	query := &Function{Name: "isCoroutineReset", Intrinsic: "isCoroutineReset"}
	v, sig := Eval(ctx, Call{Func: query, Args: []Node{
		Literal{V: Value{Kind: KindPointer, Ptr: Pointer{Storage: s}}},
	}})
	require.Nil(t, ctx.Err())
	require.Equal(t, sigNone, sig)
	require.Equal(t, KindBool, v.Kind)
	return v.Bool
}

// TestCoroutineYieldSequenceAndEpilogueResumeResets drives a coroutine
// yielding 1, 2, 3 across three successive calls, then its fourth call
// reaching the epilogue Return, matching spec.md §8 S5: the fourth call
// returns the epilogue value, and isCoroutineReset toggles from false
// (mid-coroutine) to true (once the coroutine has completed).
func TestCoroutineYieldSequenceAndEpilogueResumeResets(t *testing.T) {
	ctx := NewContext(DefaultLimits(), nil)

	body := Block{Stmts: []Node{
		Yield{Ordinal: 1, Value: intLit(1)},
		Yield{Ordinal: 2, Value: intLit(2)},
		Yield{Ordinal: 3, Value: intLit(3)},
		Return{Value: intLit(999)},
	}}

	coroutine := &Storage{Bytes: make([]byte, 4)}
	f := ctx.top()
	f.coroutine = coroutine

	require.True(t, isCoroutineReset(t, ctx, coroutine), "a never-started coroutine reports reset")

	// Call 1: runs to the first yield.
	v, sig := Eval(ctx, body)
	require.Nil(t, ctx.Err())
	require.Equal(t, sigYield, sig)
	require.EqualValues(t, 1, v.Int)
	require.False(t, isCoroutineReset(t, ctx, coroutine), "a suspended coroutine is not reset")

	// Call 2: fast-forwards past yield 1, suspends at yield 2.
	f.targetYield = 1
	f.yieldOrdinal = 0
	v, sig = Eval(ctx, body)
	require.Nil(t, ctx.Err())
	require.Equal(t, sigYield, sig)
	require.EqualValues(t, 2, v.Int)
	require.False(t, isCoroutineReset(t, ctx, coroutine))

	// Call 3: fast-forwards past yields 1 and 2, suspends at yield 3.
	f.targetYield = 2
	f.yieldOrdinal = 0
	v, sig = Eval(ctx, body)
	require.Nil(t, ctx.Err())
	require.Equal(t, sigYield, sig)
	require.EqualValues(t, 3, v.Int)
	require.False(t, isCoroutineReset(t, ctx, coroutine))

	// Call 4: fast-forwards past all three yields and reaches the
	// epilogue Return.
	f.targetYield = 3
	f.yieldOrdinal = 0
	v, sig = Eval(ctx, body)
	require.Nil(t, ctx.Err())
	require.Equal(t, sigReturn, sig)
	require.EqualValues(t, 999, v.Int)
	require.True(t, isCoroutineReset(t, ctx, coroutine), "isCoroutineReset toggles back to true once the coroutine completes")
}
