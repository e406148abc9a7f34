package regvm

import (
	"context"
	"testing"

	"github.com/nullc-lang/regexec/src/metadata"
	"github.com/stretchr/testify/require"
)

const typeIntTest = 0

func intModule(code []metadata.Cmd, registers uint32) *metadata.Module {
	return &metadata.Module{
		Types: []metadata.TypeInfo{
			typeIntTest: {Index: typeIntTest, Name: "int", Category: metadata.CategoryNone, Primitive: metadata.PrimitiveInt, Size: 4},
		},
		Code:                     code,
		RegVmOffsetToGlobalCode:  0,
		RegVmGlobalCodeRegisters: registers,
		RegVmGlobalStackSize:     0,
	}
}

// TestRunGlobalArithmetic is spec.md scenario S1: hand-assembled RegVM
// code computing 2 + 3*4 returns 14 with no error.
func TestRunGlobalArithmetic(t *testing.T) {
	code := []metadata.Cmd{
		{Code: metadata.OpImm, RA: 4, Argument: 3},
		{Code: metadata.OpImm, RA: 5, Argument: 4},
		{Code: metadata.OpMulI, RA: 6, RB: 4, RC: 5},
		{Code: metadata.OpImm, RA: 7, Argument: 2},
		{Code: metadata.OpAddI, RA: 8, RB: 7, RC: 6},
		{Code: metadata.OpReturn, RA: uint8(metadata.ReturnInt), RB: 8},
	}
	mod := intModule(code, 16)
	it := New(mod, DefaultConfig(), nil, nil)

	err := it.Run(context.Background(), metadata.NoIndex, nil, metadata.ReturnInt)
	require.NoError(t, err)
	require.Equal(t, "", it.GetExecError())
	require.Equal(t, int32(14), it.GetResultInt())
	require.Equal(t, StateFinished, it.State())
}

// TestRunArrayBoundsTrap is spec.md scenario S2: indexing a 4-element
// array at 5 raises a trap whose message names the violation, and the
// interpreter transitions to StateFailed rather than returning a result.
func TestRunArrayBoundsTrap(t *testing.T) {
	code := []metadata.Cmd{
		// r4 = &globals[0] (the array's base)
		{Code: metadata.OpGetAddr, RA: 4, RB: metadata.RegGlobals, Argument: 0},
		// r5 = 5 (out-of-bounds index)
		{Code: metadata.OpImm, RA: 5, Argument: 5},
		// r6 = r4 + r5*4, bound-checked against arrSize=4
		{Code: metadata.OpIndex, RA: 6, RB: 4, RC: 5, Argument: metadata.PackIndexArgument(4, 4)},
		{Code: metadata.OpReturn, RA: uint8(metadata.ReturnVoid)},
	}
	mod := intModule(code, 16)
	mod.GlobalVarSize = 16
	it := New(mod, DefaultConfig(), nil, nil)

	err := it.Run(context.Background(), metadata.NoIndex, nil, metadata.ReturnVoid)
	require.Error(t, err)
	require.Contains(t, it.GetExecError(), "array index")
	require.Contains(t, it.GetExecError(), "out of range")
	require.Equal(t, StateFailed, it.State())
}

// TestBeginCallStackOnGlobalTrapYieldsTwoAddresses exercises spec.md §8
// S2's call-stack walk after the array-bounds trap: with no nested call
// frame, the walk still yields exactly two addresses, the trap site
// followed by the enclosing global code's entry address.
func TestBeginCallStackOnGlobalTrapYieldsTwoAddresses(t *testing.T) {
	code := []metadata.Cmd{
		{Code: metadata.OpGetAddr, RA: 4, RB: metadata.RegGlobals, Argument: 0},
		{Code: metadata.OpImm, RA: 5, Argument: 5},
		{Code: metadata.OpIndex, RA: 6, RB: 4, RC: 5, Argument: metadata.PackIndexArgument(4, 4)},
		{Code: metadata.OpReturn, RA: uint8(metadata.ReturnVoid)},
	}
	mod := intModule(code, 16)
	mod.GlobalVarSize = 16
	it := New(mod, DefaultConfig(), nil, nil)

	err := it.Run(context.Background(), metadata.NoIndex, nil, metadata.ReturnVoid)
	require.Error(t, err)

	it.BeginCallStack()

	trapAddr, ok := it.GetNextAddress()
	require.True(t, ok)
	require.EqualValues(t, 2, trapAddr, "trap site is the OpIndex instruction")

	globalAddr, ok := it.GetNextAddress()
	require.True(t, ok)
	require.EqualValues(t, mod.RegVmOffsetToGlobalCode, globalAddr, "enclosing global code site")

	_, ok = it.GetNextAddress()
	require.False(t, ok, "walk exhausts after exactly two addresses")
}

// TestRunArrayInBoundsSucceeds is the positive half of spec.md property 8:
// indexing within [0, N) computes base + i*sizeof(T) without trapping.
func TestRunArrayInBoundsSucceeds(t *testing.T) {
	code := []metadata.Cmd{
		{Code: metadata.OpGetAddr, RA: 4, RB: metadata.RegGlobals, Argument: 0},
		{Code: metadata.OpImm, RA: 5, Argument: 2},
		{Code: metadata.OpIndex, RA: 6, RB: 4, RC: 5, Argument: metadata.PackIndexArgument(4, 4)},
		{Code: metadata.OpReturn, RA: uint8(metadata.ReturnVoid)},
	}
	mod := intModule(code, 16)
	mod.GlobalVarSize = 16
	it := New(mod, DefaultConfig(), nil, nil)

	err := it.Run(context.Background(), metadata.NoIndex, nil, metadata.ReturnVoid)
	require.NoError(t, err, it.GetExecError())
}

// TestDivisionByZeroTraps exercises the integer division trap path.
func TestDivisionByZeroTraps(t *testing.T) {
	code := []metadata.Cmd{
		{Code: metadata.OpImm, RA: 4, Argument: 10},
		{Code: metadata.OpImm, RA: 5, Argument: 0},
		{Code: metadata.OpDivI, RA: 6, RB: 4, RC: 5},
		{Code: metadata.OpReturn, RA: uint8(metadata.ReturnVoid)},
	}
	mod := intModule(code, 16)
	it := New(mod, DefaultConfig(), nil, nil)

	err := it.Run(context.Background(), metadata.NoIndex, nil, metadata.ReturnVoid)
	require.Error(t, err)
	require.Contains(t, it.GetExecError(), "division by zero")
}

// TestBreakpointHaltsExecution arms a breakpoint on the second instruction
// and checks the interpreter parks in StateBreakpoint instead of
// completing the run (spec.md §4.1 "Breakpoints").
func TestBreakpointHaltsExecution(t *testing.T) {
	code := []metadata.Cmd{
		{Code: metadata.OpImm, RA: 4, Argument: 1},
		{Code: metadata.OpImm, RA: 5, Argument: 2},
		{Code: metadata.OpReturn, RA: uint8(metadata.ReturnVoid)},
	}
	mod := intModule(code, 16)
	it := New(mod, DefaultConfig(), nil, nil)

	require.True(t, it.AddBreakpoint(1, false))
	it.SetBreakFunction(func(instruction uint32) bool { return false }) // false: stay parked

	err := it.Run(context.Background(), metadata.NoIndex, nil, metadata.ReturnVoid)
	require.Error(t, err)
	require.Equal(t, StateBreakpoint, it.State())

	require.True(t, it.RemoveBreakpoint(1))
	require.False(t, it.RemoveBreakpoint(1))
}

// TestCancelledContextTrapsBeforeRun exercises the cooperative-cancellation
// path (spec.md §5): a context cancelled before Run is honored as a trap
// rather than left to run to completion.
func TestCancelledContextTrapsBeforeRun(t *testing.T) {
	code := []metadata.Cmd{
		{Code: metadata.OpImm, RA: 4, Argument: 1},
		{Code: metadata.OpReturn, RA: uint8(metadata.ReturnVoid)},
	}
	mod := intModule(code, 16)
	it := New(mod, DefaultConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := it.Run(ctx, metadata.NoIndex, nil, metadata.ReturnVoid)
	require.Error(t, err)
	require.Equal(t, StateFailed, it.State())
}
