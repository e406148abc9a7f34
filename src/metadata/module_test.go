package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackIndexArgumentRoundTrips(t *testing.T) {
	arg := PackIndexArgument(10, 4)
	arrSize, elementSize := UnpackIndexArgument(arg)
	require.Equal(t, uint16(10), arrSize)
	require.Equal(t, uint16(4), elementSize)
}

func TestOpcodeStringCoversNamedRange(t *testing.T) {
	require.Equal(t, "addI", OpAddI.String())
	require.Equal(t, "checkRet", OpCheckRet.String())
	require.Contains(t, Opcode(opcodeCount).String(), "opcode(")
}

func buildSymbolModule() *Module {
	return &Module{
		Functions: []FunctionInfo{
			{Name: "f", RegVmAddress: 0, RegVmCodeSize: 4},
			{Name: "g", RegVmAddress: 4, RegVmCodeSize: 2},
			{Name: "extern", RegVmAddress: NoIndex},
		},
		SourceInfo: []SourceInfo{
			{InstructionIndex: 0, SourceOffset: 0},
			{InstructionIndex: 2, SourceOffset: 11},
		},
		Source: "int a = 1;\nint b = 2;\n",
	}
}

func TestFunctionByAddressFindsContainingFunction(t *testing.T) {
	mod := buildSymbolModule()
	require.Equal(t, uint32(0), mod.FunctionByAddress(0))
	require.Equal(t, uint32(0), mod.FunctionByAddress(3))
	require.Equal(t, uint32(1), mod.FunctionByAddress(4))
	require.Equal(t, NoIndex, mod.FunctionByAddress(99))
}

func TestFunctionByAddressSkipsExternalFunctions(t *testing.T) {
	mod := buildSymbolModule()
	// The external function has RegVmAddress == NoIndex and RegVmCodeSize
	// 0, so it must never be reported as containing any real address.
	require.NotEqual(t, uint32(2), mod.FunctionByAddress(0))
}

func TestSourceLocationForBinarySearchesEntries(t *testing.T) {
	mod := buildSymbolModule()
	require.Equal(t, "int a = 1;", mod.SourceLocationFor(0))
	require.Equal(t, "int a = 1;", mod.SourceLocationFor(1))
	require.Equal(t, "int b = 2;", mod.SourceLocationFor(2))
}

func TestSourceLocationForEmptyTableReturnsEmpty(t *testing.T) {
	mod := &Module{}
	require.Equal(t, "", mod.SourceLocationFor(0))
}

func TestSymbolReadsNulTerminatedRun(t *testing.T) {
	mod := &Module{Symbols: "foo\x00barbaz\x00"}
	require.Equal(t, "foo", mod.Symbol(0))
	require.Equal(t, "barbaz", mod.Symbol(4))
	require.Equal(t, "", mod.Symbol(99))
}

func TestMembersAndPointerMembersSliceTypeExtra(t *testing.T) {
	mod := &Module{
		TypeExtra: []MemberInfo{
			{TypeIndex: 1, Offset: 0}, // declared member 0
			{TypeIndex: 2, Offset: 8}, // declared member 1
			{TypeIndex: 2, Offset: 8}, // pointer-member reorder list
		},
	}
	class := TypeInfo{MemberOffset: 0, MemberCount: 2, PointerCount: 1}

	members := mod.Members(&class)
	require.Len(t, members, 2)

	ptrMembers := mod.PointerMembers(&class)
	require.Len(t, ptrMembers, 1)
	require.Equal(t, uint32(8), ptrMembers[0].Offset)
}

func TestPointerMembersEmptyWhenNoneDeclared(t *testing.T) {
	mod := &Module{}
	class := TypeInfo{PointerCount: 0}
	require.Nil(t, mod.PointerMembers(&class))
}

func TestPrintStackFrameFormatsKnownAndUnknownFunctions(t *testing.T) {
	mod := buildSymbolModule()
	require.Contains(t, mod.PrintStackFrame(0, 0), "f()")
	require.Contains(t, mod.PrintStackFrame(NoIndex, 5), "unknown function")
}
