package lower

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/nullc-lang/regexec/internal/rt"
	"github.com/nullc-lang/regexec/src/metadata"
	"github.com/nullc-lang/regexec/src/regvm"
	"github.com/nullc-lang/regexec/src/ssa"
	"github.com/stretchr/testify/require"
)

func int32Bits(v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return b[:]
}

// TestLowerAndRunGlobalArithmetic lowers a global-code body computing
// 2 + 3*4 and runs the result through the interpreter, exercising the
// full ssa -> lower -> regvm pipeline end to end (spec.md S1).
func TestLowerAndRunGlobalArithmetic(t *testing.T) {
	const typeInt = 0
	mod := &metadata.Module{
		Types: []metadata.TypeInfo{
			typeInt: {Index: typeInt, Name: "int", Category: metadata.CategoryNone, Primitive: metadata.PrimitiveInt, Size: 4},
		},
	}

	prog := ssa.NewModule()
	entry := ssa.NewBlock(prog.GlobalCode)
	entry.Sealed = true

	c2 := ssa.NewConst(typeInt, int32Bits(2))
	c3 := ssa.NewConst(typeInt, int32Bits(3))
	c4 := ssa.NewConst(typeInt, int32Bits(4))
	mul := ssa.NewInstr(entry, ssa.OpMul, typeInt, c3, c4)
	add := ssa.NewInstr(entry, ssa.OpAdd, typeInt, c2, mul)
	entry.SetReturn(metadata.ReturnInt, add)

	require.NoError(t, Lower(mod, prog, Config{}, rt.NewNopLogger()))

	it := regvm.New(mod, regvm.DefaultConfig(), nil, nil)
	err := it.Run(context.Background(), metadata.NoIndex, nil, metadata.ReturnInt)
	require.NoError(t, err, it.GetExecError())
	require.Equal(t, int32(14), it.GetResultInt())
}

// TestLowerFunctionCallRoundTrips lowers a module whose global code calls
// a one-parameter callee computing a product and returns its result, and
// checks the call
// protocol carries arguments and the return value across the boundary
// intact (spec.md §8 property 4, §4.1 "Call protocol").
func TestLowerFunctionCallRoundTrips(t *testing.T) {
	const typeInt = 0
	mod := &metadata.Module{
		Types: []metadata.TypeInfo{
			typeInt: {Index: typeInt, Name: "int", Category: metadata.CategoryNone, Primitive: metadata.PrimitiveInt, Size: 4},
		},
		Functions: []metadata.FunctionInfo{
			{Name: "double", ParamCount: 1, LocalCount: 1},
		},
	}

	prog := ssa.NewModule()

	double := ssa.NewFunction("double", typeInt)
	p := double.AddParam("x", typeInt)
	dEntry := ssa.NewBlock(double)
	dEntry.Sealed = true
	two := ssa.NewConst(typeInt, int32Bits(2))
	prod := ssa.NewInstr(dEntry, ssa.OpMul, typeInt, p, two)
	dEntry.SetReturn(metadata.ReturnInt, prod)
	prog.AddFunction(double)

	entry := ssa.NewBlock(prog.GlobalCode)
	entry.Sealed = true
	arg := ssa.NewConst(typeInt, int32Bits(5))
	call := ssa.NewInstr(entry, ssa.OpCall, typeInt, arg)
	call.FuncIndex = 0
	entry.SetReturn(metadata.ReturnInt, call)

	require.NoError(t, Lower(mod, prog, Config{}, rt.NewNopLogger()))

	it := regvm.New(mod, regvm.DefaultConfig(), nil, nil)
	err := it.Run(context.Background(), metadata.NoIndex, nil, metadata.ReturnInt)
	require.NoError(t, err, it.GetExecError())
	require.Equal(t, int32(10), it.GetResultInt())
}
