package lower

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/nullc-lang/regexec/internal/rt"
	"github.com/nullc-lang/regexec/src/metadata"
	"github.com/nullc-lang/regexec/src/ssa"
)

// Config governs how Lower distributes work across functions, mirroring
// the teacher's util.Options.Threads knob for AllocateRegisters.
type Config struct {
	// Threads is the number of goroutines lowering may use to process
	// independent functions concurrently. Values <= 1 lower sequentially.
	Threads int
}

// fixup records a not-yet-resolved jump target: cmd index cmdIdx (local
// to the function being lowered) needs its Argument patched to the final,
// whole-module absolute instruction index of target once every function's
// base offset is known (spec.md §4.2 "Finalization").
type fixup struct {
	cmdIdx      int
	targetIndex int // index into the owning function's Blocks slice.
}

// byteSizeOf returns the frame footprint of a VM value: always a whole
// number of 8-byte registers (spec.md §3: "8-byte registers are
// preferred"), trading the source's tighter 4-byte scalar packing for
// simpler, uniformly-aligned frame arithmetic.
func byteSizeOf(mod *metadata.Module, typ uint32) uint32 {
	return uint32(Slots(mod, typ)) * 8
}

// frameLayout assigns every parameter and local of a function a byte
// offset within its data-stack frame.
type frameLayout struct {
	paramOffset map[int]uint32
	localOffset map[int]uint32
	bytesToPop  uint32
	stackSize   uint32
}

// alignUp16 rounds n up to the next 16-byte boundary, matching the call
// protocol's frame alignment (spec.md §4.1 "bump data-stack top by
// stackSize (16-byte aligned)").
func alignUp16(n uint32) uint32 {
	return (n + 15) &^ 15
}

func layoutFrame(mod *metadata.Module, fn *ssa.Function) frameLayout {
	lay := frameLayout{paramOffset: map[int]uint32{}, localOffset: map[int]uint32{}}

	// Parameters are packed at their natural call-boundary transfer width
	// (4 bytes for the int lane, 8 for everything else), not the
	// 8-byte-per-slot width locals use: pushFrame copies the caller's
	// pushed argument bytes verbatim into the frame starting at offset 0,
	// so paramOffset must match lowerCall's actual push widths
	// (transferWidthOf) or the callee reads garbage past its first
	// narrower-than-8-byte parameter.
	off := uint32(0)
	for i, p := range fn.Params {
		lay.paramOffset[i] = off
		off += transferWidthOf(mod, p.Type())
	}
	lay.bytesToPop = off

	for i, l := range fn.Locals {
		lay.localOffset[i] = off
		off += byteSizeOf(mod, l.TypeIndex)
	}
	lay.stackSize = alignUp16(off)
	return lay
}

// funcLowerer holds the mutable state of lowering a single function.
type funcLowerer struct {
	mod      *metadata.Module
	fn       *ssa.Function
	layout   frameLayout
	alloc    *allocator
	resolved map[*ssa.Phi]ssa.Value

	blockIndex map[uint64]int
	blockStart []int

	cmds   []metadata.Cmd
	fixups []fixup

	scratch map[uint64]uint8 // const/addr scratch registers freed after each instruction.
}

// lowerFunction lowers fn (already metadata-paired with mod) into a flat
// Cmd stream local to the function (block-relative jump targets are
// recorded as fixups, not yet absolute). Returns the stream, the frame
// layout, the register file size required, the per-instruction fixups,
// and the command index at which each block starts.
func lowerFunction(mod *metadata.Module, fn *ssa.Function) ([]metadata.Cmd, frameLayout, uint32, []fixup, []int, error) {
	resolved, err := legalizePhis(fn)
	if err != nil {
		return nil, frameLayout{}, 0, nil, nil, err
	}

	fl := &funcLowerer{
		mod:        mod,
		fn:         fn,
		layout:     layoutFrame(mod, fn),
		alloc:      newAllocator(),
		resolved:   resolved,
		blockIndex: map[uint64]int{},
		scratch:    map[uint64]uint8{},
	}
	for i, b := range fn.Blocks {
		fl.blockIndex[b.ID()] = i
	}
	fl.blockStart = make([]int, len(fn.Blocks))

	// Entry prologue: the call protocol copies the caller's pushed
	// argument bytes straight into the frame (pushFrame), so each
	// parameter's value must be loaded out of the frame into its
	// assigned register before the body runs — allocating the register
	// alone leaves it holding whatever the previous occupant left there.
	for i, p := range fn.Params {
		run, err := fl.alloc.GetRegister(Slots(mod, p.Type()))
		if err != nil {
			return nil, frameLayout{}, 0, nil, nil, rt.OverflowError(fn.Name, err)
		}
		fl.alloc.Assign(p, run)

		addr, err := fl.alloc.GetRegister(1)
		if err != nil {
			return nil, frameLayout{}, 0, nil, nil, rt.OverflowError(fn.Name, err)
		}
		fl.emit(metadata.Cmd{Code: metadata.OpGetAddr, RA: addr[0], RB: metadata.RegFrame, Argument: fl.layout.paramOffset[i]})
		fl.emit(metadata.Cmd{Code: loadOpFor(fl.primitiveOf(p.Type())), RA: run[0], RB: addr[0]})
		fl.alloc.FreeRegister(addr)
	}
	fl.alloc.commitFrees()

	for i, b := range fn.Blocks {
		fl.blockStart[i] = len(fl.cmds)
		for _, in := range b.Instrs {
			if err := fl.lowerInstr(in); err != nil {
				return nil, frameLayout{}, 0, nil, nil, rt.OverflowError(fn.Name, err)
			}
			fl.alloc.commitFrees()
		}
		if err := fl.lowerTerm(b, i); err != nil {
			return nil, frameLayout{}, 0, nil, nil, rt.OverflowError(fn.Name, err)
		}
	}

	if fl.alloc.overflow {
		return nil, frameLayout{}, 0, nil, nil, rt.OverflowError(fn.Name, fmt.Errorf("register file exhausted"))
	}
	return fl.cmds, fl.layout, fl.alloc.registerFileSize(), fl.fixups, fl.blockStart, nil
}

func (fl *funcLowerer) emit(c metadata.Cmd) int {
	fl.cmds = append(fl.cmds, c)
	return len(fl.cmds) - 1
}

// reg returns the first register of v's assigned run, materializing a
// constant into a fresh scratch register or computing an address via
// getAddr on demand.
func (fl *funcLowerer) reg(v ssa.Value) (uint8, error) {
	v = resolveValue(fl.resolved, v)

	switch val := v.(type) {
	case *ssa.Const:
		if r, ok := fl.alloc.assigned[v.ID()]; ok {
			return r[0], nil
		}
		run, err := fl.alloc.GetRegister(Slots(fl.mod, v.Type()))
		if err != nil {
			return 0, err
		}
		fl.alloc.Assign(v, run)
		fl.emitImm(run[0], val)
		// Not freed: a *ssa.Const reused at more than one use site caches
		// its register via fl.alloc.assigned (above), and a delayed free
		// here would let a later GetRegister(1) reclaim it before the
		// second use executes.
		return run[0], nil
	case *ssa.LocalRef:
		return fl.addrOf(val)
	case *ssa.Global:
		run, err := fl.alloc.GetRegister(1)
		if err != nil {
			return 0, err
		}
		fl.emit(metadata.Cmd{Code: metadata.OpGetAddr, RA: run[0], RB: metadata.RegGlobals, Argument: fl.mod.Variables[val.Index].Offset})
		fl.alloc.FreeRegister(run)
		return run[0], nil
	default:
		if run, ok := fl.alloc.assigned[v.ID()]; ok {
			return run[0], nil
		}
		return 0, fmt.Errorf("value %d used before its register was assigned", v.ID())
	}
}

// addrOf computes the address of a frame-local slot into a fresh scratch
// register (OpGetAddr relative to rvrrFrame).
func (fl *funcLowerer) addrOf(l *ssa.LocalRef) (uint8, error) {
	off, ok := fl.layout.localOffset[l.Index]
	if !ok {
		return 0, fmt.Errorf("local %d has no frame offset", l.Index)
	}
	run, err := fl.alloc.GetRegister(1)
	if err != nil {
		return 0, err
	}
	fl.emit(metadata.Cmd{Code: metadata.OpGetAddr, RA: run[0], RB: metadata.RegFrame, Argument: off})
	fl.alloc.FreeRegister(run)
	return run[0], nil
}

// emitImm emits the load-immediate form matching c's VM type's register
// lane (imm/immLong/immDouble). A double constant is rounded to float32,
// the form OpImmDouble's 32-bit Argument carries.
func (fl *funcLowerer) emitImm(dst uint8, c *ssa.Const) {
	op := metadata.OpImm
	if int(c.Type()) < len(fl.mod.Types) {
		switch fl.mod.Types[c.Type()].Primitive {
		case metadata.PrimitiveLong:
			op = metadata.OpImmLong
		case metadata.PrimitiveDouble, metadata.PrimitiveFloat:
			op = metadata.OpImmDouble
		}
	}
	var arg uint32
	for i, b := range c.Bits {
		if i >= 4 {
			break
		}
		arg |= uint32(b) << (8 * i)
	}
	if op == metadata.OpImmDouble && len(c.Bits) >= 8 {
		arg = math.Float32bits(float32(math.Float64frombits(binary.LittleEndian.Uint64(c.Bits))))
	}
	fl.emit(metadata.Cmd{Code: op, RA: dst, Argument: arg})
}

// primitiveOf looks up the primitive kind backing a value's VM type.
func (fl *funcLowerer) primitiveOf(typ uint32) metadata.PrimitiveKind {
	if int(typ) >= len(fl.mod.Types) {
		return metadata.PrimitiveInt
	}
	return fl.mod.Types[typ].Primitive
}

var arithOps = map[ssa.Op][4]metadata.Opcode{
	// [int, long, double, float]
	ssa.OpAdd: {metadata.OpAddI, metadata.OpAddL, metadata.OpAddD, metadata.OpAddF},
	ssa.OpSub: {metadata.OpSubI, metadata.OpSubL, metadata.OpSubD, metadata.OpSubF},
	ssa.OpMul: {metadata.OpMulI, metadata.OpMulL, metadata.OpMulD, metadata.OpMulF},
	ssa.OpDiv: {metadata.OpDivI, metadata.OpDivL, metadata.OpDivD, metadata.OpDivF},
	ssa.OpMod: {metadata.OpModI, metadata.OpModL, metadata.OpModD, metadata.OpModD},
}

var cmpOps = map[ssa.Op]metadata.Opcode{
	ssa.OpCmpEQ: metadata.OpCmpEQ,
	ssa.OpCmpNE: metadata.OpCmpNE,
	ssa.OpCmpLT: metadata.OpCmpLT,
	ssa.OpCmpLE: metadata.OpCmpLE,
	ssa.OpCmpGT: metadata.OpCmpGT,
	ssa.OpCmpGE: metadata.OpCmpGE,
}

var bitwiseOps = map[ssa.Op]metadata.Opcode{
	ssa.OpAnd:    metadata.OpBitAnd,
	ssa.OpOr:     metadata.OpBitOr,
	ssa.OpXor:    metadata.OpBitXor,
	ssa.OpShl:    metadata.OpShl,
	ssa.OpShr:    metadata.OpShr,
	ssa.OpLogAnd: metadata.OpLogAnd,
	ssa.OpLogOr:  metadata.OpLogOr,
}

// widerPrimitive picks whichever of a, b has the larger register lane, so a
// mixed int/long or int/double comparison or bitwise op reads both operands
// through the lane that actually holds their value.
func widerPrimitive(a, b metadata.PrimitiveKind) metadata.PrimitiveKind {
	if laneIndex(b) > laneIndex(a) {
		return b
	}
	return a
}

func laneIndex(k metadata.PrimitiveKind) int {
	switch k {
	case metadata.PrimitiveLong:
		return 1
	case metadata.PrimitiveDouble:
		return 2
	case metadata.PrimitiveFloat:
		return 3
	default:
		return 0
	}
}

// transferLaneOf picks the regvm.Register field an OpPushTemp argument of
// type typ is read from: 0=Int, 1=Long, 2=Double (float transfers widened
// the same way it is stored), 3=Ptr. Composite types (pointer, function,
// array, class) always cross a call boundary through their single leading
// pointer word, so they take lane 3 regardless of their declared size.
func (fl *funcLowerer) transferLaneOf(typ uint32) int {
	return transferLane(fl.mod, typ)
}

// transferLane is transferLaneOf's module-level form, usable from
// layoutFrame before a funcLowerer exists.
func transferLane(mod *metadata.Module, typ uint32) int {
	if int(typ) < len(mod.Types) && mod.Types[typ].Category != metadata.CategoryNone {
		return 3
	}
	if int(typ) >= len(mod.Types) {
		return 0
	}
	switch mod.Types[typ].Primitive {
	case metadata.PrimitiveLong:
		return 1
	case metadata.PrimitiveDouble, metadata.PrimitiveFloat:
		return 2
	default:
		return 0
	}
}

// transferWidthOf returns the byte width a value of typ occupies when
// pushed across a call boundary: 4 bytes for the int lane (OpPushTempImm/
// lane 0), 8 for every other lane (OpPushTempImmQ/lanes 1-3), matching
// pushTempRegisterByLane's width split in regvm.
func transferWidthOf(mod *metadata.Module, typ uint32) uint32 {
	if transferLane(mod, typ) == 0 {
		return 4
	}
	return 8
}

// lowerInstr lowers one SSA instruction into one or more RegVmCmd
// entries, assigning it a fresh register run (spec.md §4.2 "Block
// lowering" step 3).
func (fl *funcLowerer) lowerInstr(in *ssa.Instr) error {
	dstSlots := Slots(fl.mod, in.Type())
	var dst []uint8
	needDst := in.Op != ssa.OpStore && in.Op != ssa.OpCheckRet && in.Type() != ssa.NoType
	if needDst {
		var err error
		dst, err = fl.alloc.GetRegister(dstSlots)
		if err != nil {
			return err
		}
		fl.alloc.Assign(in, dst)
	}

	switch in.Op {
	case ssa.OpAdd, ssa.OpSub, ssa.OpMul, ssa.OpDiv, ssa.OpMod:
		a, err := fl.reg(in.Args[0])
		if err != nil {
			return err
		}
		b, err := fl.reg(in.Args[1])
		if err != nil {
			return err
		}
		lane := laneIndex(fl.primitiveOf(in.Type()))
		fl.emit(metadata.Cmd{Code: arithOps[in.Op][lane], RA: dst[0], RB: a, RC: b})

	case ssa.OpCmpEQ, ssa.OpCmpNE, ssa.OpCmpLT, ssa.OpCmpLE, ssa.OpCmpGT, ssa.OpCmpGE:
		a, err := fl.reg(in.Args[0])
		if err != nil {
			return err
		}
		b, err := fl.reg(in.Args[1])
		if err != nil {
			return err
		}
		// The operand width isn't distinguishable from the opcode alone
		// (unlike arithmetic, which has dedicated i/l/d/f opcodes), so the
		// comparison's lane is packed into Argument for the interpreter to
		// select, keyed off the wider of the two operand types.
		lane := laneIndex(widerPrimitive(fl.primitiveOf(in.Args[0].Type()), fl.primitiveOf(in.Args[1].Type())))
		fl.emit(metadata.Cmd{Code: cmpOps[in.Op], RA: dst[0], RB: a, RC: b, Argument: uint32(lane)})

	case ssa.OpAnd, ssa.OpOr, ssa.OpXor, ssa.OpShl, ssa.OpShr, ssa.OpLogAnd, ssa.OpLogOr:
		a, err := fl.reg(in.Args[0])
		if err != nil {
			return err
		}
		b, err := fl.reg(in.Args[1])
		if err != nil {
			return err
		}
		lane := laneIndex(widerPrimitive(fl.primitiveOf(in.Args[0].Type()), fl.primitiveOf(in.Args[1].Type())))
		fl.emit(metadata.Cmd{Code: bitwiseOps[in.Op], RA: dst[0], RB: a, RC: b, Argument: uint32(lane)})

	case ssa.OpNeg, ssa.OpNot:
		a, err := fl.reg(in.Args[0])
		if err != nil {
			return err
		}
		op := metadata.OpNot
		if in.Op == ssa.OpNeg {
			switch fl.primitiveOf(in.Type()) {
			case metadata.PrimitiveLong:
				op = metadata.OpNegL
			case metadata.PrimitiveDouble, metadata.PrimitiveFloat:
				op = metadata.OpNegD
			default:
				op = metadata.OpNeg
			}
		}
		fl.emit(metadata.Cmd{Code: op, RA: dst[0], RB: a})

	case ssa.OpGetAddr:
		a, err := fl.regAddressable(in.Args[0])
		if err != nil {
			return err
		}
		fl.emit(metadata.Cmd{Code: metadata.OpMov, RA: dst[0], RB: a})

	case ssa.OpLoad:
		ptr, err := fl.reg(in.Args[0])
		if err != nil {
			return err
		}
		fl.emit(metadata.Cmd{Code: loadOpFor(fl.primitiveOf(in.Type())), RA: dst[0], RB: ptr})

	case ssa.OpConvert:
		a, err := fl.reg(in.Args[0])
		if err != nil {
			return err
		}
		op, err := convertOpFor(fl.primitiveOf(in.Args[0].Type()), fl.primitiveOf(in.Type()))
		if err != nil {
			return err
		}
		fl.emit(metadata.Cmd{Code: op, RA: dst[0], RB: a})

	case ssa.OpConvertPtr:
		a, err := fl.reg(in.Args[0])
		if err != nil {
			return err
		}
		fl.emit(metadata.Cmd{Code: metadata.OpConvertPtr, RA: dst[0], RB: a, Argument: in.TargetType})

	case ssa.OpIndex:
		base, err := fl.reg(in.Args[0])
		if err != nil {
			return err
		}
		idx, err := fl.reg(in.Args[1])
		if err != nil {
			return err
		}
		arrSize := uint16(0)
		if int(in.TargetType) < len(fl.mod.Types) {
			sz := fl.mod.Types[in.TargetType].ArraySize
			if sz != metadata.Unsized {
				arrSize = uint16(sz)
			}
		}
		elemSize := uint16(byteSizeOf(fl.mod, in.Type()))
		fl.emit(metadata.Cmd{Code: metadata.OpIndex, RA: dst[0], RB: base, RC: idx, Argument: metadata.PackIndexArgument(arrSize, elemSize)})

	case ssa.OpIndexUnsized:
		base, err := fl.reg(in.Args[0])
		if err != nil {
			return err
		}
		idx, err := fl.reg(in.Args[1])
		if err != nil {
			return err
		}
		elemSize := uint16(byteSizeOf(fl.mod, in.Type()))
		fl.emit(metadata.Cmd{Code: metadata.OpIndexUnsized, RA: dst[0], RB: base, RC: idx, Argument: metadata.PackIndexArgument(0, elemSize)})

	case ssa.OpTypeID:
		fl.emit(metadata.Cmd{Code: metadata.OpTypeID, RA: dst[0], Argument: in.TargetType})

	case ssa.OpFuncAddr:
		fl.emit(metadata.Cmd{Code: metadata.OpFuncAddr, RA: dst[0], Argument: in.FuncIndex})

	case ssa.OpStore:
		ptr, err := fl.reg(in.Args[0])
		if err != nil {
			return err
		}
		val, err := fl.reg(in.Args[1])
		if err != nil {
			return err
		}
		fl.emit(metadata.Cmd{Code: storeOpFor(fl.primitiveOf(in.Args[1].Type())), RA: ptr, RB: val})

	case ssa.OpCheckRet:
		fl.emit(metadata.Cmd{Code: metadata.OpCheckRet})

	case ssa.OpCall:
		return fl.lowerCall(in, dst)

	default:
		return fmt.Errorf("unsupported ssa op %v", in.Op)
	}
	return nil
}

// regAddressable is like reg but for OpGetAddr's operand, which must
// itself be a LocalRef or Global (never a plain register-resident value).
func (fl *funcLowerer) regAddressable(v ssa.Value) (uint8, error) {
	return fl.reg(v)
}

func loadOpFor(k metadata.PrimitiveKind) metadata.Opcode {
	switch k {
	case metadata.PrimitiveChar:
		return metadata.OpLoadByte
	case metadata.PrimitiveShort:
		return metadata.OpLoadWord
	case metadata.PrimitiveLong:
		return metadata.OpLoadLong
	case metadata.PrimitiveFloat:
		return metadata.OpLoadFloat
	case metadata.PrimitiveDouble:
		return metadata.OpLoadDouble
	default:
		return metadata.OpLoadDword
	}
}

func storeOpFor(k metadata.PrimitiveKind) metadata.Opcode {
	switch k {
	case metadata.PrimitiveChar:
		return metadata.OpStoreByte
	case metadata.PrimitiveShort:
		return metadata.OpStoreWord
	case metadata.PrimitiveLong:
		return metadata.OpStoreLong
	case metadata.PrimitiveFloat:
		return metadata.OpStoreFloat
	case metadata.PrimitiveDouble:
		return metadata.OpStoreDouble
	default:
		return metadata.OpStoreDword
	}
}

func convertOpFor(from, to metadata.PrimitiveKind) (metadata.Opcode, error) {
	switch {
	case to == metadata.PrimitiveInt && from == metadata.PrimitiveDouble:
		return metadata.OpDtoI, nil
	case to == metadata.PrimitiveLong && from == metadata.PrimitiveDouble:
		return metadata.OpDtoL, nil
	case to == metadata.PrimitiveFloat && from == metadata.PrimitiveDouble:
		return metadata.OpDtoF, nil
	case to == metadata.PrimitiveDouble && from == metadata.PrimitiveInt:
		return metadata.OpItoD, nil
	case to == metadata.PrimitiveDouble && from == metadata.PrimitiveLong:
		return metadata.OpLtoD, nil
	case to == metadata.PrimitiveLong && from == metadata.PrimitiveInt:
		return metadata.OpItoL, nil
	case to == metadata.PrimitiveInt && from == metadata.PrimitiveLong:
		return metadata.OpLtoI, nil
	default:
		return 0, fmt.Errorf("unsupported numeric conversion %v -> %v", from, to)
	}
}

// lowerCall pushes arguments to the temp stack in declaration order, emits
// the call, and pops the result into dst (spec.md §4.2 "Key lowerings:
// CALL"). No context argument is pushed: only in.Args cross the call.
// When in.FuncIndex is metadata.NoIndex, Args[0] is the function-ref and
// the call is emitted as OpCallPtr through its register.
func (fl *funcLowerer) lowerCall(in *ssa.Instr, dst []uint8) error {
	args, ref := in.Args, uint8(0)
	byRef := in.FuncIndex == metadata.NoIndex
	if byRef {
		if len(args) == 0 {
			return fmt.Errorf("call through a function-ref has no ref operand")
		}
		r, err := fl.reg(args[0])
		if err != nil {
			return err
		}
		ref, args = r, args[1:]
	}
	for _, a := range args {
		if c, ok := resolveValue(fl.resolved, a).(*ssa.Const); ok {
			op := metadata.OpPushTempImm
			if fl.transferLaneOf(c.Type()) != 0 {
				op = metadata.OpPushTempImmQ
			}
			var arg uint32
			for i, b := range c.Bits {
				if i >= 4 {
					break
				}
				arg |= uint32(b) << (8 * i)
			}
			fl.emit(metadata.Cmd{Code: op, Argument: arg})
			continue
		}
		r, err := fl.reg(a)
		if err != nil {
			return err
		}
		// OpPushTemp has no dedicated per-width variant (unlike arithmetic),
		// so the source register's lane is packed into Argument for regvm
		// to read the right field back out.
		fl.emit(metadata.Cmd{Code: metadata.OpPushTemp, RA: r, Argument: uint32(fl.transferLaneOf(a.Type()))})
	}

	kind := metadata.ReturnVoid
	switch fl.primitiveOf(in.Type()) {
	case metadata.PrimitiveLong:
		kind = metadata.ReturnLong
	case metadata.PrimitiveDouble, metadata.PrimitiveFloat:
		kind = metadata.ReturnDouble
	case metadata.PrimitiveVoid:
		kind = metadata.ReturnVoid
	default:
		if in.Type() != ssa.NoType {
			kind = metadata.ReturnInt
		}
	}

	if byRef {
		fl.emit(metadata.Cmd{Code: metadata.OpCallPtr, RA: uint8(kind), RB: ref})
	} else {
		fl.emit(metadata.Cmd{Code: metadata.OpCall, RA: uint8(kind), Argument: in.FuncIndex})
	}

	if len(dst) > 0 {
		fl.emit(metadata.Cmd{Code: metadata.OpPopTemp, RA: dst[0]})
	}
	return nil
}

// lowerTerm lowers block index i's terminator, recording a fixup for any
// jump whose target is not the next block in layout order (spec.md §4.1
// "Ordering": fall-through omits the jump).
func (fl *funcLowerer) lowerTerm(b *ssa.Block, i int) error {
	switch t := b.Term.(type) {
	case ssa.Jump:
		if fl.blockIndex[t.Target.ID()] == i+1 {
			return nil
		}
		idx := fl.emit(metadata.Cmd{Code: metadata.OpJmp})
		fl.fixups = append(fl.fixups, fixup{cmdIdx: idx, targetIndex: fl.blockIndex[t.Target.ID()]})

	case ssa.Branch:
		cond, err := fl.reg(t.Cond)
		if err != nil {
			return err
		}
		idx := fl.emit(metadata.Cmd{Code: metadata.OpJmpZ, RA: cond})
		fl.fixups = append(fl.fixups, fixup{cmdIdx: idx, targetIndex: fl.blockIndex[t.False.ID()]})
		if fl.blockIndex[t.True.ID()] != i+1 {
			idx2 := fl.emit(metadata.Cmd{Code: metadata.OpJmp})
			fl.fixups = append(fl.fixups, fixup{cmdIdx: idx2, targetIndex: fl.blockIndex[t.True.ID()]})
		}

	case ssa.Return:
		var size uint32
		var reg uint8
		if len(t.Values) > 0 {
			r, err := fl.reg(t.Values[0])
			if err != nil {
				return err
			}
			reg = r
			size = byteSizeOf(fl.mod, t.Values[0].Type())
		}
		fl.emit(metadata.Cmd{Code: metadata.OpReturn, RA: uint8(t.Kind), RB: reg, Argument: size})

	default:
		return fmt.Errorf("block %d has no terminator", b.ID())
	}
	return nil
}

// Lower translates every function of prog into mod's flat Cmd array,
// assigning each metadata.FunctionInfo its RegVmAddress/RegVmCodeSize/
// RegVmRegisters/BytesToPop/StackSize, and sets
// mod.RegVmOffsetToGlobalCode. Functions are paired with prog by index;
// external functions (no RegVM body) are skipped.
//
// With cfg.Threads > 1, independent functions are lowered concurrently
// and errors gathered via an internal/rt.ErrorCollector, mirroring the
// teacher's AllocateRegisters parallel/sequential split.
func Lower(mod *metadata.Module, prog *ssa.Module, cfg Config, log *rt.Logger) error {
	if log == nil {
		log = rt.NewNopLogger()
	}

	type result struct {
		cmds       []metadata.Cmd
		layout     frameLayout
		regs       uint32
		fixups     []fixup
		blockStart []int
	}

	n := len(prog.Functions)
	results := make([]result, n)

	lowerOne := func(i int) error {
		fn := prog.Functions[i]
		if i >= len(mod.Functions) {
			return fmt.Errorf("ssa function %d has no metadata counterpart", i)
		}
		if mod.Functions[i].IsExternal() {
			return nil
		}
		cmds, layout, regs, fixups, blockStart, err := lowerFunction(mod, fn)
		if err != nil {
			return err
		}
		results[i] = result{cmds: cmds, layout: layout, regs: regs, fixups: fixups, blockStart: blockStart}
		return nil
	}

	if cfg.Threads > 1 && n > 1 {
		threads := cfg.Threads
		if threads > n {
			threads = n
		}
		ec := rt.NewErrorCollector(threads)
		var wg sync.WaitGroup
		sem := make(chan struct{}, threads)
		for i := 0; i < n; i++ {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()
				if err := lowerOne(i); err != nil {
					ec.Append(err)
				}
			}(i)
		}
		wg.Wait()
		ec.Stop()
		if ec.Len() > 0 {
			for _, err := range ec.Errors() {
				log.Errorf("lowering error: %s", err)
			}
			return fmt.Errorf("%d error(s) during parallel lowering", ec.Len())
		}
	} else {
		for i := 0; i < n; i++ {
			if err := lowerOne(i); err != nil {
				return err
			}
		}
	}

	globalCmds, globalLayout, globalRegs, globalFixups, globalBlockStart, err := lowerFunction(mod, prog.GlobalCode)
	if err != nil {
		return err
	}

	// Assemble: [0] placeholder jump, then each function body in index
	// order, then global code (spec.md §4.2 "Finalization": "a leading
	// rviJmp at code offset 0 is patched to the global-code entry").
	mod.Code = append(mod.Code, metadata.Cmd{Code: metadata.OpJmp})
	base := make([]int, n)
	for i := 0; i < n; i++ {
		base[i] = len(mod.Code)
		if mod.Functions[i].IsExternal() {
			continue
		}
		mod.Functions[i].RegVmAddress = uint32(base[i])
		mod.Functions[i].RegVmCodeSize = uint32(len(results[i].cmds))
		mod.Functions[i].RegVmRegisters = results[i].regs
		mod.Functions[i].BytesToPop = results[i].layout.bytesToPop
		mod.Functions[i].StackSize = results[i].layout.stackSize
		mod.Code = append(mod.Code, results[i].cmds...)
	}

	globalBase := len(mod.Code)
	mod.RegVmOffsetToGlobalCode = uint32(globalBase)
	mod.Code = append(mod.Code, globalCmds...)
	mod.RegVmGlobalCodeRegisters = globalRegs
	mod.RegVmGlobalStackSize = globalLayout.stackSize

	mod.Code[0] = metadata.Cmd{Code: metadata.OpJmp, Argument: uint32(globalBase)}

	for i := 0; i < n; i++ {
		for _, f := range results[i].fixups {
			mod.Code[base[i]+f.cmdIdx].Argument = uint32(base[i] + results[i].blockStart[f.targetIndex])
		}
	}
	for _, f := range globalFixups {
		mod.Code[globalBase+f.cmdIdx].Argument = uint32(globalBase + globalBlockStart[f.targetIndex])
	}

	log.Debugf("lowered %d function(s), %d total instructions", n, len(mod.Code))
	return nil
}
