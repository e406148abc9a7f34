package regvm

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/nullc-lang/regexec/internal/rt"
	"github.com/nullc-lang/regexec/src/metadata"
)

// frameSpec is the sizing a call needs: either a metadata.FunctionInfo's
// fields, or (for RunGlobalCode) the module-level statement sequence's
// own synthetic footprint.
type frameSpec struct {
	name       string
	functionID uint32
	address    uint32
	registers  uint32
	stackSize  uint32
	bytesToPop uint32
}

// callFunction dispatches one call by function index: external functions
// go through the installed ExternalCaller, internal ones push a frame and
// run their body (spec.md §4.1 "Call protocol"). The first call made with
// no frame yet on the stack is the outermost: its return value is
// delivered to GetResult* instead of being left on the temp stack for a
// caller's OpPopTemp, since there is no caller instruction to consume it.
func (it *Interpreter) callFunction(ctx context.Context, functionID uint32, args []byte) error {
	fn := &it.mod.Functions[functionID]
	if fn.IsExternal() {
		return it.dispatchExternal(fn, args)
	}
	spec := frameSpec{
		name:       fn.Name,
		functionID: functionID,
		address:    fn.RegVmAddress,
		registers:  fn.RegVmRegisters,
		stackSize:  fn.StackSize,
		bytesToPop: fn.BytesToPop,
	}
	return it.callFrameSpec(ctx, spec, args)
}

func (it *Interpreter) callFrameSpec(ctx context.Context, spec frameSpec, args []byte) error {
	outermost := len(it.frames) == 0

	if err := it.pushFrame(spec, args); err != nil {
		return err
	}
	err := it.execBody(ctx, spec, spec.address)
	if err != nil {
		// Leave the frame chain intact on a trap: BeginCallStack and
		// GetNextAddress walk it after Run returns.
		return err
	}
	it.popFrame()

	if outermost {
		it.resultKind = it.expectedResultKind
		it.result = it.popTempResult(it.expectedResultKind)
	}
	return nil
}

func (it *Interpreter) dispatchExternal(fn *metadata.FunctionInfo, args []byte) error {
	outermost := len(it.frames) == 0
	if it.external == nil {
		return rt.Trap("call to external function %q with no external caller installed", fn.Name)
	}
	result, err := it.external.CallExternal(fn, args)
	if err != nil {
		return rt.Trap("external function %q failed: %s", fn.Name, err)
	}
	if outermost {
		it.resultKind = it.expectedResultKind
		it.result = registerFromBytes(it.expectedResultKind, result)
		return nil
	}
	return it.pushTempBytes(result)
}

// pushFrame grows the data stack by spec.stackSize (call protocol step:
// "bump data-stack top by stackSize"), zero-fills the uninitialized tail
// after copying args, and seeds the new frame's four scope-base
// registers (spec.md §4.1 "reserved scope-base registers").
func (it *Interpreter) pushFrame(spec frameSpec, args []byte) error {
	if uint32(len(args)) != spec.bytesToPop {
		return rt.Trap("call protocol violation: %q expects %d argument bytes, got %d", spec.name, spec.bytesToPop, len(args))
	}

	base := it.dataStackTop
	top := base + uint64(spec.stackSize)
	if top > it.dataStackCap {
		return rt.Trap("stack overflow calling %q", spec.name)
	}

	regBase := it.regFileTop
	regTop := regBase + spec.registers
	if regTop > it.cfg.RegisterFileSize {
		return rt.Trap("register file exhausted calling %q", spec.name)
	}

	copy(it.heap.Bytes[base:base+uint64(len(args))], args)
	for i := base + uint64(len(args)); i < top; i++ {
		it.heap.Bytes[i] = 0
	}

	it.frames = append(it.frames, callFrame{
		returnIP:           it.ip,
		entryIP:            spec.address,
		callerRegFileBase:  it.regFileBase,
		callerRegFileTop:   it.regFileTop,
		callerDataStackTop: it.dataStackTop,
		functionID:         spec.functionID,
		frameBase:          base,
	})

	it.dataStackTop = top
	it.regFileBase = regBase
	it.regFileTop = regTop

	it.setReg(metadata.RegGlobals, Register{Ptr: it.globalBase})
	it.setReg(metadata.RegFrame, Register{Ptr: base})
	it.setReg(metadata.RegConstants, Register{Ptr: 0})
	it.setReg(metadata.RegRegisters, Register{Ptr: uint64(regBase)})

	return nil
}

// popFrame restores the caller's stack tops and register-file window
// (call protocol's return step).
func (it *Interpreter) popFrame() {
	n := len(it.frames) - 1
	f := it.frames[n]
	it.frames = it.frames[:n]
	it.dataStackTop = f.callerDataStackTop
	it.regFileBase = f.callerRegFileBase
	it.regFileTop = f.callerRegFileTop
}

// reg resolves operand index i against the current frame's register
// window: physical register = regFileBase + i, since lower's allocator
// numbers registers from rvrrCount (4) independently per function.
func (it *Interpreter) reg(i uint8) *Register {
	return &it.regs[it.regFileBase+uint32(i)]
}

func (it *Interpreter) setReg(i uint8, v Register) {
	it.regs[it.regFileBase+uint32(i)] = v
}

func (it *Interpreter) pushTempBytes(b []byte) error {
	if it.tempTop+uint64(len(b)) > it.tempCap {
		return rt.Trap("temp stack exhausted")
	}
	copy(it.heap.Bytes[it.tempTop:it.tempTop+uint64(len(b))], b)
	it.tempTop += uint64(len(b))
	return nil
}

func (it *Interpreter) popTempBytes(n int) []byte {
	it.tempTop -= uint64(n)
	return it.heap.Bytes[it.tempTop : it.tempTop+uint64(n)]
}

// pushTempRegister carries a return value across a call boundary via the
// temp stack, width and lane selected by kind (ReturnKind has no
// corresponding opcode argument of its own at the OpReturn site, unlike
// OpPushTemp's explicit lane, since the VM type is already fixed by the
// function signature).
func (it *Interpreter) pushTempRegister(kind metadata.ReturnKind, r Register) error {
	switch kind {
	case metadata.ReturnInt:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(r.Int))
		return it.pushTempBytes(buf[:])
	case metadata.ReturnLong:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(r.Long))
		return it.pushTempBytes(buf[:])
	case metadata.ReturnDouble:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(r.Double))
		return it.pushTempBytes(buf[:])
	case metadata.ReturnStruct:
		// A multi-register aggregate collapses to its first register
		// throughout this lowering (see transferLaneOf in lower.go), so
		// only its leading pointer word crosses the call boundary.
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], r.Ptr)
		return it.pushTempBytes(buf[:])
	default:
		return nil
	}
}

func (it *Interpreter) popTempResult(kind metadata.ReturnKind) Register {
	switch kind {
	case metadata.ReturnInt:
		b := it.popTempBytes(4)
		return Register{Int: int32(binary.LittleEndian.Uint32(b))}
	case metadata.ReturnLong:
		b := it.popTempBytes(8)
		return Register{Long: int64(binary.LittleEndian.Uint64(b))}
	case metadata.ReturnDouble:
		b := it.popTempBytes(8)
		return Register{Double: math.Float64frombits(binary.LittleEndian.Uint64(b))}
	case metadata.ReturnStruct:
		b := it.popTempBytes(8)
		return Register{Ptr: binary.LittleEndian.Uint64(b)}
	default:
		return Register{}
	}
}

func registerFromBytes(kind metadata.ReturnKind, b []byte) Register {
	switch kind {
	case metadata.ReturnInt:
		if len(b) < 4 {
			return Register{}
		}
		return Register{Int: int32(binary.LittleEndian.Uint32(b))}
	case metadata.ReturnLong:
		if len(b) < 8 {
			return Register{}
		}
		return Register{Long: int64(binary.LittleEndian.Uint64(b))}
	case metadata.ReturnDouble:
		if len(b) < 8 {
			return Register{}
		}
		return Register{Double: math.Float64frombits(binary.LittleEndian.Uint64(b))}
	default:
		return Register{}
	}
}
