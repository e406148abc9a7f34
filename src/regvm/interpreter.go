package regvm

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/nullc-lang/regexec/internal/rt"
	"github.com/nullc-lang/regexec/src/gc"
	"github.com/nullc-lang/regexec/src/metadata"
)

// ExternalCaller dispatches a call to a function with no RegVM body
// (metadata.FunctionInfo.IsExternal), the interpreter's twin of the
// source's RunExternalFunction trampoline through NativeTrampoline.
// argBytes is the callee's parameter block in declaration order, matching
// what an internal call would copy into its frame; the returned bytes
// must match the declared return kind's width (4 bytes for an int, 8 for
// a long/double/pointer, none for void).
type ExternalCaller interface {
	CallExternal(fn *metadata.FunctionInfo, argBytes []byte) ([]byte, error)
}

// State is the interpreter's run state (spec.md §4.1 "State machine").
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateBreakpoint
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateBreakpoint:
		return "breakpoint"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// callFrame is one live call's bookkeeping: where to resume the caller,
// the caller's register-file window, and this frame's own addresses.
// functionID is metadata.NoIndex for the synthetic frame RunGlobalCode
// pushes, since the global statement sequence has no FunctionInfo entry.
type callFrame struct {
	returnIP           uint32
	entryIP            uint32
	callerRegFileBase  uint32
	callerRegFileTop   uint32
	callerDataStackTop uint64
	functionID         uint32
	frameBase          uint64
}

// Interpreter executes a metadata.Module's RegVM code stream. Its
// globals, data stack, and temp stack all live inside one gc.Heap arena
// (spec.md §4.3 "roots"): globals occupy [0, GlobalVarSize), the data
// stack immediately after, then the temp stack; heap-allocated objects
// are appended beyond that via heap.Alloc. Keeping every root inside the
// same arena is what lets gc.Mark read them all through one
// *gc.Heap.ReadPointer, rather than the interpreter needing a second,
// parallel address space gc never sees.
type Interpreter struct {
	mod      *metadata.Module
	cfg      Config
	log      *rt.Logger
	external ExternalCaller
	heap     *gc.Heap

	globalBase    uint64
	dataStackBase uint64
	dataStackTop  uint64
	dataStackCap  uint64
	tempBase      uint64
	tempTop       uint64
	tempCap       uint64

	regs        []Register
	regFileBase uint32
	regFileTop  uint32

	frames []callFrame
	ip     uint32

	cancel atomic.Bool
	state  State

	expectedResultKind metadata.ReturnKind
	lastCallKind       metadata.ReturnKind
	resultKind         metadata.ReturnKind
	result             Register

	errMsg string
	trace  []string

	callTrace []uint32
	walkIndex int

	breakpoints map[uint32]breakpointEntry
	breakFunc   func(instruction uint32) bool
}

var _ gc.RootProvider = (*Interpreter)(nil)

// New builds an Interpreter over mod, sizing its heap arena to hold the
// globals, data stack, and temp stack contiguously. external may be nil
// if mod declares no external functions.
func New(mod *metadata.Module, cfg Config, log *rt.Logger, external ExternalCaller) *Interpreter {
	if log == nil {
		log = rt.NewNopLogger()
	}

	dataBase := uint64(mod.GlobalVarSize)
	tempBase := dataBase + cfg.DataStackSize
	rootSize := tempBase + cfg.TempStackSize

	return &Interpreter{
		mod:           mod,
		cfg:           cfg,
		log:           log,
		external:      external,
		heap:          gc.NewHeap(int(rootSize)),
		dataStackBase: dataBase,
		dataStackTop:  dataBase,
		dataStackCap:  tempBase,
		tempBase:      tempBase,
		tempTop:       tempBase,
		tempCap:       rootSize,
		regs:          make([]Register, cfg.RegisterFileSize),
		breakpoints:   make(map[uint32]breakpointEntry),
		state:         StateIdle,
	}
}

// Heap returns the interpreter's managed arena, for wiring the
// Interpreter itself into gc.Mark as its gc.RootProvider.
func (it *Interpreter) Heap() *gc.Heap { return it.heap }

// State reports the interpreter's current run state.
func (it *Interpreter) State() State { return it.state }

// GlobalBase implements gc.RootProvider.
func (it *Interpreter) GlobalBase() uint64 { return it.globalBase }

// Frames implements gc.RootProvider. The synthetic global-code frame (if
// any) is omitted: it has no FunctionInfo entry for Mark to find locals
// through, so its block-scoped temporaries (module-level globals are
// unaffected; those are walked via mod.Variables) are not scanned. NULLC
// global code overwhelmingly declares module-level variables rather than
// frame locals, so this gap has no practical effect on ordinary modules.
func (it *Interpreter) Frames() []gc.FrameRoot {
	roots := make([]gc.FrameRoot, 0, len(it.frames))
	for _, f := range it.frames {
		if f.functionID == metadata.NoIndex {
			continue
		}
		roots = append(roots, gc.FrameRoot{Base: f.frameBase, FunctionIndex: f.functionID})
	}
	return roots
}

// TempStack implements gc.RootProvider.
func (it *Interpreter) TempStack() (base, top uint64) {
	return it.tempBase, it.tempTop
}

// GetStackStart returns the data stack's base address.
func (it *Interpreter) GetStackStart() uint64 { return it.dataStackBase }

// GetStackEnd returns the data stack's current top address.
func (it *Interpreter) GetStackEnd() uint64 { return it.dataStackTop }

// GetVariableData returns the live bytes of the global data region and,
// via count, its length.
func (it *Interpreter) GetVariableData(count *uint32) []byte {
	if count != nil {
		*count = it.mod.GlobalVarSize
	}
	return it.heap.Bytes[it.globalBase : it.globalBase+uint64(it.mod.GlobalVarSize)]
}

// UpdateInstructionPointer is a no-op: the source re-derives its
// breakpoint-restore bookkeeping here, but this interpreter never patches
// code in place (breakpoint.go's sparse map replaces that entirely), so
// there is nothing to refresh. Kept for API parity with callers ported
// from the source's debugger hookup.
func (it *Interpreter) UpdateInstructionPointer() {}

// Run executes functionID with the given argument bytes (already packed
// in declaration order, matching BytesToPop), blocking until it returns,
// traps, is cancelled via ctx, or is stopped via Stop. resultKind tells
// Run which register lane to read the return value from, since a
// top-level call has no OpCall site to carry that information the way a
// nested call does. functionID == metadata.NoIndex runs the global module
// init instead of a declared function (spec.md §6 "function_id == ~0 runs
// the global module init").
func (it *Interpreter) Run(ctx context.Context, functionID uint32, args []byte, resultKind metadata.ReturnKind) error {
	if functionID == metadata.NoIndex {
		return it.runGlobalCode(ctx, resultKind)
	}
	if int(functionID) >= len(it.mod.Functions) {
		return rt.ConfigError("function index %d out of range", functionID)
	}
	it.resetCallState()
	it.expectedResultKind = resultKind

	err := it.callFunction(ctx, functionID, args)
	return it.finish(err)
}

// RunGlobalCode executes the module's top-level statement sequence once
// with no result expected, the twin of loading a script and running its
// global initializers before any function is callable.
func (it *Interpreter) RunGlobalCode(ctx context.Context) error {
	return it.runGlobalCode(ctx, metadata.ReturnVoid)
}

func (it *Interpreter) runGlobalCode(ctx context.Context, resultKind metadata.ReturnKind) error {
	it.resetCallState()
	it.expectedResultKind = resultKind

	spec := frameSpec{
		name:       "<global>",
		functionID: metadata.NoIndex,
		address:    it.mod.RegVmOffsetToGlobalCode,
		registers:  it.mod.RegVmGlobalCodeRegisters,
		stackSize:  it.mod.RegVmGlobalStackSize,
		bytesToPop: 0,
	}
	err := it.callFrameSpec(ctx, spec, nil)
	return it.finish(err)
}

// resetCallState prepares the interpreter for a fresh top-level Run call.
// A prior run that trapped leaves its frames, register-file window, and
// data-stack top in place deliberately (so BeginCallStack/GetNextAddress
// can still walk the chain that was live at the trap), so the next run has
// to rewind them here rather than relying on popFrame to have done it.
func (it *Interpreter) resetCallState() {
	it.cancel.Store(false)
	it.state = StateRunning
	it.errMsg = ""
	it.trace = nil
	it.frames = it.frames[:0]
	it.dataStackTop = it.dataStackBase
	it.regFileBase = 0
	it.regFileTop = 0
}

func (it *Interpreter) finish(err error) error {
	if err != nil {
		if it.state != StateBreakpoint {
			it.state = StateFailed
		}
		if ee, ok := err.(*rt.ExecError); ok {
			if len(it.trace) > 0 {
				ee = ee.WithStackTrace(strings.Join(it.trace, "\n"))
			}
			it.errMsg = ee.Error()
			return ee
		}
		it.errMsg = err.Error()
		return err
	}
	if it.state != StateBreakpoint {
		it.state = StateFinished
	}
	return nil
}

// Stop requests cancellation; the running interpreter checks it between
// instructions and traps with reason once observed ("execution stopped by
// host" when reason is empty).
func (it *Interpreter) Stop(reason string) {
	if reason != "" {
		it.errMsg = reason
	}
	it.cancel.Store(true)
}

// GetResult renders the last Run's return value as text, for hosts that
// just want to print it.
func (it *Interpreter) GetResult() string {
	switch it.resultKind {
	case metadata.ReturnInt:
		return fmt.Sprintf("%d", it.result.Int)
	case metadata.ReturnLong:
		return fmt.Sprintf("%d", it.result.Long)
	case metadata.ReturnDouble:
		return fmt.Sprintf("%g", it.result.Double)
	default:
		return ""
	}
}

// GetResultInt returns the last Run's return value as a 32-bit int.
func (it *Interpreter) GetResultInt() int32 { return it.result.Int }

// GetResultLong returns the last Run's return value as a 64-bit int.
func (it *Interpreter) GetResultLong() int64 { return it.result.Long }

// GetResultDouble returns the last Run's return value as a float64.
func (it *Interpreter) GetResultDouble() float64 { return it.result.Double }

// GetExecError returns the formatted message of the last failure, or "",
// cut to Config.MaxErrorLen bytes when that is positive.
func (it *Interpreter) GetExecError() string {
	if n := it.cfg.MaxErrorLen; n > 0 && len(it.errMsg) > n {
		return it.errMsg[:n]
	}
	return it.errMsg
}

// BeginCallStack snapshots the live call chain into a walk order:
// the trap site first, then each frame's return address working
// outward, then the outermost frame's own entry address last. A
// single live frame (a trap in global code, with no nested call)
// still yields two addresses — the trap site and the entry to the
// enclosing global code, matching the source's GetNextAddress
// iterator over a one-deep call stack.
func (it *Interpreter) BeginCallStack() {
	it.callTrace = it.callTrace[:0]
	if len(it.frames) == 0 {
		it.walkIndex = 0
		return
	}
	it.callTrace = append(it.callTrace, it.ip)
	for i := len(it.frames) - 1; i > 0; i-- {
		it.callTrace = append(it.callTrace, it.frames[i].returnIP)
	}
	it.callTrace = append(it.callTrace, it.frames[0].entryIP)
	it.walkIndex = 0
}

// GetNextAddress yields the next instruction address out from the
// innermost frame, outermost last. ok is false once the walk is
// exhausted.
func (it *Interpreter) GetNextAddress() (uint32, bool) {
	if it.walkIndex >= len(it.callTrace) {
		return 0, false
	}
	addr := it.callTrace[it.walkIndex]
	it.walkIndex++
	return addr, true
}
