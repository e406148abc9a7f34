package treeeval

import "github.com/nullc-lang/regexec/internal/rt"

// Limits are the three budgets ExpressionEval.cpp enforces
// (ctx.instructionsLimit, ctx.stackDepthLimit, ctx.totalMemoryLimit /
// ctx.variableMemoryLimit).
type Limits struct {
	InstructionsLimit uint64
	StackDepthLimit   int
	TotalMemoryLimit  uint32
	VariableMemoryLimit uint32
}

// DefaultLimits mirrors the conservative defaults the source's compiler
// driver installs for constant folding (generous enough for real
// programs, tight enough to bound a runaway expression).
func DefaultLimits() Limits {
	return Limits{
		InstructionsLimit:   1 << 20,
		StackDepthLimit:     256,
		TotalMemoryLimit:    1 << 24,
		VariableMemoryLimit: 1 << 20,
	}
}

// signal is the control-flow effect an evaluated statement produced,
// threaded back up through Block/If/Loop the way the source's
// stackFrames.back()->breakDepth/continueDepth/targetYield fields do.
type signal uint8

const (
	sigNone signal = iota
	sigBreak
	sigContinue
	sigReturn
	sigYield
)

// frame is one call's local state: the VariableData-identity-keyed
// storage map, control-flow depth counters, and coroutine resume state.
// ExpressionEvalContext's per-call stackFrames entry.
type frame struct {
	vars map[VarID]*Storage

	breakDepth    int
	continueDepth int

	// targetYield > 0 means this frame is fast-forwarding through a
	// coroutine body to the ordinal it last suspended at, per spec.md
	// §4.4 ("re-entry fast-forwards ... executing pure no-op stubs until
	// the matching yield ordinal is reached").
	targetYield  int
	yieldOrdinal int

	returnValue Value
	coroutine   *Storage
}

func newFrame() *frame {
	return &frame{vars: make(map[VarID]*Storage)}
}

// Context is ExpressionEvalContext's Go twin: the sandboxed evaluator's
// whole mutable state, passed by pointer through every Eval call rather
// than carried in package-level globals.
type Context struct {
	Limits

	log *rt.Logger

	instruction uint64
	frames      []*frame
	globals     *frame

	totalMemory uint32
	abandoned   map[uint32][]*Storage

	// The fields below let a caller register just enough type
	// information for the fixed intrinsic set (spec.md §4.4) to consult,
	// without treeeval importing metadata.Module directly — it is an
	// independent path over its own expression-tree types.
	typeSizes map[uint32]uint32
	typeCount int
	vtable    map[uint32]uint32
	baseOf    map[uint32]uint32

	err *rt.ExecError
}

// NewContext builds a Context with a bound global frame, ready to
// evaluate top-level statements and calls.
func NewContext(limits Limits, log *rt.Logger) *Context {
	if log == nil {
		log = rt.NewNopLogger()
	}
	return &Context{
		Limits:    limits,
		log:       log,
		globals:   newFrame(),
		abandoned: make(map[uint32][]*Storage),
		typeSizes: make(map[uint32]uint32),
		vtable:    make(map[uint32]uint32),
		baseOf:    make(map[uint32]uint32),
	}
}

// RegisterType records typeIndex's byte size, for __newS/__newA.
func (c *Context) RegisterType(typeIndex uint32, size uint32) {
	c.typeSizes[typeIndex] = size
}

// SetTypeCount records the total number of linked types, for __typeCount.
func (c *Context) SetTypeCount(n int) { c.typeCount = n }

// RegisterVTableEntry records a __redirect dispatch-table resolution:
// calling through virtual function slot from resolves to function index to.
func (c *Context) RegisterVTableEntry(from, to uint32) { c.vtable[from] = to }

// RegisterBaseType records that derived directly inherits from base, for
// assert_derived_from_base's ancestor walk.
func (c *Context) RegisterBaseType(derived, base uint32) { c.baseOf[derived] = base }

func (c *Context) typeSize(typeIndex uint32) (uint32, bool) {
	size, ok := c.typeSizes[typeIndex]
	return size, ok
}

// Err returns the error from the most recent Eval call, or nil.
func (c *Context) Err() *rt.ExecError { return c.err }

// report records a non-critical error (ExpressionEval.cpp's Report): the
// current expression aborts but the evaluator's state stays consistent
// for the next one.
func (c *Context) report(format string, args ...interface{}) {
	c.err = rt.LimitError(false, format, args...)
}

// reportCritical records a UB-class error (division by zero,
// out-of-bounds, a function that fell off its end without returning):
// critical errors suppress speculative constant-folding in the caller.
func (c *Context) reportCritical(format string, args ...interface{}) {
	c.err = rt.LimitError(true, format, args...)
}

// step charges one instruction against the budget; false means the
// caller must abort immediately.
func (c *Context) step() bool {
	if c.instruction >= c.InstructionsLimit {
		c.report("ERROR: instruction limit reached")
		return false
	}
	c.instruction++
	return true
}

func (c *Context) pushFrame() (*frame, bool) {
	if len(c.frames) >= c.StackDepthLimit {
		c.report("ERROR: stack depth limit reached")
		return nil, false
	}
	f := newFrame()
	c.frames = append(c.frames, f)
	return f, true
}

func (c *Context) popFrame() {
	c.frames = c.frames[:len(c.frames)-1]
}

func (c *Context) top() *frame {
	if len(c.frames) == 0 {
		return c.globals
	}
	return c.frames[len(c.frames)-1]
}

// allocate returns a zeroed Storage of size bytes, reusing an abandoned
// buffer of the exact same size when one is available
// (ExpressionEval.cpp's AllocateTypeStorage scanning ctx.abandonedMemory).
func (c *Context) allocate(size uint32, kind ValueKind, typ uint32) (*Storage, bool) {
	if pool := c.abandoned[size]; len(pool) > 0 {
		s := pool[len(pool)-1]
		c.abandoned[size] = pool[:len(pool)-1]
		for i := range s.Bytes {
			s.Bytes[i] = 0
		}
		s.Kind = kind
		s.Type = typ
		return s, true
	}

	if size > c.VariableMemoryLimit {
		c.report("ERROR: single variable memory limit")
		return nil, false
	}
	if c.totalMemory+size > c.TotalMemoryLimit {
		c.report("ERROR: total variable memory limit")
		return nil, false
	}
	c.totalMemory += size
	return &Storage{Bytes: make([]byte, size), Kind: kind, Type: typ}, true
}

// free returns s to the abandoned pool for later reuse
// (ExpressionEval.cpp's FreeMemoryLiteral).
func (c *Context) free(s *Storage) {
	c.abandoned[uint32(len(s.Bytes))] = append(c.abandoned[uint32(len(s.Bytes))], s)
}

// DeclareVar binds id to a freshly allocated zeroed scalar storage of the
// given kind in the current frame (global frame if no call is active).
func (c *Context) DeclareVar(id VarID, kind ValueKind, typ uint32) bool {
	s, ok := c.allocate(sizeOfKind(kind), kind, typ)
	if !ok {
		return false
	}
	c.top().vars[id] = s
	return true
}

// DeclareBlob binds id to a freshly allocated zeroed aggregate storage of
// size bytes, for values duplicate/array_copy operate on.
func (c *Context) DeclareBlob(id VarID, size uint32, typ uint32) bool {
	s, ok := c.allocate(size, KindVoid, typ)
	if !ok {
		return false
	}
	c.top().vars[id] = s
	return true
}

func (c *Context) storageOf(id VarID) (*Storage, bool) {
	if s, ok := c.top().vars[id]; ok {
		return s, true
	}
	s, ok := c.globals.vars[id]
	return s, ok
}
