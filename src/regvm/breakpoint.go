package regvm

// breakpointEntry records a single breakpoint: whether it disarms itself
// after the first hit (spec.md §4.1 "Breakpoints"). Unlike the source,
// which overwrites the instruction's opcode in place with a trap opcode and
// restores it on removal, this interpreter keeps a sparse
// map[instructionIndex]breakpointEntry consulted before every instruction
// dispatch — spec.md §9 prescribes this as the Go-idiomatic replacement
// for in-place code patching, since Go gives no cheap way to mutate a
// single instruction's opcode byte behind concurrent readers the way a
// mutable C array does, and a map lookup per instruction is already how the
// interpreter checks breakpoints without patching at all.
type breakpointEntry struct {
	oneHit bool
}

// ClearBreakpoints removes every breakpoint.
func (it *Interpreter) ClearBreakpoints() {
	it.breakpoints = make(map[uint32]breakpointEntry)
}

// AddBreakpoint arms a breakpoint at instruction. oneHit breakpoints
// disarm themselves after firing once.
func (it *Interpreter) AddBreakpoint(instruction uint32, oneHit bool) bool {
	if int(instruction) >= len(it.mod.Code) {
		return false
	}
	it.breakpoints[instruction] = breakpointEntry{oneHit: oneHit}
	return true
}

// RemoveBreakpoint disarms the breakpoint at instruction, if any.
func (it *Interpreter) RemoveBreakpoint(instruction uint32) bool {
	if _, ok := it.breakpoints[instruction]; !ok {
		return false
	}
	delete(it.breakpoints, instruction)
	return true
}

// SetBreakFunction installs the controller callback invoked when execution
// reaches an armed instruction; it returns true to resume execution, false
// to end the current Run with an error and leave State() at
// StateBreakpoint. The interpreter has no operation that resumes or steps
// a run from that point.
func (it *Interpreter) SetBreakFunction(fn func(instruction uint32) bool) {
	it.breakFunc = fn
}

// checkBreakpoint consults the breakpoint map before dispatching the
// instruction at ip. It returns true if execution should pause.
func (it *Interpreter) checkBreakpoint(ip uint32) bool {
	bp, ok := it.breakpoints[ip]
	if !ok {
		return false
	}
	if bp.oneHit {
		delete(it.breakpoints, ip)
	}
	if it.breakFunc == nil {
		return false
	}
	return !it.breakFunc(ip)
}
