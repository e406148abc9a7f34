// Package lower converts a function's SSA ssa.Module into a flat
// metadata.Cmd stream: register allocation, phi legalization, and
// block-by-block instruction selection (spec.md §4.2).
package lower

import (
	"fmt"

	"github.com/nullc-lang/regexec/src/metadata"
	"github.com/nullc-lang/regexec/src/ssa"
)

// firstPhysicalRegister is rvrrCount: the lowest register index the
// allocator may hand out. Indices below it are the reserved scope-base
// registers (metadata.RegGlobals..RegRegisters).
const firstPhysicalRegister = int(metadata.RegCount)

// maxRegister is the highest representable register index; Cmd.RA/RB/RC
// are a single byte wide.
const maxRegister = 255

// Slots returns the number of 4/8-byte register slots a VM value of typ
// occupies, per spec.md §3's aggregate layouts and §4.2's "run of
// registers" rule.
func Slots(mod *metadata.Module, typ uint32) int {
	if typ == metadata.NoIndex || int(typ) >= len(mod.Types) {
		return 0
	}
	t := &mod.Types[typ]
	switch {
	case t.IsAutoArray():
		return 3 // { type_id, element_ptr, length }
	case t.IsAutoRef():
		return 2 // { type_id, target_ptr }
	case t.Category == metadata.CategoryFunction:
		return 2 // { context_ptr, function_id }
	case t.Category == metadata.CategoryArray && t.ArraySize == metadata.Unsized:
		return 2 // { element_ptr, length }
	default:
		size := t.Size
		if size == 0 {
			size = 1
		}
		slots := (size + 7) / 8
		if slots < 1 {
			slots = 1
		}
		return int(slots)
	}
}

// allocator is a per-function linear-scan register allocator over the
// physical register range [rvrrCount..255] (spec.md §4.2 "Register
// allocator"). GetRegister pops a freed register or bumps nextRegister;
// FreeRegister marks a register delayed-free, committed only once the
// producing instruction's lowering step has finished reading its own
// inputs, so an instruction may read and write the same register.
type allocator struct {
	next     int
	free     []uint8
	pending  []uint8 // delayed frees, committed by commitFrees.
	assigned map[uint64][]uint8
	overflow bool
}

func newAllocator() *allocator {
	return &allocator{next: firstPhysicalRegister, assigned: make(map[uint64][]uint8)}
}

// GetRegister allocates n contiguous physical registers. A run longer
// than one register always bumps nextRegister (a freed single register
// cannot satisfy a multi-register run); a single register first tries the
// free list.
func (a *allocator) GetRegister(n int) ([]uint8, error) {
	if n <= 0 {
		n = 1
	}
	if n == 1 && len(a.free) > 0 {
		r := a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
		return []uint8{r}, nil
	}
	if a.next+n-1 > maxRegister {
		a.overflow = true
		return nil, fmt.Errorf("register overflow: need %d registers from %d, limit %d", n, a.next, maxRegister)
	}
	run := make([]uint8, n)
	for i := 0; i < n; i++ {
		run[i] = uint8(a.next + i)
	}
	a.next += n
	return run, nil
}

// FreeRegister marks regs as delayed-free. Only single registers are
// recycled via the free list (see GetRegister); multi-register runs are
// dropped (the allocator never reclaims mid-run slots, matching the
// source's treatment of composite temporaries as short-lived scratch).
func (a *allocator) FreeRegister(regs []uint8) {
	if len(regs) == 1 {
		a.pending = append(a.pending, regs[0])
	}
}

// commitFrees folds pending delayed frees into the reusable free list.
// Called once per lowered instruction, after both its inputs have been
// read and its output has been written.
func (a *allocator) commitFrees() {
	if len(a.pending) == 0 {
		return
	}
	a.free = append(a.free, a.pending...)
	a.pending = a.pending[:0]
}

// Assign records the register run bound to an SSA value.
func (a *allocator) Assign(v ssa.Value, run []uint8) {
	a.assigned[v.ID()] = run
}

// RegistersOf returns the run previously assigned to v, or nil if none.
func (a *allocator) RegistersOf(v ssa.Value) []uint8 {
	return a.assigned[v.ID()]
}

// registerFileSize reports the regVmRegisters a function needs: the
// highest physical register index handed out, plus one.
func (a *allocator) registerFileSize() uint32 {
	if a.next <= firstPhysicalRegister {
		return uint32(firstPhysicalRegister)
	}
	return uint32(a.next)
}
