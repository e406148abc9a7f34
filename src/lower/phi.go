package lower

import (
	"fmt"

	"github.com/nullc-lang/regexec/src/ssa"
)

// legalizePhis rewrites every phi in fn into a frame slot: a store at
// each predecessor's terminator and a load replacing the phi at its
// block's head (spec.md §4.2 "Phi legalization (pre-lowering pass)").
// The RegVM has no built-in phi instruction, so this runs once per
// function before register allocation.
//
// It returns a resolution map from each *ssa.Phi to the *ssa.Instr load
// that now computes its value; lowerFunction consults this map whenever
// an operand turns out to be a *ssa.Phi, rather than mutating every
// existing use in place (ssa.Instr.Args holds plain Value references, not
// an editable use-list).
//
// Only phis are legalized here; other SSA values used across blocks keep
// the register run assigned when they were produced and are not moved to
// frame slots.
func legalizePhis(fn *ssa.Function) (map[*ssa.Phi]ssa.Value, error) {
	resolved := make(map[*ssa.Phi]ssa.Value)

	for _, b := range fn.Blocks {
		if len(b.Phis) == 0 {
			continue
		}
		if !b.Sealed {
			return nil, fmt.Errorf("block %d has unresolved phis but is not sealed", b.ID())
		}
		for _, phi := range b.Phis {
			if len(phi.Incoming) != len(b.Preds) {
				return nil, fmt.Errorf("phi %d has %d incoming values for %d predecessors", phi.ID(), len(phi.Incoming), len(b.Preds))
			}

			slot := fn.AddLocal(fmt.Sprintf("$phi%d", phi.ID()), phi.Type())
			fn.Locals[slot].Synthetic = true

			for i, pred := range b.Preds {
				in := phi.Incoming[i]
				if in == nil {
					return nil, fmt.Errorf("phi %d missing incoming value from predecessor %d", phi.ID(), pred.ID())
				}
				store := ssa.NewDetachedInstr(ssa.OpStore, ssa.NoType, ssa.NewLocalRef(slot, phi.Type()), in)
				pred.Append(store)
			}

			load := ssa.NewDetachedInstr(ssa.OpLoad, phi.Type(), ssa.NewLocalRef(slot, phi.Type()))
			b.Prepend(load)
			resolved[phi] = load
		}
		b.Phis = nil
	}
	return resolved, nil
}

// resolveValue substitutes a resolved phi with the load that replaced it,
// leaving any other value unchanged. Applied to every instruction operand
// immediately before lowering so register allocation never sees a raw
// *ssa.Phi.
func resolveValue(resolved map[*ssa.Phi]ssa.Value, v ssa.Value) ssa.Value {
	if phi, ok := v.(*ssa.Phi); ok {
		if r, ok := resolved[phi]; ok {
			return r
		}
	}
	return v
}
