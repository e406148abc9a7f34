package gc

import (
	"github.com/nullc-lang/regexec/internal/rt"
	"github.com/nullc-lang/regexec/src/metadata"
)

// FrameRoot describes one live call frame's root data: the frame's base
// byte offset into the heap's root region and the function whose
// parameters/locals/upvalues occupy it, so Mark can walk each local by
// its declared type. A stopped interpreter computes Base by accumulating
// each nested call's 16-byte-aligned StackSize, the same arithmetic the
// call protocol itself uses to grow the data stack.
type FrameRoot struct {
	Base          uint64
	FunctionIndex uint32
}

// RootProvider is implemented by a stopped interpreter so Mark can walk
// its live roots without this package importing the interpreter package
// (gc and regvm would otherwise form an import cycle: regvm needs gc to
// collect, gc would need regvm's frame layout to find roots).
type RootProvider interface {
	// GlobalBase is the root region's byte offset of the global data block.
	GlobalBase() uint64
	// Frames lists the active call stack, outermost first.
	Frames() []FrameRoot
	// TempStack returns the live byte range of the temp-value stack
	// (call arguments and return values in flight between frames).
	TempStack() (base, top uint64)
}

// Mark runs one stop-the-world mark pass over h: every block reachable
// from globals, live frame locals, and the temp stack is set VISIBLE.
// Sweep (freeing unvisible blocks) is not part of this package.
// Executor_Common.cpp's MarkUsedBlocks.
func Mark(h *Heap, mod *metadata.Module, roots RootProvider, log *rt.Logger) {
	if log == nil {
		log = rt.NewNopLogger()
	}

	var curr, next []root
	marked := 0

	globalBase := roots.GlobalBase()
	for i := range mod.Variables {
		g := &mod.Variables[i]
		checkVariable(h, mod, &next, globalBase+uint64(g.Offset), g.TypeIndex)
	}

	for _, frame := range roots.Frames() {
		f := &mod.Functions[frame.FunctionIndex]
		for i := uint32(0); i < f.LocalCount; i++ {
			local := &mod.Locals[f.OffsetToFirstLocal+i]
			checkVariable(h, mod, &next, frame.Base+uint64(local.Offset), local.TypeIndex)
		}
	}

	base, top := roots.TempStack()
	for addr := base; addr+metadata.PointerSize <= top; addr += metadata.PointerSize {
		target := h.ReadPointer(addr)
		if !h.inManagedRange(target) {
			continue
		}
		blockIdx, ok := h.BaseOf(target)
		if !ok {
			continue
		}
		m := h.Marker(blockIdx)
		if m.Visible() {
			continue
		}
		// The temp stack carries untyped words; recover the block's
		// type from its own marker rather than from a declared slot.
		next = append(next, root{addr: target, typ: m.TypeIndex()})
		h.SetMarker(blockIdx, m.SetVisible())
		marked++
		log.Debugw("gc: marked temp-stack root visible", "block", blockIdx, "type", m.TypeIndex())
	}

	for len(next) > 0 {
		curr, next = next, curr[:0]
		for _, r := range curr {
			checkVariable(h, mod, &next, r.addr, r.typ)
		}
	}

	log.Debugw("gc: mark pass complete", "temp_stack_roots", marked)
}
