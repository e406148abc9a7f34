package metadata

import (
	"fmt"
	"sort"
	"strings"
)

// SourceInfo maps one RegVM instruction index to a byte offset into Source,
// Linker.h's ExternSourceInfo twin. The table is sorted by InstructionIndex
// so SourceLocationFor can binary-search it.
type SourceInfo struct {
	InstructionIndex uint32
	SourceOffset     uint32
}

// ModuleRef records one imported module's name and the index range it
// contributed to the owning Module's Functions/Variables/Types tables, so
// diagnostics can report "defined in module X" the way the linker does.
type ModuleRef struct {
	Name           string
	FunctionOffset uint32
	FunctionCount  uint32
	VariableOffset uint32
	VariableCount  uint32
}

// Module is the linked, read-only, process-wide view every execution-core
// package consults: the Linker's output (Linker.h) translated field-for-
// field into Go slices instead of the source's resizable arrays.
type Module struct {
	Types     []TypeInfo
	TypeExtra []MemberInfo // Flattened member lists; TypeInfo.MemberOffset indexes here.

	Variables []GlobalInfo
	Functions []FunctionInfo
	Locals    []LocalInfo

	Symbols string // Interned identifier/member-name blob.
	Source  string // Concatenated original source text, for SourceLocationFor.

	SourceInfo []SourceInfo
	Modules    []ModuleRef

	// GlobalVarSize is the total byte size of the global data region at
	// the data stack's base.
	GlobalVarSize uint32

	// RegVmOffsetToGlobalCode is the instruction index of the module-level
	// entry point (global statement sequence run once at load time).
	RegVmOffsetToGlobalCode uint32

	// RegVmGlobalCodeRegisters and RegVmGlobalStackSize are the global
	// code body's own register-file and data-stack footprint, sized the
	// same way a FunctionInfo's RegVmRegisters/StackSize are, since the
	// global statement sequence runs in its own frame just like a
	// function body.
	RegVmGlobalCodeRegisters uint32
	RegVmGlobalStackSize     uint32

	// Code is the flat RegVM instruction stream; FunctionInfo.RegVmAddress
	// indexes into this.
	Code []Cmd
}

// FunctionByAddress finds the function whose RegVM body contains the
// instruction at addr, the twin of the source's
// ConvertRegVmAddressToFunction. Returns NoIndex if addr falls outside
// every function's body (e.g. in the global code prologue).
func (m *Module) FunctionByAddress(addr uint32) uint32 {
	for i := range m.Functions {
		f := &m.Functions[i]
		if f.IsExternal() {
			continue
		}
		if addr >= f.RegVmAddress && addr < f.RegVmAddress+f.RegVmCodeSize {
			return uint32(i)
		}
	}
	return NoIndex
}

// ConvertAddressToFunction is an exported alias of FunctionByAddress kept
// under the original API's name for callers porting diagnostics code
// directly (Executor_Common.cpp's ConvertAddressToFunction).
func (m *Module) ConvertAddressToFunction(addr uint32) uint32 {
	return m.FunctionByAddress(addr)
}

// SourceLocationFor maps a RegVM instruction index to the best-effort
// source text around it, by binary-searching SourceInfo for the entry
// with the greatest InstructionIndex not exceeding addr and slicing Source
// from its SourceOffset up to the next entry's offset (or end of string),
// cut at the first newline and trimmed of surrounding whitespace.
func (m *Module) SourceLocationFor(addr uint32) string {
	if len(m.SourceInfo) == 0 {
		return ""
	}
	i := sort.Search(len(m.SourceInfo), func(i int) bool {
		return m.SourceInfo[i].InstructionIndex > addr
	})
	if i == 0 {
		return ""
	}
	entry := m.SourceInfo[i-1]
	start := int(entry.SourceOffset)
	if start > len(m.Source) {
		return ""
	}
	end := len(m.Source)
	if i < len(m.SourceInfo) {
		if next := int(m.SourceInfo[i].SourceOffset); next <= len(m.Source) && next > start {
			end = next
		}
	}
	if nl := strings.IndexByte(m.Source[start:end], '\n'); nl >= 0 {
		end = start + nl
	}
	return strings.TrimSpace(m.Source[start:end])
}

// PrintStackFrame renders one call-frame line of a trap's stack trace, in
// the source's "functionName(args) - source location" shape
// (Executor_Common.cpp's PrintStackFrame).
func (m *Module) PrintStackFrame(functionIndex uint32, instructionAddress uint32) string {
	if functionIndex == NoIndex || int(functionIndex) >= len(m.Functions) {
		return fmt.Sprintf("0x%x: unknown function", instructionAddress)
	}
	f := &m.Functions[functionIndex]
	loc := m.SourceLocationFor(instructionAddress)
	if loc == "" {
		return fmt.Sprintf("%s() [0x%x]", f.Name, instructionAddress)
	}
	return fmt.Sprintf("%s() [0x%x] - %s", f.Name, instructionAddress, loc)
}

// Symbol returns the NUL-terminated run of Symbols starting at offset, used
// to recover a member/identifier name stored by byte offset rather than by
// a Go string, matching the source's interned-symbol-table layout.
func (m *Module) Symbol(offset uint32) string {
	if int(offset) >= len(m.Symbols) {
		return ""
	}
	rest := m.Symbols[offset:]
	if nul := strings.IndexByte(rest, 0); nul >= 0 {
		return rest[:nul]
	}
	return rest
}

// Members returns the flattened member-type slice for a class TypeInfo, in
// declaration order.
func (m *Module) Members(t *TypeInfo) []MemberInfo {
	if t.MemberCount == 0 {
		return nil
	}
	end := t.MemberOffset + t.MemberCount
	if int(end) > len(m.TypeExtra) {
		return nil
	}
	return m.TypeExtra[t.MemberOffset:end]
}

// PointerMembers returns the reordered run of t's pointer-bearing members
// the GC walks: PointerCount entries stored immediately after the full
// declaration-order member list, at offset MemberOffset+MemberCount
// (Executor_Common.cpp's CheckClass: "memberOffset + memberCount").
func (m *Module) PointerMembers(t *TypeInfo) []MemberInfo {
	if t.PointerCount == 0 {
		return nil
	}
	start := t.MemberOffset + t.MemberCount
	end := start + t.PointerCount
	if int(end) > len(m.TypeExtra) {
		return nil
	}
	return m.TypeExtra[start:end]
}
