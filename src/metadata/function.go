package metadata

// NativeTrampoline is the seam the out-of-scope C-ABI bridge plugs into:
// a function descriptor with RegVmAddress == NoIndex is external, and the
// interpreter dispatches through whatever Native value the host installed.
// The execution core never calls into native code itself; it only carries
// the pointer pair so a real C-ABI bridge (not part of this module) can be
// wired in by the host.
type NativeTrampoline struct {
	// Context is an opaque host-owned pointer passed back to Call.
	Context interface{}
	// Call is nil for functions with no native implementation available
	// (a configuration error if actually invoked).
	Call func(ctx interface{}, args []byte) ([]byte, error)
}

// FunctionInfo is the linker's per-function descriptor, ExternFuncInfo's Go
// twin.
type FunctionInfo struct {
	Name       string
	NameHash   uint32
	ParamCount uint32
	// LocalCount includes parameters.
	LocalCount uint32
	// ExternCount is the number of upvalues captured by a closure.
	ExternCount        uint32
	OffsetToFirstLocal uint32

	// RegVmAddress is the entry instruction index into Module.Code.
	// NoIndex marks the function as external (no RegVM body).
	RegVmAddress  uint32
	RegVmCodeSize uint32
	// RegVmRegisters is the register-file size required on entry.
	RegVmRegisters uint32

	// BytesToPop is the argument frame size the caller must push to the
	// temp stack; the call protocol asserts this matches exactly.
	BytesToPop uint32
	// StackSize is the function's total data-stack frame size.
	StackSize uint32

	// ParentType is the index of the enclosing class, NoIndex if none.
	ParentType uint32
	// ContextType is the index of the closure/this-pointer type passed
	// as an implicit last argument, NoIndex if none.
	ContextType uint32

	IsCoroutine bool

	Native *NativeTrampoline
}

// IsExternal reports whether the function has no RegVM body (native code
// supplied by the host).
func (f *FunctionInfo) IsExternal() bool {
	return f.RegVmAddress == NoIndex
}

// HasContext reports whether calls to f receive an implicit context
// argument (closure upvalues or a class "this" pointer).
func (f *FunctionInfo) HasContext() bool {
	return f.ContextType != NoIndex
}
