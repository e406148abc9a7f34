// Package regvm is the register-based RegVM interpreter: it executes a
// flat metadata.Cmd stream against a register file and the three stacks
// (data, call, temp) spec.md §4.1 describes, grounded on Executor_RegVm.h's
// public surface and Executor_Common.cpp's call-stack walk.
package regvm

// Config governs an Interpreter's stack and register-file sizing, the Go
// twin of the source's constructor-time constants (REGVM_ERROR_BUFFER_SIZE
// and the minimum stack size the host configures at startup).
type Config struct {
	// DataStackSize is the byte capacity reserved for call frames (locals
	// and spilled values), above the global data region.
	DataStackSize uint64
	// TempStackSize is the byte capacity of the temp stack used to
	// transfer call arguments and return values across a call boundary.
	TempStackSize uint64
	// RegisterFileSize is the total number of Register slots available
	// across every live call frame's window.
	RegisterFileSize uint32
	// MaxErrorLen bounds a formatted trap message, mirroring
	// REGVM_ERROR_BUFFER_SIZE.
	MaxErrorLen int
}

// DefaultConfig returns conservative sizing suitable for tests and small
// embedded scripts.
func DefaultConfig() Config {
	return Config{
		DataStackSize:    1 << 20,
		TempStackSize:    1 << 16,
		RegisterFileSize: 1 << 14,
		MaxErrorLen:      1024,
	}
}
