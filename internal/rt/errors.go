package rt

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an execution-core error by the effect it has on the
// caller, per spec.md §7 ("Error kinds, by effect not identifier").
type Kind uint8

const (
	// KindTrap is a recoverable runtime error (divide-by-zero, null
	// deref, out-of-bounds, stack overflow, ...). Terminates the current
	// Interpreter.Run.
	KindTrap Kind = iota
	// KindConfig is a pre-run configuration error (empty code array,
	// missing linker view). Run returns without executing.
	KindConfig
	// KindOverflow is a register-allocation overflow during lowering.
	// Aborts lowering of the current function; the whole module compile
	// fails.
	KindOverflow
	// KindLimit is a tree-evaluator budget breach (instruction count,
	// stack depth, memory). May be Critical.
	KindLimit
)

func (k Kind) String() string {
	switch k {
	case KindTrap:
		return "trap"
	case KindConfig:
		return "config"
	case KindOverflow:
		return "overflow"
	case KindLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// ExecError is the typed error carried by every failure path in the
// execution core. Critical marks a tree-evaluator limit breach as
// UB-class (division by zero, out-of-bounds, function didn't return) so
// that callers performing speculative constant folding do not treat the
// failure as "just ran out of budget" and retry or fold through it
// (spec.md §4.4, §7).
type ExecError struct {
	kind     Kind
	Critical bool
	msg      string
	cause    error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return e.msg
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *ExecError) Unwrap() error {
	return e.cause
}

// Kind returns the error's classification.
func (e *ExecError) Kind() Kind {
	return e.kind
}

// Trap builds a KindTrap ExecError with a formatted message, attaching a
// Go stack via github.com/pkg/errors for the module's own diagnostics
// (the host only ever sees Error(), matching GetExecError's plain string).
func Trap(format string, args ...interface{}) *ExecError {
	msg := fmt.Sprintf(format, args...)
	return &ExecError{kind: KindTrap, msg: msg, cause: errors.New(msg)}
}

// ConfigError builds a KindConfig ExecError.
func ConfigError(format string, args ...interface{}) *ExecError {
	msg := fmt.Sprintf(format, args...)
	return &ExecError{kind: KindConfig, msg: msg, cause: errors.New(msg)}
}

// OverflowError builds a KindOverflow ExecError, wrapping cause with the
// offending function's name for context.
func OverflowError(functionName string, cause error) *ExecError {
	return &ExecError{
		kind:  KindOverflow,
		msg:   fmt.Sprintf("register overflow while lowering function %q: %s", functionName, cause),
		cause: errors.Wrapf(cause, "lowering %q", functionName),
	}
}

// LimitError builds a KindLimit ExecError. critical marks it as UB-class
// (division by zero, OOB, function didn't return) rather than a pure
// budget exhaustion.
func LimitError(critical bool, format string, args ...interface{}) *ExecError {
	msg := fmt.Sprintf(format, args...)
	return &ExecError{kind: KindLimit, Critical: critical, msg: msg, cause: errors.New(msg)}
}

// WithStackTrace appends a call-stack trace to the error message, as the
// interpreter does when a trap reaches the outermost Run (spec.md §7:
// "a call-stack trace ... appended only on the outermost return").
func (e *ExecError) WithStackTrace(trace string) *ExecError {
	out := *e
	out.msg = e.msg + "\r\nCall stack:\r\n" + trace
	return &out
}
