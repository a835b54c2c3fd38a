// Package vm - error handling with stack traces
package vm

import (
	"fmt"
	"strings"

	"github.com/kristofer/nyx/pkg/value"
)

// StackFrame represents a single frame in the call stack.
// It captures information about where execution is occurring.
type StackFrame struct {
	Name string // function name or "<program>"/"<anonymous>"
	IP   int    // instruction pointer at time of call
}

// RuntimeError represents a non-catchable VM-internal failure: stack
// underflow, a malformed bytecode operand, an unknown opcode. (Exceeding
// the maximum call depth is a script-level RangeError, not a RuntimeError.)
// These indicate a bug in the compiler or VM itself rather than a
// script-level condition, so unlike ThrownValue they never unwind
// through a try/catch handler (spec.md §7's InternalError: "signals a
// VM bug, never routed to script-level catch").
type RuntimeError struct {
	Message    string
	StackTrace []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.StackTrace) > 0 {
		b.WriteString("\n\nStack trace:")
		for i := len(e.StackTrace) - 1; i >= 0; i-- {
			f := e.StackTrace[i]
			b.WriteString(fmt.Sprintf("\n  at %s [IP: %d]", f.Name, f.IP))
		}
	}
	return b.String()
}

func newRuntimeError(message string, stack []StackFrame) *RuntimeError {
	return &RuntimeError{Message: message, StackTrace: stack}
}

// ThrownValue carries a script-level `throw`n value up through the Go
// call stack, the JS analogue of the teacher's NonLocalReturn: both are
// sentinel errors used to unwind past ordinary instruction dispatch to
// a specific handler. Unlike NonLocalReturn, a ThrownValue's target
// isn't a captured home context — it's whichever try/catch handler (or
// none) covers the current instruction range, resolved dynamically via
// Bytecode.Handlers rather than a captured pointer, since JS has no
// non-local block return to track.
type ThrownValue struct {
	Value value.Value
}

func (t *ThrownValue) Error() string {
	return "uncaught exception: " + t.Value.ToString()
}

// UncaughtError is returned by Engine-level callers when a ThrownValue
// escapes every frame, for §7 "Uncaught" surface rendering. Engine.Eval
// sets only Value; StackTrace is left empty.
type UncaughtError struct {
	Value      value.Value
	StackTrace []StackFrame
}

func (e *UncaughtError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Uncaught %s", e.Value.ToString())
	for i := len(e.StackTrace) - 1; i >= 0; i-- {
		f := e.StackTrace[i]
		fmt.Fprintf(&b, "\n  at %s [IP: %d]", f.Name, f.IP)
	}
	return b.String()
}
