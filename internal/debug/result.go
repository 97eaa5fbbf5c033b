package debug

import (
	"fmt"

	glua "github.com/yuin/gopher-lua"
)

// Kind is the outcome of a stepping operation.
type Kind int

const (
	// Completed means the unit returned normally.
	Completed Kind = iota
	// Errored means the unit raised an error.
	Errored
	// Suspended means the unit stopped at a line.
	Suspended
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Errored:
		return "errored"
	case Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Reason explains a suspension.
type Reason int

const (
	// ReasonNone is used for results that are not suspensions.
	ReasonNone Reason = iota
	// ReasonStep is a stop requested by Step, Next or Finish.
	ReasonStep
	// ReasonBreakpoint is a stop at a breakpoint during Continue.
	ReasonBreakpoint
	// ReasonYield is a coroutine.yield performed by the debugged code.
	ReasonYield
)

// String returns a string representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonStep:
		return "step"
	case ReasonBreakpoint:
		return "breakpoint"
	case ReasonYield:
		return "yield"
	default:
		return "unknown"
	}
}

// StepResult is the result of Step, Next, Finish or Continue.
type StepResult struct {
	Kind Kind

	// Line is the line the unit stopped at (Suspended only). It is the
	// session's current line, which may be -1 for a yield before any line.
	Line int

	// Source is the canonical chunk name of the function the unit stopped
	// in (Suspended only), or "" when unknown.
	Source string

	// Reason explains a suspension.
	Reason Reason

	// Breakpoint is the id of the breakpoint that stopped the unit, or 0.
	Breakpoint int

	// Values holds returned values (Completed) or yielded values (Suspended
	// with ReasonYield).
	Values []glua.LValue

	// Err is the error value raised by the unit (Errored only).
	Err glua.LValue

	// Message is Err rendered as a string.
	Message string
}

// String returns a short description of the result.
func (r StepResult) String() string {
	switch r.Kind {
	case Completed:
		return "completed"
	case Errored:
		return fmt.Sprintf("errored: %s", r.Message)
	case Suspended:
		if r.Breakpoint != 0 {
			return fmt.Sprintf("suspended at line %d (breakpoint %d)", r.Line, r.Breakpoint)
		}
		return fmt.Sprintf("suspended at line %d (%s)", r.Line, r.Reason)
	default:
		return r.Kind.String()
	}
}
