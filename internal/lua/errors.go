package lua

import "errors"

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrNotCallable is returned when a thread is created from a non-function value.
	ErrNotCallable = errors.New("value is not callable")

	// ErrLineLimit is raised inside a thread that exceeded its per-resume line budget.
	ErrLineLimit = errors.New("lua line limit exceeded")

	// ErrThreadClosed is returned when resuming a released thread.
	ErrThreadClosed = errors.New("lua thread is closed")
)
