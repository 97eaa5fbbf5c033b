package debug

import "errors"

// Usage errors returned by session operations.
var (
	// ErrResumeSelf is returned when the unit is the caller's own execution
	// context, or is waiting on it.
	ErrResumeSelf = errors.New("cannot resume self")

	// ErrResumeDead is returned when the unit already returned or failed.
	ErrResumeDead = errors.New("cannot resume finished execution")

	// ErrInvalidBreakpoint is returned for an empty or synthetic file name
	// or a line below 1.
	ErrInvalidBreakpoint = errors.New("invalid breakpoint")

	// ErrSessionClosed is returned when operating on a closed session.
	ErrSessionClosed = errors.New("debug session is closed")

	// ErrSessionNotFound is returned by Manager for unknown session ids.
	ErrSessionNotFound = errors.New("debug session not found")
)

// ErrInternal reports a resume outcome the session cannot interpret.
var ErrInternal = errors.New("internal debugger error")
