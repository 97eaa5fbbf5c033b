package debug

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/luastep/internal/lua"
)

// Status is the state of a session's unit relative to the caller.
type Status int

const (
	// StatusSuspended is a unit that has not started or stopped at a line.
	StatusSuspended Status = iota
	// StatusRunning is a unit that is the caller's own execution context.
	StatusRunning
	// StatusNormal is a unit that is active and waiting on the caller.
	StatusNormal
	// StatusDead is a unit that returned, failed or was released.
	StatusDead
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuspended:
		return "suspended"
	case StatusRunning:
		return "running"
	case StatusNormal:
		return "normal"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Session drives one Lua function, wrapped as a coroutine, a line at a time.
//
// A Session is not goroutine-safe. It must be used from the goroutine that
// owns its lua.State; Manager does this for callers on other goroutines.
type Session struct {
	id     string
	unit   *lua.Thread
	logger zerolog.Logger

	// Last line the hook saw, -1 before the first one.
	currentLine int

	// Stepping state. skipLine is the line just reported, skipDepth the
	// deepest frame a step may stop in (-1 for any depth).
	skipLine   int
	skipDepth  int
	continuing bool

	// Breakpoint behind the latest suspension, 0 if none.
	lastHit int

	breakpoints *BreakpointRegistry

	closed bool
}

type options struct {
	id     string
	logger zerolog.Logger
	args   []glua.LValue
}

// Option configures a Session.
type Option func(*options)

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithArgs sets the arguments passed to the function on the first resume.
func WithArgs(args ...glua.LValue) Option {
	return func(o *options) {
		o.args = args
	}
}

// WithID sets the session id. A random UUID is used otherwise.
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// New wraps fn as a new monitored unit. It fails with lua.ErrNotCallable
// if fn is not a function.
func New(state *lua.State, fn glua.LValue, opts ...Option) (*Session, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	unit, err := state.NewThread(fn, o.args...)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &Session{
		id:          o.id,
		unit:        unit,
		logger:      o.logger.With().Str("session", o.id).Logger(),
		currentLine: noLine,
		skipLine:    noLine,
		skipDepth:   noLimit,
		breakpoints: NewBreakpointRegistry(),
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Step resumes the unit until the next line, entering calls.
func (s *Session) Step() (StepResult, error) {
	if err := s.checkResumable(); err != nil {
		return StepResult{}, err
	}
	s.skipDepth = noLimit
	s.continuing = false
	return s.resume("step", true)
}

// Next resumes the unit until the next line at the current call depth or
// shallower, stepping over calls.
func (s *Session) Next() (StepResult, error) {
	if err := s.checkResumable(); err != nil {
		return StepResult{}, err
	}
	s.skipDepth = s.unit.Depth()
	s.continuing = false
	return s.resume("next", true)
}

// Finish resumes the unit until the current call returns to its caller.
// On a unit that has not started it behaves as Step.
func (s *Session) Finish() (StepResult, error) {
	if err := s.checkResumable(); err != nil {
		return StepResult{}, err
	}
	depth := s.unit.Depth()
	if depth == 0 {
		s.skipDepth = noLimit
	} else {
		s.skipDepth = max(depth-1, 0)
	}
	s.continuing = false
	return s.resume("finish", true)
}

// Continue resumes the unit until it reaches a breakpoint, yields,
// returns or fails. Without breakpoints no hook is installed.
func (s *Session) Continue() (StepResult, error) {
	if err := s.checkResumable(); err != nil {
		return StepResult{}, err
	}
	s.continuing = true
	return s.resume("continue", s.breakpoints.Len() > 0)
}

func (s *Session) checkResumable() error {
	if s.closed || s.unit.IsClosed() {
		return ErrSessionClosed
	}
	switch s.unit.Status() {
	case lua.ThreadRunning:
		return ErrResumeSelf
	case lua.ThreadNormal:
		return fmt.Errorf("%w: unit is waiting on the caller", ErrResumeSelf)
	case lua.ThreadDead:
		return ErrResumeDead
	}
	return nil
}

// resume runs the unit with the hook installed if hooked is true and
// translates the outcome.
func (s *Session) resume(op string, hooked bool) (StepResult, error) {
	s.lastHit = 0
	if hooked {
		s.unit.SetHook(s.onLine)
	}

	out, err := s.unit.Resume()

	s.unit.SetHook(nil)
	s.skipDepth = noLimit

	if err != nil {
		return StepResult{}, fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
	}

	// The hook did not see the lines run without it.
	if !hooked {
		s.skipLine = noLine
	}

	var result StepResult
	switch out.Status {
	case lua.ResumeCompleted:
		result = StepResult{Kind: Completed, Line: s.currentLine, Values: out.Values}
	case lua.ResumeErrored:
		result = StepResult{Kind: Errored, Line: s.currentLine, Err: out.Err, Message: errorMessage(out.Err)}
	case lua.ResumeSuspended:
		result = StepResult{Kind: Suspended, Line: s.currentLine, Source: s.suspendedSource()}
		switch {
		case !out.HookYield:
			result.Reason = ReasonYield
			result.Values = out.Values
		case s.continuing:
			result.Reason = ReasonBreakpoint
			result.Breakpoint = s.lastHit
		default:
			result.Reason = ReasonStep
		}
	default:
		return StepResult{}, fmt.Errorf("%w: %s: unknown resume status %v", ErrInternal, op, out.Status)
	}

	s.logger.Debug().
		Str("op", op).
		Stringer("result", result.Kind).
		Int("line", s.currentLine).
		Msg("Unit resumed")
	return result, nil
}

// suspendedSource names the function the unit is suspended in.
func (s *Session) suspendedSource() string {
	name, ok := s.unit.Source()
	if !ok {
		return ""
	}
	if canonical, ok := canonicalSource(name); ok {
		return canonical
	}
	return name
}

func errorMessage(lv glua.LValue) string {
	if lv == nil {
		return "nil"
	}
	return lv.String()
}

// Breakpoint registers a breakpoint at file:line and returns its id.
func (s *Session) Breakpoint(file string, line int) (int, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}
	id, err := s.breakpoints.Add(file, line)
	if err != nil {
		return 0, err
	}
	s.logger.Debug().Int("id", id).Str("file", file).Int("line", line).Msg("Breakpoint added")
	return id, nil
}

// Breakpoints returns the registered breakpoints in insertion order.
func (s *Session) Breakpoints() []Breakpoint {
	return s.breakpoints.All()
}

// Registry returns the session's breakpoint registry.
func (s *Session) Registry() *BreakpointRegistry {
	return s.breakpoints
}

// CurrentLine returns the last line reached, or -1 if none.
func (s *Session) CurrentLine() int {
	return s.currentLine
}

// LastBreakpoint returns the id of the breakpoint behind the latest
// suspension, or 0.
func (s *Session) LastBreakpoint() int {
	return s.lastHit
}

// Depth returns the unit's current call depth.
func (s *Session) Depth() int {
	if s.closed {
		return 0
	}
	return s.unit.Depth()
}

// Status returns the unit's status. A closed session reports StatusDead.
func (s *Session) Status() Status {
	if s.closed || s.unit.IsClosed() {
		return StatusDead
	}
	switch s.unit.Status() {
	case lua.ThreadRunning:
		return StatusRunning
	case lua.ThreadNormal:
		return StatusNormal
	case lua.ThreadDead:
		return StatusDead
	default:
		return StatusSuspended
	}
}

// Close releases the unit and drops all breakpoints.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.unit.SetHook(nil)
	s.unit.Close()
	s.breakpoints.Clear()
	s.logger.Debug().Msg("Session closed")
}
