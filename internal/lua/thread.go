package lua

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Hook is called before every probed line of the thread it is installed on.
// Returning true asks the runtime to suspend the thread at that line; the
// request is ignored when ev.CanYield() is false.
type Hook func(ev LineEvent) bool

// ResumeStatus is the low-level outcome of resuming a thread.
type ResumeStatus int

const (
	// ResumeCompleted means the thread's function returned.
	ResumeCompleted ResumeStatus = iota
	// ResumeErrored means the thread raised an error.
	ResumeErrored
	// ResumeSuspended means the thread yielded.
	ResumeSuspended
)

// String returns a string representation of the status.
func (s ResumeStatus) String() string {
	switch s {
	case ResumeCompleted:
		return "completed"
	case ResumeErrored:
		return "errored"
	case ResumeSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Outcome is the result of a single Resume call.
type Outcome struct {
	Status ResumeStatus

	// Values holds the returned or yielded values.
	Values []lua.LValue

	// Err is the error value raised by the thread (ResumeErrored only).
	Err lua.LValue

	// StackTrace is the Lua traceback of the error, when available.
	StackTrace string

	// HookYield is true when the thread was suspended by its hook rather
	// than by coroutine.yield.
	HookYield bool
}

// ThreadStatus is a coroutine status as seen from the running code.
type ThreadStatus int

const (
	// ThreadSuspended is a thread that has not started or has yielded.
	ThreadSuspended ThreadStatus = iota
	// ThreadRunning is the thread executing right now.
	ThreadRunning
	// ThreadNormal is a thread that resumed the running thread and waits for it.
	ThreadNormal
	// ThreadDead is a thread that returned or raised an error.
	ThreadDead
)

// String returns a string representation of the status.
func (s ThreadStatus) String() string {
	switch s {
	case ThreadSuspended:
		return "suspended"
	case ThreadRunning:
		return "running"
	case ThreadNormal:
		return "normal"
	case ThreadDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Thread is a coroutine created from a single function.
type Thread struct {
	state *State
	L     *lua.LState
	fn    *lua.LFunction
	args  []lua.LValue

	cancel context.CancelFunc

	hook      Hook
	hookYield bool
	started   bool
	closed    bool
}

// SetHook installs h on the thread. A nil hook uninstalls the current one.
func (t *Thread) SetHook(h Hook) {
	t.hook = h
}

// LState returns the coroutine's gopher-lua state.
func (t *Thread) LState() *lua.LState {
	return t.L
}

// Function returns the function the thread runs.
func (t *Thread) Function() *lua.LFunction {
	return t.fn
}

// Resume runs the thread until it returns, raises an error or yields.
// The first resume passes the thread's arguments to its function; later
// resumes pass true, which makes a suspended probe fire again.
//
// Resume does not check whether the thread is running or dead; callers
// are expected to check Status first.
func (t *Thread) Resume() (Outcome, error) {
	if t.closed {
		return Outcome{}, ErrThreadClosed
	}

	args := []lua.LValue{lua.LTrue}
	if !t.started {
		args = t.args
		t.started = true
	}

	t.hookYield = false
	t.state.sandbox.ResetLineCount()

	st, err, values := t.state.current().Resume(t.L, t.fn, args...)

	out := Outcome{
		Values:    values,
		HookYield: t.hookYield,
	}
	t.hookYield = false

	switch st {
	case lua.ResumeOK:
		out.Status = ResumeCompleted
	case lua.ResumeYield:
		out.Status = ResumeSuspended
	case lua.ResumeError:
		out.Status = ResumeErrored
		out.Values = nil
		out.Err, out.StackTrace = errorValue(err)
	default:
		return out, fmt.Errorf("unknown resume status %d", st)
	}
	return out, nil
}

// errorValue extracts the Lua error value from a resume error.
func errorValue(err error) (lua.LValue, string) {
	if err == nil {
		return lua.LNil, ""
	}
	if apiErr, ok := err.(*lua.ApiError); ok {
		if apiErr.Object != nil {
			return apiErr.Object, apiErr.StackTrace
		}
		return lua.LString(apiErr.Error()), apiErr.StackTrace
	}
	return lua.LString(err.Error()), ""
}

// Depth returns the number of active call frames of the thread.
func (t *Thread) Depth() int {
	return Depth(t.L)
}

// Source returns the chunk name of the function on top of the thread's
// stack. A suspended thread reports the function it stopped in.
func (t *Thread) Source() (string, bool) {
	dbg, ok := t.L.GetStack(0)
	if !ok {
		return "", false
	}
	if _, err := t.L.GetInfo("S", dbg, lua.LNil); err != nil || dbg.What == "G" {
		return "", false
	}
	return dbg.Source, dbg.Source != ""
}

// Status returns the thread's status relative to the code running now.
func (t *Thread) Status() ThreadStatus {
	if t.L.Dead {
		return ThreadDead
	}

	cur := t.state.current()
	if cur == t.L {
		return ThreadRunning
	}
	for th := cur; th != nil; th = th.Parent {
		if th.Parent == t.L {
			return ThreadNormal
		}
	}
	return ThreadSuspended
}

// IsRunning returns true if the thread is the one executing right now.
func (t *Thread) IsRunning() bool {
	return t.Status() == ThreadRunning
}

// IsDead returns true if the thread returned or raised an error.
func (t *Thread) IsDead() bool {
	return t.L.Dead
}

// IsClosed returns true if the thread has been released.
func (t *Thread) IsClosed() bool {
	return t.closed
}

// Close releases the thread. The hook is removed and the thread's context
// is cancelled.
func (t *Thread) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.hook = nil
	if t.cancel != nil {
		t.cancel()
	}
	t.state.release(t)
}
