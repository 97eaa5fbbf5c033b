package debug

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/luastep/internal/lua"
)

func newTestState(t *testing.T) *lua.State {
	t.Helper()
	state, err := lua.NewState()
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })
	return state
}

func newTestSession(t *testing.T, state *lua.State, name, src string, opts ...Option) *Session {
	t.Helper()
	fn, err := state.Load(name, src)
	require.NoError(t, err)
	sess, err := New(state, fn, opts...)
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess
}

func requireSuspended(t *testing.T, res StepResult, err error, line int) {
	t.Helper()
	require.NoError(t, err)
	require.Equal(t, Suspended, res.Kind, "result: %s", res)
	require.Equal(t, line, res.Line, "result: %s", res)
}

func requireCompleted(t *testing.T, res StepResult, err error) {
	t.Helper()
	require.NoError(t, err)
	require.Equal(t, Completed, res.Kind, "result: %s", res)
}

const straightLine = `local a = 1
local b = a + 1
local c = b + 1
`

func TestStepStraightLine(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "test.lua", straightLine)

	assert.Equal(t, -1, sess.CurrentLine())
	assert.Equal(t, StatusSuspended, sess.Status())

	for _, line := range []int{1, 2, 3} {
		res, err := sess.Step()
		requireSuspended(t, res, err, line)
		assert.Equal(t, ReasonStep, res.Reason)
		assert.Equal(t, line, sess.CurrentLine())
		assert.Equal(t, StatusSuspended, sess.Status())
	}

	res, err := sess.Step()
	requireCompleted(t, res, err)
	assert.Equal(t, StatusDead, sess.Status())
}

const nextOverCall = `local function helper(x)
  return x + 1
end
local r = (function()
  local a = 1
  local b = 2
  local c = helper(a + b)
  return c
end)()
return r
`

func TestNextStepsOverCall(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "test.lua", nextOverCall)

	res, err := sess.Step()
	requireSuspended(t, res, err, 1)
	res, err = sess.Step()
	requireSuspended(t, res, err, 4)

	res, err = sess.Next()
	requireSuspended(t, res, err, 10)

	res, err = sess.Step()
	requireCompleted(t, res, err)
	require.Len(t, res.Values, 1)
	assert.Equal(t, "4", res.Values[0].String())
}

func TestStepEntersCall(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "test.lua", nextOverCall)

	var lines []int
	for {
		res, err := sess.Step()
		require.NoError(t, err)
		if res.Kind != Suspended {
			break
		}
		lines = append(lines, res.Line)
	}
	assert.Equal(t, []int{1, 4, 5, 6, 7, 2, 8, 10}, lines)
}

func TestFinishStepsOut(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "test.lua", nextOverCall)

	for _, line := range []int{1, 4, 5, 6} {
		res, err := sess.Step()
		requireSuspended(t, res, err, line)
	}
	require.Equal(t, 2, sess.Depth())

	res, err := sess.Finish()
	requireSuspended(t, res, err, 10)
	assert.Equal(t, 1, sess.Depth())
}

func TestFinishFromNestedCall(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "test.lua", nextOverCall)

	for _, line := range []int{1, 4, 5, 6, 7, 2} {
		res, err := sess.Step()
		requireSuspended(t, res, err, line)
	}
	require.Equal(t, 3, sess.Depth())

	// Back in the anonymous function, after helper returned.
	res, err := sess.Finish()
	requireSuspended(t, res, err, 8)
	assert.Equal(t, 2, sess.Depth())
}

func TestFinishOnFreshUnitBehavesAsStep(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "test.lua", straightLine)

	res, err := sess.Finish()
	requireSuspended(t, res, err, 1)
}

func TestFinishAtTopLevelRunsToCompletion(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "test.lua", straightLine)

	res, err := sess.Step()
	requireSuspended(t, res, err, 1)

	res, err = sess.Finish()
	requireCompleted(t, res, err)
}

const recursive = `local function fact(n)
  if n <= 1 then
    return 1
  end
  return n * fact(n - 1)
end
local r = fact(4)
return r
`

func TestNextNeverStopsDeeper(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "test.lua", recursive)

	for _, line := range []int{1, 7, 2} {
		res, err := sess.Step()
		requireSuspended(t, res, err, line)
	}

	limit := sess.Depth()
	require.Equal(t, 2, limit)

	for {
		res, err := sess.Next()
		require.NoError(t, err)
		if res.Kind != Suspended {
			require.Equal(t, Completed, res.Kind)
			assert.Equal(t, "24", res.Values[0].String())
			break
		}
		assert.LessOrEqual(t, sess.Depth(), limit, "stopped at line %d", res.Line)
		limit = sess.Depth()
	}
}

const breakpointScript = `local total = 0
local function add(n)
  total = total + n
end
add(1)
add(2)
local done = true
return total
`

func TestContinueToBreakpoint(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "a.lua", breakpointScript)

	id, err := sess.Breakpoint("a.lua", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	res, err := sess.Continue()
	requireSuspended(t, res, err, 7)
	assert.Equal(t, ReasonBreakpoint, res.Reason)
	assert.Equal(t, 1, res.Breakpoint)
	assert.Equal(t, 1, sess.LastBreakpoint())

	res, err = sess.Continue()
	requireCompleted(t, res, err)
	assert.Equal(t, "3", res.Values[0].String())
}

func TestContinueStopsEachTimeLineIsReached(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "a.lua", breakpointScript)

	_, err := sess.Breakpoint("a.lua", 3)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := sess.Continue()
		requireSuspended(t, res, err, 3)
	}
	res, err := sess.Continue()
	requireCompleted(t, res, err)
}

func TestDuplicateBreakpointsStopOnce(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "a.lua", breakpointScript)

	first, err := sess.Breakpoint("a.lua", 7)
	require.NoError(t, err)
	second, err := sess.Breakpoint("a.lua", 7)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Len(t, sess.Breakpoints(), 2)

	res, err := sess.Continue()
	requireSuspended(t, res, err, 7)
	assert.Equal(t, first, res.Breakpoint)

	res, err = sess.Continue()
	requireCompleted(t, res, err)
}

func TestBreakpointCanonicalFileNames(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "@./scripts/a.lua", breakpointScript)

	_, err := sess.Breakpoint("scripts/a.lua", 7)
	require.NoError(t, err)

	res, err := sess.Continue()
	requireSuspended(t, res, err, 7)
}

func TestBreakpointOtherFileDoesNotMatch(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "a.lua", breakpointScript)

	_, err := sess.Breakpoint("b.lua", 7)
	require.NoError(t, err)

	res, err := sess.Continue()
	requireCompleted(t, res, err)
	assert.Equal(t, 8, sess.CurrentLine())
}

func TestContinueAfterStepOnBreakpointLine(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "a.lua", breakpointScript)

	_, err := sess.Breakpoint("a.lua", 3)
	require.NoError(t, err)

	// Step onto line 3, then continue: the same call must not stop again,
	// the second call must.
	for _, line := range []int{1, 2, 5, 3} {
		res, err := sess.Step()
		requireSuspended(t, res, err, line)
	}
	res, err := sess.Continue()
	requireSuspended(t, res, err, 3)
	assert.Equal(t, ReasonBreakpoint, res.Reason)

	res, err = sess.Continue()
	requireCompleted(t, res, err)
}

func TestContinueWithoutBreakpointsRunsToCompletion(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "a.lua", breakpointScript)

	res, err := sess.Continue()
	requireCompleted(t, res, err)
	// No hook was installed.
	assert.Equal(t, -1, sess.CurrentLine())
}

// stopLines drives sess with op until it no longer suspends and returns
// the suspended lines and the final result.
func stopLines(t *testing.T, sess *Session, op func(*Session) (StepResult, error)) ([]int, StepResult) {
	t.Helper()
	var lines []int
	for i := 0; i < 100; i++ {
		res, err := op(sess)
		require.NoError(t, err)
		if res.Kind != Suspended {
			return lines, res
		}
		lines = append(lines, res.Line)
	}
	t.Fatalf("unit still suspended after 100 resumes, lines %v", lines)
	return nil, StepResult{}
}

const sharedLine = "local a = 1 local b = 2\nlocal c = a + b\nreturn c\n"

func TestStepStatementsSharingALine(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "a.lua", sharedLine)

	lines, res := stopLines(t, sess, (*Session).Step)
	assert.Equal(t, []int{1, 2, 3}, lines)
	require.Equal(t, Completed, res.Kind)
	assert.Equal(t, "3", res.Values[0].String())
}

func TestContinueStatementsSharingALine(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "a.lua", sharedLine)

	_, err := sess.Breakpoint("a.lua", 1)
	require.NoError(t, err)

	lines, res := stopLines(t, sess, (*Session).Continue)
	assert.Equal(t, []int{1}, lines)
	assert.Equal(t, Completed, res.Kind)
}

const singleLineLoop = `local s = 0
for i = 1, 3 do s = s + i end
return s
`

func TestStepSingleLineLoop(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "a.lua", singleLineLoop)

	lines, res := stopLines(t, sess, (*Session).Step)
	assert.Equal(t, []int{1, 2, 3}, lines)
	require.Equal(t, Completed, res.Kind)
	assert.Equal(t, "6", res.Values[0].String())
}

func TestContinueSingleLineLoop(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "a.lua", singleLineLoop)

	_, err := sess.Breakpoint("a.lua", 2)
	require.NoError(t, err)

	lines, res := stopLines(t, sess, (*Session).Continue)
	assert.Equal(t, []int{2}, lines)
	require.Equal(t, Completed, res.Kind)
	assert.Equal(t, "6", res.Values[0].String())
}

const multiLineLoop = `local s = 0
for i = 1, 2 do
  s = s + i s = s * 2
end
return s
`

func TestStepMultiLineLoop(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "a.lua", multiLineLoop)

	lines, res := stopLines(t, sess, (*Session).Step)
	assert.Equal(t, []int{1, 2, 3, 2, 3, 5}, lines)
	require.Equal(t, Completed, res.Kind)
	assert.Equal(t, "8", res.Values[0].String())
}

func TestContinueStopsEveryIteration(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "a.lua", multiLineLoop)

	_, err := sess.Breakpoint("a.lua", 3)
	require.NoError(t, err)

	lines, res := stopLines(t, sess, (*Session).Continue)
	assert.Equal(t, []int{3, 3}, lines)
	assert.Equal(t, Completed, res.Kind)
}

func TestResumeDeadUnit(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "test.lua", straightLine)

	res, err := sess.Continue()
	requireCompleted(t, res, err)

	for _, op := range []func() (StepResult, error){sess.Step, sess.Next, sess.Finish, sess.Continue} {
		_, err := op()
		assert.ErrorIs(t, err, ErrResumeDead)
	}
}

func TestErroredUnit(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "test.lua", "local a = 1\nerror('boom')\n")

	res, err := sess.Step()
	requireSuspended(t, res, err, 1)

	res, err = sess.Continue()
	require.NoError(t, err)
	require.Equal(t, Errored, res.Kind)
	assert.Contains(t, res.Message, "boom")
	assert.NotNil(t, res.Err)
	assert.Equal(t, StatusDead, sess.Status())

	_, err = sess.Step()
	assert.ErrorIs(t, err, ErrResumeDead)
}

func TestStepInsidePcallIsBestEffort(t *testing.T) {
	state := newTestState(t)
	src := `local ok = pcall(function()
  local a = 1
end)
return ok
`
	sess := newTestSession(t, state, "test.lua", src)

	res, err := sess.Step()
	requireSuspended(t, res, err, 1)

	res, err = sess.Step()
	requireSuspended(t, res, err, 4)

	res, err = sess.Step()
	requireCompleted(t, res, err)
	assert.Equal(t, "true", res.Values[0].String())
}

func TestNestedCoroutineLinesAreNotReported(t *testing.T) {
	state := newTestState(t)
	src := `local co = coroutine.create(function()
  local x = 1
  coroutine.yield(x)
end)
local ok, v = coroutine.resume(co)
return v
`
	sess := newTestSession(t, state, "test.lua", src)

	var lines []int
	for {
		res, err := sess.Step()
		require.NoError(t, err)
		if res.Kind != Suspended {
			require.Equal(t, Completed, res.Kind)
			assert.Equal(t, "1", res.Values[0].String())
			break
		}
		lines = append(lines, res.Line)
	}
	assert.Equal(t, []int{1, 5, 6}, lines)
}

func TestUserYieldSurfacesAsSuspension(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "test.lua", "local v = coroutine.yield(5)\nreturn v\n")

	res, err := sess.Step()
	requireSuspended(t, res, err, 1)

	res, err = sess.Step()
	requireSuspended(t, res, err, 1)
	assert.Equal(t, ReasonYield, res.Reason)
	require.Len(t, res.Values, 1)
	assert.Equal(t, "5", res.Values[0].String())

	res, err = sess.Step()
	requireSuspended(t, res, err, 2)
	assert.Equal(t, ReasonStep, res.Reason)

	res, err = sess.Step()
	requireCompleted(t, res, err)
}

func TestArgumentsPassedOnFirstResume(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "test.lua", "local a, b = ...\nreturn a * b\n",
		WithArgs(glua.LNumber(6), glua.LNumber(7)))

	res, err := sess.Step()
	requireSuspended(t, res, err, 1)
	res, err = sess.Continue()
	requireCompleted(t, res, err)
	assert.Equal(t, "42", res.Values[0].String())
}

func TestResumeSelf(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "test.lua", "step_self()\nreturn 1\n")

	var selfErr error
	var selfStatus Status
	state.RegisterFunc("step_self", func(L *glua.LState) int {
		selfStatus = sess.Status()
		_, selfErr = sess.Step()
		return 0
	})

	res, err := sess.Continue()
	requireCompleted(t, res, err)
	assert.Equal(t, StatusRunning, selfStatus)
	assert.ErrorIs(t, selfErr, ErrResumeSelf)
}

func TestNewNotCallable(t *testing.T) {
	state := newTestState(t)

	_, err := New(state, glua.LNumber(1))
	assert.ErrorIs(t, err, lua.ErrNotCallable)
}

func TestSessionClose(t *testing.T) {
	state := newTestState(t)
	fn, err := state.Load("test.lua", straightLine)
	require.NoError(t, err)
	sess, err := New(state, fn, WithID("fixed"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", sess.ID())

	_, err = sess.Breakpoint("test.lua", 2)
	require.NoError(t, err)

	sess.Close()
	sess.Close()

	assert.Equal(t, StatusDead, sess.Status())
	assert.Empty(t, sess.Breakpoints())

	_, err = sess.Step()
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = sess.Breakpoint("test.lua", 2)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionIDsAreUnique(t *testing.T) {
	state := newTestState(t)
	a := newTestSession(t, state, "test.lua", straightLine)
	b := newTestSession(t, state, "test.lua", straightLine)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Len(t, a.ID(), 36)
}

func TestStepResultString(t *testing.T) {
	tests := []struct {
		res  StepResult
		want string
	}{
		{StepResult{Kind: Completed}, "completed"},
		{StepResult{Kind: Errored, Message: "boom"}, "errored: boom"},
		{StepResult{Kind: Suspended, Line: 3, Reason: ReasonStep}, "suspended at line 3 (step)"},
		{StepResult{Kind: Suspended, Line: 7, Reason: ReasonBreakpoint, Breakpoint: 2}, "suspended at line 7 (breakpoint 2)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.res.String())
	}
}

func TestSuspendedResultNamesSource(t *testing.T) {
	state := newTestState(t)
	sess := newTestSession(t, state, "@./scripts/main.lua", straightLine)

	res, err := sess.Step()
	requireSuspended(t, res, err, 1)
	assert.Equal(t, "scripts/main.lua", res.Source)

	for {
		res, err = sess.Step()
		require.NoError(t, err)
		if res.Kind != Suspended {
			break
		}
	}
	assert.Equal(t, Completed, res.Kind)
	assert.Empty(t, res.Source)
}
