package lua

import (
	"strings"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// Sandbox keeps code loaded at run time debuggable and enforces the
// per-resume line budget.
type Sandbox struct {
	state *State

	// Line limiting
	lineLimit int64
	lineCount int64
}

// NewSandbox creates a new sandbox for the state.
func NewSandbox(state *State, lineLimit int64) *Sandbox {
	return &Sandbox{
		state:     state,
		lineLimit: lineLimit,
	}
}

// Install replaces the chunk loading functions with instrumenting versions.
// Functions defined by chunks loaded this way can be stepped into and hit
// breakpoints like code loaded through State.Load.
func (s *Sandbox) Install() {
	L := s.state.L

	L.SetGlobal("dofile", L.NewFunction(s.dofile))
	L.SetGlobal("loadfile", L.NewFunction(s.loadfile))
	L.SetGlobal("loadstring", L.NewFunction(s.loadstring))
	L.SetGlobal("load", L.NewFunction(s.load))
}

// dofile runs a file. Its top-level lines are probed from a Go call, so
// they cannot suspend; functions it defines can.
func (s *Sandbox) dofile(L *lua.LState) int {
	path := L.CheckString(1)
	fn, err := s.state.loadFile(path)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	top := L.GetTop()
	L.Push(fn)
	L.Call(0, lua.MultRet)
	return L.GetTop() - top
}

func (s *Sandbox) loadfile(L *lua.LState) int {
	path := L.CheckString(1)
	fn, err := s.state.loadFile(path)
	return pushLoaded(L, fn, err)
}

func (s *Sandbox) loadstring(L *lua.LState) int {
	source := L.CheckString(1)
	name := L.OptString(2, "<string>")
	fn, err := s.state.load(name, source)
	return pushLoaded(L, fn, err)
}

// load reads a chunk from a reader function, as Lua 5.1's load does, or
// takes it directly from a string as later versions allow.
func (s *Sandbox) load(L *lua.LState) int {
	name := L.OptString(2, "=(load)")
	if source, ok := L.Get(1).(lua.LString); ok {
		fn, err := s.state.load(name, string(source))
		return pushLoaded(L, fn, err)
	}
	reader := L.CheckFunction(1)

	var sb strings.Builder
	for {
		L.Push(reader)
		L.Call(0, 1)
		piece := L.Get(-1)
		L.Pop(1)

		if piece == lua.LNil {
			break
		}
		if !lua.LVCanConvToString(piece) {
			L.Push(lua.LNil)
			L.Push(lua.LString("reader function must return a string"))
			return 2
		}
		str := piece.String()
		if str == "" {
			break
		}
		sb.WriteString(str)
	}

	fn, err := s.state.load(name, sb.String())
	return pushLoaded(L, fn, err)
}

func pushLoaded(L *lua.LState, fn *lua.LFunction, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(fn)
	return 1
}

// ResetLineCount resets the line counter.
func (s *Sandbox) ResetLineCount() {
	atomic.StoreInt64(&s.lineCount, 0)
}

// LineCount returns the number of lines probed since the last reset.
func (s *Sandbox) LineCount() int64 {
	return atomic.LoadInt64(&s.lineCount)
}

// IncrementLines adds n to the line count and reports whether the count is
// still within the limit.
func (s *Sandbox) IncrementLines(n int64) bool {
	count := atomic.AddInt64(&s.lineCount, n)
	if s.lineLimit > 0 && count > s.lineLimit {
		return false
	}
	return true
}
