package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// LineEvent describes the line a thread is about to execute.
type LineEvent interface {
	// Thread is the coroutine that reached the line.
	Thread() *lua.LState

	// Line is the 1-based source line.
	Line() int

	// Depth is the number of active call frames of the code reaching the
	// line, the probe itself excluded.
	Depth() int

	// Source is the chunk name of the function executing the line. ok is
	// false when the runtime cannot name it.
	Source() (name string, ok bool)

	// CanYield reports whether the thread may be suspended at this line.
	CanYield() bool
}

// lineEvent is the LineEvent the probe hands to a thread's hook. Values are
// computed lazily since most events are discarded by the hook.
type lineEvent struct {
	L    *lua.LState
	line int

	depth  int
	source *string
}

func (e *lineEvent) Thread() *lua.LState {
	return e.L
}

func (e *lineEvent) Line() int {
	return e.line
}

func (e *lineEvent) Depth() int {
	if e.depth == 0 {
		// Level 0 is the probe.
		e.depth = Depth(e.L) - 1
		if e.depth < 0 {
			e.depth = 0
		}
	}
	return e.depth
}

func (e *lineEvent) Source() (string, bool) {
	if e.source != nil {
		return *e.source, *e.source != ""
	}

	src := ""
	if dbg, ok := e.L.GetStack(1); ok {
		if _, err := e.L.GetInfo("S", dbg, lua.LNil); err == nil && dbg.What != "G" {
			src = dbg.Source
		}
	}
	e.source = &src
	return src, src != ""
}

// CanYield is false outside a coroutine and whenever a Go function sits
// between the probe and the coroutine's entry (pcall, metamethods,
// iterators implemented in Go), since gopher-lua cannot yield across those.
func (e *lineEvent) CanYield() bool {
	if e.L.Parent == nil {
		return false
	}
	for level := 1; ; level++ {
		dbg, ok := e.L.GetStack(level)
		if !ok {
			return true
		}
		if _, err := e.L.GetInfo("S", dbg, lua.LNil); err != nil {
			return false
		}
		if dbg.What == "G" {
			return false
		}
	}
}

// Depth returns the number of active call frames of L. A thread that has
// not started or has finished has depth 0.
func Depth(L *lua.LState) int {
	if L == nil {
		return 0
	}
	depth := 0
	for {
		if _, ok := L.GetStack(depth); !ok {
			return depth
		}
		depth++
	}
}
