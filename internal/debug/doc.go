// Package debug implements a line-stepping debugger for Lua functions.
//
// A Session wraps one function as a coroutine (the unit) and drives it one
// source line at a time. The session installs a hook on the unit before
// each resume and removes it afterwards; the hook decides, before every
// line runs, whether the unit should suspend there.
//
// # Stepping
//
//   - Step stops at the next line reached, entering calls.
//   - Next stops at the next line at the current call depth or shallower.
//   - Finish stops once the current call has returned to its caller.
//   - Continue runs until a breakpoint matches, the unit yields, returns or fails.
//
// Each operation returns a StepResult: Completed with the returned values,
// Errored with the error value, or Suspended at a line. Errors raised by
// the debugged code are results, not Go errors; Go errors are reserved for
// misuse such as resuming a finished unit.
//
// # Breakpoints
//
// Breakpoints are file and line pairs compared against the chunk name of
// the function executing the line. Chunk names are canonicalized by
// stripping a leading '@' and cleaning the path, so "a.lua", "./a.lua" and
// "@a.lua" name the same file. Synthetic chunk names ("=stdin",
// "<string>") never match.
//
// # Limitations
//
// gopher-lua cannot suspend a coroutine across a Go function call. Lines
// reached inside pcall, inside Lua callbacks invoked from Go (table.sort
// comparators, metamethods) or in chunks run by dofile are recorded as the
// current line but never stopped at.
//
// # Usage
//
//	state, _ := lua.NewState()
//	fn, _ := state.LoadFile("script.lua")
//	sess, err := debug.New(state, fn)
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	sess.Breakpoint("script.lua", 12)
//	res, err := sess.Continue()
package debug
