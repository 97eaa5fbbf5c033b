// Package lua provides the Lua runtime that the debugger drives.
//
// This package wraps the gopher-lua library to provide:
//   - Instrumented chunk loading (a line probe before every statement)
//   - Coroutine threads that can be suspended from inside the probe
//   - Call-stack depth and source queries for the active frame
//   - A sandbox that keeps run-time loaded code instrumented
//   - A single-goroutine executor and a value bridge for display
//
// # State
//
// The State type owns the main gopher-lua state and every thread created
// from it:
//
//	state, err := lua.NewState(lua.WithLineLimit(1_000_000))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer state.Close()
//
//	fn, err := state.LoadFile("script.lua")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Probes
//
// gopher-lua has no line hook, so chunks are rewritten before compilation.
// Every statement is preceded by
//
//	while __luastep_line(<line>) do end
//
// The probe asks the hook installed on the running thread whether to
// suspend. When it suspends, the thread yields from inside the probe; the
// next resume makes the probe call return true, so the probe fires again
// for the same line before the statement runs. Hooks must therefore
// recognize a repeated firing of the line they just reported.
//
// # Threads
//
// A Thread is a coroutine wrapping one function:
//
//	th, err := state.NewThread(fn)
//	th.SetHook(func(ev lua.LineEvent) bool {
//	    return ev.Line() == 3 && ev.CanYield()
//	})
//	out, err := th.Resume()
//
// Suspension is only legal when no Go function sits between the probe and
// the coroutine base. Lines reached inside pcall, table.sort comparators or
// other Go-to-Lua callbacks report CanYield() == false.
package lua
