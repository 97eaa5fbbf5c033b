package lua

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// DefaultLineLimit is the per-resume line budget (0 means unlimited).
const DefaultLineLimit = 0

// State wraps gopher-lua with instrumented loading and debuggable threads.
//
// IMPORTANT: gopher-lua's LState is not goroutine-safe. A State, and every
// Thread created from it, must be used from a single goroutine. Use an
// Executor to marshal calls from other goroutines.
type State struct {
	L *lua.LState

	mu sync.Mutex

	// Configuration
	lineLimit    int64
	allLibraries bool
	ctx          context.Context
	logger       zerolog.Logger

	sandbox *Sandbox

	// Threads by coroutine, consulted by the probe.
	threads map[*lua.LState]*Thread

	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithLineLimit sets the maximum number of probed lines a thread may run
// per resume. Zero disables the limit.
func WithLineLimit(lines int64) StateOption {
	return func(s *State) {
		s.lineLimit = lines
	}
}

// WithLogger sets the logger used by the state and its threads.
func WithLogger(logger zerolog.Logger) StateOption {
	return func(s *State) {
		s.logger = logger
	}
}

// WithContext attaches ctx to the main state. Threads inherit a child
// context, so cancelling ctx aborts running Lua code with an error.
func WithContext(ctx context.Context) StateOption {
	return func(s *State) {
		s.ctx = ctx
	}
}

// WithLibraries opens the full standard library (io, os, debug, channel)
// instead of the default base, package, table, string, math and coroutine set.
func WithLibraries(all bool) StateOption {
	return func(s *State) {
		s.allLibraries = all
	}
}

// NewState creates a new Lua state with the line probe installed.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		lineLimit: DefaultLineLimit,
		logger:    zerolog.Nop(),
		threads:   make(map[*lua.LState]*Thread),
	}

	for _, opt := range opts {
		opt(state)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	if state.ctx != nil {
		L.SetContext(state.ctx)
	}
	state.L = L

	if err := openLibraries(L, state.allLibraries); err != nil {
		L.Close()
		return nil, err
	}

	L.SetGlobal(ProbeName, L.NewFunction(state.probe))

	state.sandbox = NewSandbox(state, state.lineLimit)
	state.sandbox.Install()

	return state, nil
}

// openLibraries opens the standard libraries the debugged code may use.
func openLibraries(L *lua.LState, all bool) error {
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	}
	if all {
		libs = append(libs, []struct {
			name string
			fn   lua.LGFunction
		}{
			{lua.IoLibName, lua.OpenIo},
			{lua.OsLibName, lua.OpenOs},
			{lua.DebugLibName, lua.OpenDebug},
			{lua.ChannelLibName, lua.OpenChannel},
		}...)
	}

	for _, lib := range libs {
		err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name))
		if err != nil {
			return fmt.Errorf("open %q library: %w", lib.name, err)
		}
	}
	return nil
}

// probe is the function instrumented code calls before every statement.
// It returns true when the caller must fire it again for the same line,
// which happens after the thread was suspended here and resumed.
func (s *State) probe(L *lua.LState) int {
	line := L.CheckInt(1)

	t, ok := s.threads[L]
	if !ok {
		L.Push(lua.LFalse)
		return 1
	}

	if !s.sandbox.IncrementLines(1) {
		L.RaiseError("%s (%d lines)", ErrLineLimit, s.lineLimit)
	}

	if t.hook == nil {
		L.Push(lua.LFalse)
		return 1
	}

	ev := &lineEvent{L: L, line: line}
	if !t.hook(ev) {
		L.Push(lua.LFalse)
		return 1
	}
	if !ev.CanYield() {
		s.logger.Debug().Int("line", line).Msg("Suspension requested in non-yieldable context")
		L.Push(lua.LFalse)
		return 1
	}

	t.hookYield = true
	return L.Yield()
}

// Load compiles an instrumented chunk from source.
func (s *State) Load(name, source string) (*lua.LFunction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}
	return s.load(name, source)
}

func (s *State) load(name, source string) (*lua.LFunction, error) {
	proto, err := Compile(strings.NewReader(source), name)
	if err != nil {
		return nil, err
	}
	return s.L.NewFunctionFromProto(proto), nil
}

// LoadFile compiles an instrumented chunk from a file. The chunk is named
// after path, which is the source identity breakpoints match against.
func (s *State) LoadFile(path string) (*lua.LFunction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}
	return s.loadFile(path)
}

func (s *State) loadFile(path string) (*lua.LFunction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	proto, err := Compile(bufio.NewReader(f), path)
	if err != nil {
		return nil, err
	}
	return s.L.NewFunctionFromProto(proto), nil
}

// DoString loads and runs an instrumented chunk on the main state.
// Execution is synchronous - the call blocks until completion or error.
func (s *State) DoString(name, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	fn, err := s.load(name, source)
	if err != nil {
		return err
	}
	return s.callWithRecovery(fn)
}

// DoFile loads and runs an instrumented file on the main state.
func (s *State) DoFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	fn, err := s.loadFile(path)
	if err != nil {
		return err
	}
	return s.callWithRecovery(fn)
}

// callWithRecovery calls fn with no arguments, converting panics to errors.
func (s *State) callWithRecovery(fn *lua.LFunction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	s.sandbox.ResetLineCount()
	return s.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
}

// GetGlobal returns a global variable value.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// SetGlobal sets a global variable.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, value)
}

// RegisterFunc registers a Go function as a global Lua function.
func (s *State) RegisterFunc(name string, fn lua.LGFunction) {
	s.SetGlobal(name, s.L.NewFunction(fn))
}

// NewThread wraps fn as a new suspendable thread. args are passed to fn on
// the first resume.
func (s *State) NewThread(fn lua.LValue, args ...lua.LValue) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	f, ok := fn.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotCallable, typeName(fn))
	}

	co, cancel := s.L.NewThread()
	t := &Thread{
		state:  s,
		L:      co,
		fn:     f,
		args:   args,
		cancel: cancel,
	}
	s.threads[co] = t

	s.logger.Debug().Int("threads", len(s.threads)).Msg("Thread created")
	return t, nil
}

// release forgets t. Called by Thread.Close.
func (s *State) release(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.threads, t.L)
}

// current returns the thread that is executing right now.
func (s *State) current() *lua.LState {
	if cur := s.L.G.CurrentThread; cur != nil {
		return cur
	}
	return s.L
}

// LuaState returns the underlying gopher-lua state.
//
// WARNING: Direct access to LState bypasses the state's bookkeeping. The
// caller is responsible for staying on the state's goroutine.
func (s *State) LuaState() *lua.LState {
	return s.L
}

// Sandbox returns the sandbox installed in this state.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases all resources associated with the Lua state, including
// every thread created from it.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	for co, t := range s.threads {
		t.closed = true
		if t.cancel != nil {
			t.cancel()
		}
		delete(s.threads, co)
	}

	s.L.Close()
	s.closed = true
	return nil
}

func typeName(lv lua.LValue) string {
	if lv == nil {
		return "no value"
	}
	return lv.Type().String()
}
