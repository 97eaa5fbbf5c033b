package debug

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/luastep/internal/lua"
)

// Manager owns the sessions created on one lua.State and runs every
// operation on them through a single lua.Executor, so it may be used from
// any goroutine. Run must be running for operations to make progress.
type Manager struct {
	exec   *lua.Executor
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager for state.
func NewManager(state *lua.State, logger zerolog.Logger) *Manager {
	return &Manager{
		exec:     lua.NewExecutor(state, 0),
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Run processes operations until ctx is cancelled or Close is called.
func (m *Manager) Run(ctx context.Context) {
	m.exec.Run(ctx)
}

// Execute runs fn on the manager's Lua goroutine.
func (m *Manager) Execute(ctx context.Context, fn func(s *lua.State) error) error {
	return m.exec.Execute(ctx, fn)
}

// Create starts a session for fn and returns its id.
func (m *Manager) Create(ctx context.Context, fn glua.LValue, args ...glua.LValue) (string, error) {
	var sess *Session
	err := m.exec.Execute(ctx, func(state *lua.State) error {
		var err error
		sess, err = New(state, fn, WithArgs(args...), WithLogger(m.logger))
		return err
	})
	if err != nil {
		return "", err
	}
	return m.add(sess), nil
}

// CreateFile loads the script at path and starts a session for it.
func (m *Manager) CreateFile(ctx context.Context, path string, args ...glua.LValue) (string, error) {
	var sess *Session
	err := m.exec.Execute(ctx, func(state *lua.State) error {
		fn, err := state.LoadFile(path)
		if err != nil {
			return err
		}
		sess, err = New(state, fn, WithArgs(args...), WithLogger(m.logger))
		return err
	})
	if err != nil {
		return "", err
	}
	return m.add(sess), nil
}

func (m *Manager) add(sess *Session) string {
	m.mu.Lock()
	m.sessions[sess.ID()] = sess
	n := len(m.sessions)
	m.mu.Unlock()

	m.logger.Debug().Str("session", sess.ID()).Int("sessions", n).Msg("Session created")
	return sess.ID()
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// IDs returns the ids of all live sessions, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Step runs Session.Step on the session with the given id.
func (m *Manager) Step(ctx context.Context, id string) (StepResult, error) {
	return m.stepping(ctx, id, (*Session).Step)
}

// Next runs Session.Next on the session with the given id.
func (m *Manager) Next(ctx context.Context, id string) (StepResult, error) {
	return m.stepping(ctx, id, (*Session).Next)
}

// Finish runs Session.Finish on the session with the given id.
func (m *Manager) Finish(ctx context.Context, id string) (StepResult, error) {
	return m.stepping(ctx, id, (*Session).Finish)
}

// Continue runs Session.Continue on the session with the given id.
func (m *Manager) Continue(ctx context.Context, id string) (StepResult, error) {
	return m.stepping(ctx, id, (*Session).Continue)
}

func (m *Manager) stepping(ctx context.Context, id string, op func(*Session) (StepResult, error)) (StepResult, error) {
	sess, err := m.get(id)
	if err != nil {
		return StepResult{}, err
	}

	var result StepResult
	err = m.exec.Execute(ctx, func(*lua.State) error {
		var err error
		result, err = op(sess)
		return err
	})
	return result, err
}

// Breakpoint adds a breakpoint to the session with the given id.
func (m *Manager) Breakpoint(ctx context.Context, id, file string, line int) (int, error) {
	sess, err := m.get(id)
	if err != nil {
		return 0, err
	}

	var bp int
	err = m.exec.Execute(ctx, func(*lua.State) error {
		var err error
		bp, err = sess.Breakpoint(file, line)
		return err
	})
	return bp, err
}

// Breakpoints returns the breakpoints of the session with the given id.
func (m *Manager) Breakpoints(id string) ([]Breakpoint, error) {
	sess, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return sess.Breakpoints(), nil
}

// Registry returns the breakpoint registry of the session with the given id.
func (m *Manager) Registry(id string) (*BreakpointRegistry, error) {
	sess, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return sess.Registry(), nil
}

// CurrentLine returns the current line of the session with the given id.
func (m *Manager) CurrentLine(ctx context.Context, id string) (int, error) {
	sess, err := m.get(id)
	if err != nil {
		return 0, err
	}

	var line int
	err = m.exec.Execute(ctx, func(*lua.State) error {
		line = sess.CurrentLine()
		return nil
	})
	return line, err
}

// Depth returns the call depth of the session with the given id.
func (m *Manager) Depth(ctx context.Context, id string) (int, error) {
	sess, err := m.get(id)
	if err != nil {
		return 0, err
	}

	var depth int
	err = m.exec.Execute(ctx, func(*lua.State) error {
		depth = sess.Depth()
		return nil
	})
	return depth, err
}

// Status returns the status of the session with the given id.
func (m *Manager) Status(ctx context.Context, id string) (Status, error) {
	sess, err := m.get(id)
	if err != nil {
		return StatusDead, err
	}

	var status Status
	err = m.exec.Execute(ctx, func(*lua.State) error {
		status = sess.Status()
		return nil
	})
	return status, err
}

// Release closes the session with the given id and forgets it. When the
// executor has stopped, the session is closed on the calling goroutine.
func (m *Manager) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	err := m.exec.Execute(ctx, func(*lua.State) error {
		sess.Close()
		return nil
	})
	if err != nil && !m.exec.IsRunning() {
		// Nothing else can touch the state.
		sess.Close()
		err = nil
	}
	m.logger.Debug().Str("session", id).Err(err).Msg("Session released")
	return err
}

// Close releases every session and stops the executor. If the executor is
// not running, sessions are closed on the calling goroutine.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	closeAll := func(*lua.State) error {
		for _, sess := range sessions {
			sess.Close()
		}
		return nil
	}
	if !m.exec.IsRunning() || m.exec.Execute(ctx, closeAll) != nil {
		_ = closeAll(nil)
	}
	m.exec.Close()
}
