package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrExecutorClosed is returned when attempting to use a closed executor.
var ErrExecutorClosed = errors.New("lua executor is closed")

// job is a unit of work run on the executor's goroutine. result receives
// the outcome of fn and is closed afterwards.
type job struct {
	fn     func(s *State) error
	result chan error
}

// Executor runs every operation on a State from a single goroutine.
//
// A State and its threads are not goroutine-safe, and a suspended thread
// must be resumed from the goroutine that owns the state. The Executor
// marshals calls from any goroutine onto its worker.
//
// Usage:
//
//	exec := NewExecutor(state, 0)
//	go exec.Run(ctx)
//	defer exec.Close()
//
//	err := exec.Execute(ctx, func(s *State) error {
//	    _, err := s.NewThread(fn)
//	    return err
//	})
type Executor struct {
	state   *State
	queue   chan *job
	closed  atomic.Bool
	running atomic.Bool
	done    chan struct{}

	closeOnce sync.Once
}

// NewExecutor creates a new Executor for state. queueSize bounds the number
// of buffered calls (100 when not positive).
func NewExecutor(state *State, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Executor{
		state: state,
		queue: make(chan *job, queueSize),
		done:  make(chan struct{}),
	}
}

// State returns the state the executor serializes access to.
func (e *Executor) State() *State {
	return e.state
}

// Run processes calls until ctx is cancelled or Close is called.
// Calls still queued at that point fail with the cancellation error.
func (e *Executor) Run(ctx context.Context) {
	e.running.Store(true)
	defer e.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			e.drainQueue(ctx.Err())
			return
		case <-e.done:
			e.drainQueue(ErrExecutorClosed)
			return
		case call := <-e.queue:
			err := e.executeCall(call)
			call.result <- err
			close(call.result)
		}
	}
}

// executeCall runs a single call with panic recovery.
func (e *Executor) executeCall(call *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = fmt.Errorf("lua panic: %w", v)
			default:
				err = fmt.Errorf("lua panic: %v", v)
			}
		}
	}()
	return call.fn(e.state)
}

func (e *Executor) drainQueue(err error) {
	for {
		select {
		case call := <-e.queue:
			call.result <- err
			close(call.result)
		default:
			return
		}
	}
}

// Execute runs fn on the executor's goroutine and waits for its result.
// If ctx ends while fn is queued or running, Execute returns ctx.Err()
// without waiting; fn still runs to completion.
func (e *Executor) Execute(ctx context.Context, fn func(s *State) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	call := &job{
		fn:     fn,
		result: make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- call:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-call.result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	}
}

// Close stops the executor. Queued calls fail with ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// IsRunning returns true while Run is processing calls.
func (e *Executor) IsRunning() bool {
	return e.running.Load()
}

// IsClosed returns true if the executor has been closed.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
