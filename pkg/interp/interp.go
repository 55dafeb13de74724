package interp

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Exit codes reported when a script ends without calling process.exit.
const (
	ExitCodeSuccess    = 0
	ExitCodeFailure    = 1
	ExitCodeTerminated = 143
)

var (
	// ErrClosed is returned when a closed script is executed.
	ErrClosed = errors.New("script closed")

	// ErrAlreadyExecuted is returned when a script is executed twice.
	ErrAlreadyExecuted = errors.New("script already executed")
)

// Engine creates interpreter environments.
type Engine interface {
	// Name identifies the engine implementation.
	Name() string

	// ImplementationVersion builds a throwaway context and reports its version string.
	ImplementationVersion() (string, error)

	// NewEnvironment creates an environment for one component.
	NewEnvironment(opts EnvironmentOptions) (Environment, error)
}

// EnvironmentOptions configures an Environment.
type EnvironmentOptions struct {
	// Dir is the project directory used for module resolution.
	Dir string

	// Env is added to the script's process environment.
	Env map[string]string
}

// Environment compiles scripts.
type Environment interface {
	// CreateScript compiles file. name identifies the script in diagnostics.
	CreateScript(name, file string, args []string) (Script, error)
}

// Script is a compiled script owned by exactly one component.
type Script interface {
	// Name returns the script name given at creation.
	Name() string

	// Execute starts the script asynchronously.
	Execute() (Future, error)

	// Close terminates the interpreter instance. Safe to call more than once.
	Close() error
}

// Status is the terminal state of an execution.
type Status struct {
	ExitCode int
	Cause    error
}

// HasCause reports whether execution raised an error.
func (s Status) HasCause() bool {
	return s.Cause != nil
}

// OK reports a clean exit.
func (s Status) OK() bool {
	return s.ExitCode == ExitCodeSuccess && s.Cause == nil
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if s.Cause != nil {
		return fmt.Sprintf("exit %d: %v", s.ExitCode, s.Cause)
	}
	return fmt.Sprintf("exit %d", s.ExitCode)
}

// Listener receives the terminal status of an execution.
type Listener func(script Script, status Status)

// Future tracks one execution.
type Future interface {
	// SetListener registers the completion listener. If the execution has
	// already finished, the listener is invoked right away.
	SetListener(l Listener)

	// Wait blocks until completion or ctx is done.
	Wait(ctx context.Context) (Status, error)

	// Done is closed on completion.
	Done() <-chan struct{}
}

// ExecutionFuture is a Future completed by the interpreter.
type ExecutionFuture struct {
	script Script

	mu       sync.Mutex
	done     chan struct{}
	status   Status
	finished bool
	listener Listener
}

// NewExecutionFuture creates a pending future for script.
func NewExecutionFuture(script Script) *ExecutionFuture {
	return &ExecutionFuture{
		script: script,
		done:   make(chan struct{}),
	}
}

// Complete records status and notifies the listener. Only the first call has an effect.
func (f *ExecutionFuture) Complete(status Status) {
	f.mu.Lock()
	if f.finished {
		f.mu.Unlock()
		return
	}
	f.finished = true
	f.status = status
	l := f.listener
	close(f.done)
	f.mu.Unlock()

	if l != nil {
		l(f.script, status)
	}
}

// SetListener implements Future.
func (f *ExecutionFuture) SetListener(l Listener) {
	f.mu.Lock()
	if !f.finished {
		f.listener = l
		f.mu.Unlock()
		return
	}
	status := f.status
	f.mu.Unlock()

	if l != nil {
		l(f.script, status)
	}
}

// Wait implements Future.
func (f *ExecutionFuture) Wait(ctx context.Context) (Status, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.status, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Done implements Future.
func (f *ExecutionFuture) Done() <-chan struct{} {
	return f.done
}
