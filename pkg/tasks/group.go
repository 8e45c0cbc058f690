// Package tasks tracks detached background work.
//
// A detached task outlives the request that started it: its context is not
// cancelled when the request ends, and its error is never returned to the
// caller. Errors are delivered on a channel drained by a single loop that logs
// them. Wait blocks until every started task has finished and its error, if
// any, has been handled.
package tasks

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// TaskError is an error produced by a named detached task.
type TaskError struct {
	Name string
	Err  error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return e.Name + ": " + e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// Group runs detached tasks and drains their errors.
type Group struct {
	logger  zerolog.Logger
	onError func(*TaskError)

	mu      sync.Mutex
	closed  bool
	tasks   sync.WaitGroup
	handled sync.WaitGroup
	errs    chan *TaskError
	done    chan struct{}
}

// Option configures a Group.
type Option func(*Group)

// WithErrorHandler registers fn to be called, from the error loop, for every task error.
func WithErrorHandler(fn func(*TaskError)) Option {
	return func(g *Group) {
		g.onError = fn
	}
}

// NewGroup creates a group and starts its error loop.
func NewGroup(logger zerolog.Logger, opts ...Option) *Group {
	g := &Group{
		logger: logger,
		errs:   make(chan *TaskError, 16),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	go g.loop()
	return g
}

// Go starts fn as a detached task. The task's context carries the values of
// ctx but is not cancelled with it. Go reports false when the group is closed.
func (g *Group) Go(ctx context.Context, name string, fn func(context.Context) error) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.logger.Warn().Str("task", name).Msg("Task group closed, dropping task")
		return false
	}
	g.tasks.Add(1)
	g.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer g.tasks.Done()
		if err := fn(detached); err != nil {
			g.handled.Add(1)
			g.errs <- &TaskError{Name: name, Err: err}
		}
	}()
	return true
}

// Wait blocks until all started tasks have finished and their errors were handled.
func (g *Group) Wait() {
	g.tasks.Wait()
	g.handled.Wait()
}

// Close waits for running tasks, then stops the error loop.
// Tasks started after Close are dropped.
func (g *Group) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	g.Wait()
	close(g.errs)
	<-g.done
}

func (g *Group) loop() {
	defer close(g.done)
	for err := range g.errs {
		g.logger.Warn().
			Err(err.Err).
			Str("task", err.Name).
			Msg("Detached task failed")
		if g.onError != nil {
			g.onError(err)
		}
		g.handled.Done()
	}
}
