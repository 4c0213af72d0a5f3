package server

import (
	"context"
	"errors"
	"sync"
)

// errShuttingDown is returned by Begin once CloseAll has been called.
var errShuttingDown = errors.New("server is shutting down")

// ActiveRuns tracks in-flight runs so shutdown can cancel them.
type ActiveRuns struct {
	mu     sync.Mutex
	runs   map[string]context.CancelFunc
	closed bool
}

// NewActiveRuns creates an empty tracker.
func NewActiveRuns() *ActiveRuns {
	return &ActiveRuns{runs: make(map[string]context.CancelFunc)}
}

// Begin registers a run under id and returns its context. The returned done
// func must be called when the run ends.
func (a *ActiveRuns) Begin(parent context.Context, id string) (context.Context, func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, nil, errShuttingDown
	}

	ctx, cancel := context.WithCancel(parent)
	a.runs[id] = cancel
	done := func() {
		cancel()
		a.mu.Lock()
		delete(a.runs, id)
		a.mu.Unlock()
	}
	return ctx, done, nil
}

// Cancel cancels one run. It reports whether id was active.
func (a *ActiveRuns) Cancel(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	cancel, ok := a.runs[id]
	if ok {
		cancel()
	}
	return ok
}

// Len returns the number of in-flight runs.
func (a *ActiveRuns) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.runs)
}

// CloseAll cancels every run and rejects new ones.
func (a *ActiveRuns) CloseAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for id, cancel := range a.runs {
		cancel()
		delete(a.runs, id)
	}
}
