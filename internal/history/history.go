// Package history persists a log of executed runs.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/michaelbrown/crucible/internal/execution"
)

var (
	// ErrNotFound is returned when no run matches an ID or prefix.
	ErrNotFound = errors.New("run not found")
	// ErrAmbiguous is returned when a prefix matches more than one run.
	ErrAmbiguous = errors.New("ambiguous run prefix")
)

// Run is the stored summary of one request.
type Run struct {
	ID         string         `json:"id" yaml:"id"`
	Mode       execution.Mode `json:"mode" yaml:"mode"`
	Success    bool           `json:"success" yaml:"success"`
	TimedOut   bool           `json:"timed_out" yaml:"timed_out"`
	Output     string         `json:"output" yaml:"output"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMs int64          `json:"duration_ms" yaml:"duration_ms"`
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at"`
}

// Status is a short label for listings.
func (r Run) Status() string {
	switch {
	case r.Error != "":
		return "error"
	case r.TimedOut:
		return "timeout"
	case r.Success:
		return "ok"
	default:
		return "failed"
	}
}

// ListOptions controls filtering and pagination for List.
type ListOptions struct {
	Mode    execution.Mode
	Success *bool
	Limit   int
	Offset  int
}

// Store is the persistence interface for runs.
type Store interface {
	// Record inserts a run. The ID field must be set by the caller.
	Record(ctx context.Context, run *Run) error

	// Get returns a run by ID or unique ID prefix.
	Get(ctx context.Context, id string) (*Run, error)

	// List returns runs ordered by created_at descending.
	List(ctx context.Context, opts ListOptions) ([]Run, error)

	// Delete removes a run.
	Delete(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
