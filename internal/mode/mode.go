// Package mode defines how each request mode is materialized, which toolchain
// steps it runs and how their outcomes become a report.
package mode

import (
	"fmt"
	"sort"

	"github.com/michaelbrown/crucible/internal/execution"
	"github.com/michaelbrown/crucible/internal/project"
	"github.com/michaelbrown/crucible/internal/report"
	"github.com/michaelbrown/crucible/internal/toolchain"
)

// Step is one toolchain call.
type Step struct {
	Name string
	Args []string
	// AfterSuccess skips the step unless the previous step succeeded.
	AfterSuccess bool
}

// Plan is everything the runner needs to execute a request.
type Plan struct {
	Project project.Spec
	Steps   []Step
}

// Strategy is implemented once per mode.
type Strategy interface {
	Mode() execution.Mode
	// Plan lays out the project and the ordered steps for req.
	Plan(req execution.Request) Plan
	// Compose builds the result from the outcomes of the steps that ran, in
	// plan order. It must be a pure function of its arguments.
	Compose(req execution.Request, outcomes []toolchain.Outcome) report.Result
}

// Registry maps modes to strategies. Register everything before handing the
// registry to a runner; lookups are not synchronized with registration.
type Registry struct {
	strategies map[execution.Mode]Strategy
}

// NewRegistry returns a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[execution.Mode]Strategy)}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// DefaultRegistry holds the four platform modes.
func DefaultRegistry() *Registry {
	return NewRegistry(Playground{}, Test{}, RustlingsTest{}, RustlingsCheck{})
}

// Register adds or replaces the strategy for s.Mode().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Mode()] = s
}

// Lookup returns the strategy for m.
func (r *Registry) Lookup(m execution.Mode) (Strategy, error) {
	s, ok := r.strategies[m]
	if !ok {
		return nil, fmt.Errorf("%w: no strategy for mode %q", execution.ErrInvalidRequest, m)
	}
	return s, nil
}

// Modes lists registered modes, sorted.
func (r *Registry) Modes() []execution.Mode {
	modes := make([]execution.Mode, 0, len(r.strategies))
	for m := range r.strategies {
		modes = append(modes, m)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}
