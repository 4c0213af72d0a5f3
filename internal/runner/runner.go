// Package runner owns the lifecycle of one execution request: materialize the
// project, drive the mode's toolchain steps, compose the report and remove the
// project again on every exit path.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/michaelbrown/crucible/internal/execution"
	"github.com/michaelbrown/crucible/internal/history"
	"github.com/michaelbrown/crucible/internal/mode"
	"github.com/michaelbrown/crucible/internal/project"
	"github.com/michaelbrown/crucible/internal/report"
	"github.com/michaelbrown/crucible/internal/toolchain"
)

// DefaultTimeout bounds a single toolchain step.
const DefaultTimeout = 30 * time.Second

// Materializer creates project layouts.
type Materializer interface {
	Materialize(spec project.Spec) (*project.Layout, error)
}

// Recorder receives a summary of every finished run.
type Recorder interface {
	Record(ctx context.Context, run *history.Run) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the per-step timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithRecorder enables run history.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

type runIDKey struct{}

// WithRunID attaches the identifier Run reports and records the run under.
// Callers that hand the ID to a client before the run finishes use it so the
// client can look the run up in history.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// Runner executes requests. It holds no per-request state and is safe for
// concurrent use.
type Runner struct {
	materializer Materializer
	invoker      toolchain.Invoker
	modes        *mode.Registry
	timeout      time.Duration
	logger       *slog.Logger
	recorder     Recorder
}

// New creates a Runner. A nil registry means mode.DefaultRegistry().
func New(m Materializer, inv toolchain.Invoker, modes *mode.Registry, opts ...Option) *Runner {
	if modes == nil {
		modes = mode.DefaultRegistry()
	}
	r := &Runner{
		materializer: m,
		invoker:      inv,
		modes:        modes,
		timeout:      DefaultTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes req. A failing, panicking or timed out submission yields a
// Result with Success false and a nil error; a non-nil error means the
// request could not be executed at all (see IsEnvironment) or was cancelled.
func (r *Runner) Run(ctx context.Context, req execution.Request) (report.Result, error) {
	if err := req.Validate(); err != nil {
		return report.Result{}, err
	}
	strategy, err := r.modes.Lookup(req.Mode)
	if err != nil {
		return report.Result{}, err
	}

	id := runID(ctx)
	logger := r.logger.With(slog.String("run_id", id), slog.String("mode", req.Mode.String()))
	logger.Info("run started")

	start := time.Now()
	res, err := r.execute(ctx, logger, strategy, req)
	elapsed := time.Since(start)

	if err != nil {
		logger.Error("run failed",
			slog.String("error", err.Error()),
			slog.Bool("environment", IsEnvironment(err)),
			slog.Duration("duration", elapsed),
		)
	} else {
		logger.Info("run finished",
			slog.Bool("success", res.Success),
			slog.Bool("timed_out", res.TimedOut),
			slog.Duration("duration", elapsed),
		)
	}

	r.record(ctx, logger, id, req.Mode, res, err, start, elapsed)
	return res, err
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, strategy mode.Strategy, req execution.Request) (res report.Result, err error) {
	plan := strategy.Plan(req)

	layout, err := r.materializer.Materialize(plan.Project)
	if err != nil {
		return report.Result{}, err
	}
	logger.Debug("project materialized", slog.String("root", layout.Root))

	defer func() {
		if v := recover(); v != nil {
			res, err = report.Result{}, &InternalError{Value: v, Stack: debug.Stack()}
		}
		if rmErr := layout.Remove(); rmErr != nil {
			logger.Error("failed to remove project", slog.String("root", layout.Root), slog.String("error", rmErr.Error()))
		}
	}()

	outcomes := make([]toolchain.Outcome, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		if step.AfterSuccess && len(outcomes) > 0 && !outcomes[len(outcomes)-1].Success {
			logger.Debug("step skipped", slog.String("step", step.Name))
			break
		}
		out, err := r.invoker.Invoke(ctx, toolchain.Invocation{
			Dir:     layout.Root,
			Args:    step.Args,
			Timeout: r.timeout,
		})
		if err != nil {
			return report.Result{}, fmt.Errorf("step %s: %w", step.Name, err)
		}
		logger.Debug("step finished",
			slog.String("step", step.Name),
			slog.Int("exit_code", out.ExitCode),
			slog.Duration("duration", out.Duration),
		)
		outcomes = append(outcomes, out)
	}

	return strategy.Compose(req, outcomes), nil
}

func (r *Runner) record(ctx context.Context, logger *slog.Logger, id string, m execution.Mode, res report.Result, runErr error, start time.Time, elapsed time.Duration) {
	if r.recorder == nil {
		return
	}
	run := &history.Run{
		ID:         id,
		Mode:       m,
		Success:    res.Success,
		TimedOut:   res.TimedOut,
		Output:     res.Output,
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  start.UTC(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.recorder.Record(recCtx, run); err != nil {
		logger.Warn("failed to record run", slog.String("error", err.Error()))
	}
}
