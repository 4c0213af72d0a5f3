// Package toolchain runs one toolchain subcommand against a project directory
// and reports what the child process did.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExitCodeTimeout is reported when a child is killed for exceeding its
// deadline, matching the coreutils timeout(1) convention.
const ExitCodeTimeout = 124

// Invocation describes a single toolchain call. Args excludes the binary.
type Invocation struct {
	Dir     string
	Args    []string
	Timeout time.Duration // zero means no per-call limit
	Env     []string      // extra KEY=VALUE pairs
}

// Outcome is what one invocation produced. A non-zero exit is a normal
// outcome, not an error.
type Outcome struct {
	Success  bool          `json:"success"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// Invoker executes toolchain subcommands.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (Outcome, error)
}

// InvocationError means the toolchain could not be run at all (missing
// binary, unreachable container daemon, ...). It aborts the whole request.
type InvocationError struct {
	Binary string
	Args   []string
	Err    error
}

func (e *InvocationError) Error() string {
	cmd := strings.TrimSpace(e.Binary + " " + strings.Join(e.Args, " "))
	return fmt.Sprintf("invoking %s: %v", cmd, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// IsInvocationError reports whether err wraps an *InvocationError.
func IsInvocationError(err error) bool {
	var ie *InvocationError
	return errors.As(err, &ie)
}

// TimeoutNotice is appended to stderr of timed out invocations.
func TimeoutNotice(d time.Duration) string {
	return fmt.Sprintf("Execution timed out after %s.\n", d)
}

func annotateTimeout(stderr string, d time.Duration) string {
	if stderr != "" && !strings.HasSuffix(stderr, "\n") {
		stderr += "\n"
	}
	return stderr + TimeoutNotice(d)
}

// decode turns captured bytes into text, replacing invalid UTF-8 so that
// diagnostics are always shown.
func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

func timedOutOutcome(stdout, stderr []byte, limit, elapsed time.Duration) Outcome {
	return Outcome{
		ExitCode: ExitCodeTimeout,
		Stdout:   decode(stdout),
		Stderr:   annotateTimeout(decode(stderr), limit),
		TimedOut: true,
		Duration: elapsed,
	}
}

// withTimeout derives the per-call context; d <= 0 means no deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// expired reports whether runCtx hit its own deadline while the caller's
// context is still live.
func expired(parent, runCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
}
