package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"time"
)

const defaultWaitDelay = 2 * time.Second

// ProcessInvoker runs the toolchain as a direct child process.
type ProcessInvoker struct {
	binary    string
	env       []string
	waitDelay time.Duration
	logger    *slog.Logger
}

// NewProcessInvoker returns an invoker for binary (e.g. "cargo"). env is
// appended to the inherited environment of every call.
func NewProcessInvoker(binary string, env map[string]string, logger *slog.Logger) *ProcessInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessInvoker{
		binary:    binary,
		env:       envList(env),
		waitDelay: defaultWaitDelay,
		logger:    logger,
	}
}

// Invoke runs binary with inv.Args in inv.Dir and blocks until the child
// exits, the timeout expires or ctx is cancelled. Expiry and cancellation
// kill the child's whole process group.
func (p *ProcessInvoker) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("toolchain not started: %w", err)
	}

	runCtx, cancel := withTimeout(ctx, inv.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.binary, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = append(append(os.Environ(), p.env...), inv.Env...)
	cmd.WaitDelay = p.waitDelay
	killProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.logger.Debug("invoking toolchain",
		slog.String("binary", p.binary),
		slog.Any("args", inv.Args),
		slog.String("dir", inv.Dir),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Outcome{}, &InvocationError{Binary: p.binary, Args: inv.Args, Err: err}
	}
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if expired(ctx, runCtx) {
		p.logger.Info("toolchain timed out",
			slog.Any("args", inv.Args),
			slog.Duration("timeout", inv.Timeout),
		)
		return timedOutOutcome(stdout.Bytes(), stderr.Bytes(), inv.Timeout, elapsed), nil
	}
	if ctx.Err() != nil {
		return Outcome{}, fmt.Errorf("toolchain %v interrupted: %w", inv.Args, ctx.Err())
	}

	outcome := Outcome{
		Stdout:   decode(stdout.Bytes()),
		Stderr:   decode(stderr.Bytes()),
		Duration: elapsed,
	}

	switch {
	case waitErr == nil:
		outcome.Success = true
	case errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		// The child exited but a descendant kept the pipes open.
		outcome.ExitCode = cmd.ProcessState.ExitCode()
		outcome.Success = cmd.ProcessState.Success()
	default:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return Outcome{}, &InvocationError{Binary: p.binary, Args: inv.Args, Err: waitErr}
		}
		outcome.ExitCode = exitCode(exitErr)
	}
	return outcome, nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}

var _ Invoker = (*ProcessInvoker)(nil)
