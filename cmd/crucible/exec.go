package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/crucible/internal/app"
	"github.com/michaelbrown/crucible/internal/execution"
	"github.com/michaelbrown/crucible/internal/report"
	"github.com/michaelbrown/crucible/internal/request"
	"github.com/michaelbrown/crucible/internal/runner"
)

// Process exit statuses of the run commands.
const (
	exitOK          = 0
	exitFailed      = 1 // submission did not compile, failed or timed out
	exitEnvironment = 2 // request invalid or could not be executed
)

// executor is the part of *runner.Runner the commands use.
type executor interface {
	Run(ctx context.Context, req execution.Request) (report.Result, error)
}

type execFlags struct {
	code      string
	tests     string
	cargoToml string
	nTests    int
}

func newExecCmd(m execution.Mode, short, long string) *cobra.Command {
	var f execFlags
	cmd := &cobra.Command{
		Use:   m.String(),
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := request.Decode(request.Encoded{
				Mode:          m.String(),
				Code:          f.code,
				Tests:         f.tests,
				CargoToml:     f.cargoToml,
				ExpectedTests: f.nTests,
			})
			if err != nil {
				return err
			}

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			code, err := execute(ctx, a.Runner, req, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if code != exitOK {
				return &exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&f.code, "code", "", "Base64-encoded source code (required)")
	cmd.MarkFlagRequired("code")
	if m == execution.ModeTest {
		cmd.Flags().StringVar(&f.tests, "tests", "", "Base64-encoded integration tests (required)")
		cmd.Flags().StringVar(&f.cargoToml, "cargo-toml", "", "Base64-encoded Cargo.toml replacing the default manifest")
		cmd.Flags().IntVar(&f.nTests, "n-tests", 0, "Number of tests the exercise expects to run")
		cmd.MarkFlagRequired("tests")
	}
	return cmd
}

// execute runs req and writes the report to out. It returns the exit status
// for a completed run, or an error when the request could not be executed.
func execute(ctx context.Context, r executor, req execution.Request, out io.Writer) (int, error) {
	res, err := r.Run(ctx, req)
	if err != nil {
		if runner.IsEnvironment(err) {
			return exitEnvironment, fmt.Errorf("environment error: %w", err)
		}
		return exitEnvironment, err
	}
	if _, err := io.WriteString(out, res.Output); err != nil {
		return exitEnvironment, err
	}
	if !res.Success {
		return exitFailed, nil
	}
	return exitOK, nil
}

func init() {
	rootCmd.AddCommand(
		newExecCmd(execution.ModeTest,
			"Run exercise tests against a library solution",
			`Compile the code as a library crate and run the supplied integration tests
with output capture disabled.

Examples:
  crucible test --code "$(base64 -w0 lib.rs)" --tests "$(base64 -w0 tests.rs)" --n-tests 3`),
		newExecCmd(execution.ModePlayground,
			"Build and run a program",
			`Build and run a single main.rs.

Examples:
  crucible playground --code "$(base64 -w0 main.rs)"`),
		newExecCmd(execution.ModeRustlingsTest,
			"Run a rustlings exercise's embedded tests",
			`Run the unit tests embedded in a rustlings exercise.

Examples:
  crucible rustlings-test --code "$(base64 -w0 exercise.rs)"`),
		newExecCmd(execution.ModeRustlingsCheck,
			"Compile a rustlings exercise, then run it",
			`Type-check a rustlings exercise and, only if that succeeds, run it.

Examples:
  crucible rustlings-check --code "$(base64 -w0 exercise.rs)"`),
	)
}
