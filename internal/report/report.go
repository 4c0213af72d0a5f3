// Package report turns toolchain outcomes into the text shown to learners.
//
// Output ordering is a platform rule: a step's stderr (compiler progress and
// diagnostics) is always printed before its stdout (program or test output).
package report

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/michaelbrown/crucible/internal/toolchain"
)

// CompileSucceeded separates the check step from the run step in a
// successful check-then-run report.
const CompileSucceeded = "Compiling succeeded!\n\nOutput:\n"

// Result is the final value returned for one request.
type Result struct {
	Output   string `json:"output"`
	Success  bool   `json:"success"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Merge renders one outcome as stderr followed by stdout.
func Merge(o toolchain.Outcome) string {
	return o.Stderr + o.Stdout
}

// FromOutcome is the composition used by single-step modes.
func FromOutcome(o toolchain.Outcome) Result {
	return Result{Output: Merge(o), Success: o.Success, TimedOut: o.TimedOut}
}

// CheckThenRun composes a compile-only step with an optional run step. run is
// nil when the run step was not attempted.
func CheckThenRun(check toolchain.Outcome, run *toolchain.Outcome) Result {
	if !check.Success || run == nil {
		return FromOutcome(check)
	}
	if !run.Success {
		return Result{
			Output:   Merge(check) + Merge(*run),
			TimedOut: run.TimedOut,
		}
	}
	return Result{
		Output:  Merge(check) + CompileSucceeded + Merge(*run),
		Success: true,
	}
}

var runningTests = regexp.MustCompile(`(?m)^running (\d+) tests?$`)

// CountTests sums the "running N tests" headers cargo prints for every test
// binary (unit, integration and doc tests).
func CountTests(stdout string) int {
	total := 0
	for _, m := range runningTests.FindAllStringSubmatch(stdout, -1) {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			total += n
		}
	}
	return total
}

// WithTestCount appends a note when the number of tests the toolchain ran
// differs from expected. The note never changes Success. expected <= 0
// disables the check.
func WithTestCount(r Result, expected int, stdout string) Result {
	if expected <= 0 || r.TimedOut {
		return r
	}
	if ran := CountTests(stdout); ran != expected {
		r.Output += fmt.Sprintf("\nnote: expected %d tests, but %d ran\n", expected, ran)
	}
	return r
}
