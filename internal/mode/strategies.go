package mode

import (
	"github.com/michaelbrown/crucible/internal/execution"
	"github.com/michaelbrown/crucible/internal/project"
	"github.com/michaelbrown/crucible/internal/report"
	"github.com/michaelbrown/crucible/internal/toolchain"
)

var (
	stepRun   = Step{Name: "run", Args: []string{"run", "--quiet"}}
	stepTest  = Step{Name: "test", Args: []string{"test", "--", "--nocapture"}}
	stepCheck = Step{Name: "check", Args: []string{"check"}}
)

// Playground compiles and runs a binary once.
type Playground struct{}

func (Playground) Mode() execution.Mode { return execution.ModePlayground }

func (Playground) Plan(req execution.Request) Plan {
	return Plan{
		Project: project.Spec{
			Package:  "playground",
			MainFile: project.MainFile,
			Code:     req.Code,
			Manifest: req.Manifest,
		},
		Steps: []Step{stepRun},
	}
}

func (Playground) Compose(_ execution.Request, outcomes []toolchain.Outcome) report.Result {
	return single(outcomes)
}

// Test runs a challenge library against its integration tests.
type Test struct{}

func (Test) Mode() execution.Mode { return execution.ModeTest }

func (Test) Plan(req execution.Request) Plan {
	return Plan{
		Project: project.Spec{
			Package:  "challenge",
			MainFile: project.LibFile,
			Code:     req.Code,
			Tests:    req.Tests,
			Manifest: req.Manifest,
		},
		Steps: []Step{stepTest},
	}
}

func (Test) Compose(req execution.Request, outcomes []toolchain.Outcome) report.Result {
	r := single(outcomes)
	if len(outcomes) == 0 {
		return r
	}
	return report.WithTestCount(r, req.ExpectedTests, outcomes[0].Stdout)
}

// RustlingsTest runs the tests embedded in a rustlings exercise.
type RustlingsTest struct{}

func (RustlingsTest) Mode() execution.Mode { return execution.ModeRustlingsTest }

func (RustlingsTest) Plan(req execution.Request) Plan {
	return Plan{Project: rustlingsProject(req), Steps: []Step{stepTest}}
}

func (RustlingsTest) Compose(_ execution.Request, outcomes []toolchain.Outcome) report.Result {
	return single(outcomes)
}

// RustlingsCheck compiles a rustlings exercise and, only if it compiles,
// runs it to show its output.
type RustlingsCheck struct{}

func (RustlingsCheck) Mode() execution.Mode { return execution.ModeRustlingsCheck }

func (RustlingsCheck) Plan(req execution.Request) Plan {
	run := stepRun
	run.AfterSuccess = true
	return Plan{Project: rustlingsProject(req), Steps: []Step{stepCheck, run}}
}

func (RustlingsCheck) Compose(_ execution.Request, outcomes []toolchain.Outcome) report.Result {
	switch len(outcomes) {
	case 0:
		return report.Result{}
	case 1:
		return report.CheckThenRun(outcomes[0], nil)
	default:
		return report.CheckThenRun(outcomes[0], &outcomes[1])
	}
}

func rustlingsProject(req execution.Request) project.Spec {
	return project.Spec{
		Package:  "rustlings_exercise",
		MainFile: project.MainFile,
		Code:     req.Code,
		Manifest: req.Manifest,
	}
}

func single(outcomes []toolchain.Outcome) report.Result {
	if len(outcomes) == 0 {
		return report.Result{}
	}
	return report.FromOutcome(outcomes[0])
}
