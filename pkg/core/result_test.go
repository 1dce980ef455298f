package core

import (
	"testing"

	"github.com/devicelab-dev/desktop-runner/pkg/flow"
)

func TestTestResult_ComputeSummary(t *testing.T) {
	r := &TestResult{}
	r.Append(StepResult{StepID: "a", Phase: flow.PhaseSetup, Status: StatusPassed})
	r.Append(StepResult{StepID: "b", Phase: flow.PhaseSteps, Status: StatusFailed})
	r.Append(StepResult{StepID: "c", Phase: flow.PhaseSteps, Status: StatusSkipped})
	r.Append(StepResult{StepID: "d", Phase: flow.PhaseTeardown, Status: StatusErrored})
	r.ComputeSummary()

	if r.TotalSteps != 4 || r.PassedSteps != 1 || r.FailedSteps != 1 || r.SkippedSteps != 1 || r.ErroredSteps != 1 {
		t.Errorf("summary = %d/%d/%d/%d/%d, want 4/1/1/1/1",
			r.TotalSteps, r.PassedSteps, r.FailedSteps, r.SkippedSteps, r.ErroredSteps)
	}
	if got := len(r.StepsIn(flow.PhaseSteps)); got != 2 {
		t.Errorf("StepsIn(steps) = %d results, want 2", got)
	}
	if s, ok := r.Step("d"); !ok || s.Phase != flow.PhaseTeardown {
		t.Errorf("Step(d) = %+v,%v, want teardown result", s, ok)
	}
	if _, ok := r.Step("zz"); ok {
		t.Error("Step(zz) should not be found")
	}
}

func TestRunResult_Success(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []StepStatus
		cancelled bool
		want      bool
	}{
		{"empty", nil, false, true},
		{"all passed", []StepStatus{StatusPassed, StatusPassed}, false, true},
		{"one failed", []StepStatus{StatusPassed, StatusFailed}, false, false},
		{"one error", []StepStatus{StatusErrored, StatusPassed}, false, false},
		{"skipped only", []StepStatus{StatusSkipped}, false, true},
		{"cancelled", []StepStatus{StatusPassed}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &RunResult{Cancelled: tt.cancelled}
			for _, s := range tt.statuses {
				r.Tests = append(r.Tests, TestResult{Status: s})
			}
			if got := r.Success(); got != tt.want {
				t.Errorf("Success() = %v, want %v", got, tt.want)
			}
			wantCode := 1
			if tt.want {
				wantCode = 0
			}
			if got := r.ExitCode(); got != wantCode {
				t.Errorf("ExitCode() = %d, want %d", got, wantCode)
			}
		})
	}
}

func TestRunResult_ComputeSummary(t *testing.T) {
	r := &RunResult{Tests: []TestResult{
		{Status: StatusPassed}, {Status: StatusFailed}, {Status: StatusErrored}, {Status: StatusSkipped}, {Status: StatusPassed},
	}}
	r.ComputeSummary()
	if r.TotalTests != 5 || r.PassedTests != 2 || r.FailedTests != 1 || r.ErroredTests != 1 || r.SkippedTests != 1 {
		t.Errorf("summary = %+v", r)
	}
}
