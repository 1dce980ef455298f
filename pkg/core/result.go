package core

import (
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/flow"
)

// StepResult captures the complete outcome of executing a single step
type StepResult struct {
	// Identity
	StepID      string          `json:"stepId"`
	Phase       flow.Phase      `json:"phase"`
	Action      flow.ActionKind `json:"action"`
	Description string          `json:"description,omitempty"`

	// Status
	Status    StepStatus    `json:"status"`
	Category  ErrorCategory `json:"errorCategory,omitempty"`
	ErrorCode string        `json:"errorCode,omitempty"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Output
	Error      string `json:"error,omitempty"`      // Error detail
	Actual     string `json:"actual,omitempty"`     // Observed value for assertions
	Screenshot string `json:"screenshot,omitempty"` // Reference returned by the screenshot hook

	// Resolution tracking
	Attempts  int  `json:"attempts,omitempty"`  // Resolution attempts, including the post-recovery retry
	Recovered bool `json:"recovered,omitempty"` // App was recovered during this step
}

// TestResult captures the complete outcome of executing a test
type TestResult struct {
	// Identity
	Name     string   `json:"name"`
	FilePath string   `json:"filePath,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Worker   int      `json:"worker"`

	// Status (derived by the phase state machine)
	Status StepStatus `json:"status"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Results, in execution order across setup, steps and teardown
	Steps []StepResult `json:"steps"`

	// Phase transitions taken, e.g. idle, setup, steps, teardown, done
	Phases []string `json:"phases"`

	// Summary (computed)
	TotalSteps   int `json:"totalSteps"`
	PassedSteps  int `json:"passedSteps"`
	FailedSteps  int `json:"failedSteps"`
	ErroredSteps int `json:"erroredSteps"`
	SkippedSteps int `json:"skippedSteps"`

	// Error info (if the test did not pass)
	Error string `json:"error,omitempty"`
}

// Append adds a step result. Results are append-only.
func (t *TestResult) Append(r StepResult) {
	t.Steps = append(t.Steps, r)
}

// StepsIn returns the results recorded for one phase.
func (t *TestResult) StepsIn(phase flow.Phase) []StepResult {
	var out []StepResult
	for _, s := range t.Steps {
		if s.Phase == phase {
			out = append(out, s)
		}
	}
	return out
}

// Step returns the result for a step id.
func (t *TestResult) Step(id string) (StepResult, bool) {
	for _, s := range t.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return StepResult{}, false
}

// ComputeSummary calculates step counts from the Steps slice
func (t *TestResult) ComputeSummary() {
	t.TotalSteps = len(t.Steps)
	t.PassedSteps = 0
	t.FailedSteps = 0
	t.ErroredSteps = 0
	t.SkippedSteps = 0

	for _, step := range t.Steps {
		switch step.Status {
		case StatusPassed:
			t.PassedSteps++
		case StatusFailed:
			t.FailedSteps++
		case StatusErrored:
			t.ErroredSteps++
		case StatusSkipped:
			t.SkippedSteps++
		}
	}
}

// RunResult captures the complete outcome of executing multiple tests
type RunResult struct {
	RunID string `json:"runId"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Results, in input order regardless of which worker ran them
	Tests []TestResult `json:"tests"`

	// Summary
	TotalTests   int  `json:"totalTests"`
	PassedTests  int  `json:"passedTests"`
	FailedTests  int  `json:"failedTests"`
	ErroredTests int  `json:"erroredTests"`
	SkippedTests int  `json:"skippedTests"`
	Cancelled    bool `json:"cancelled,omitempty"`
}

// ComputeSummary calculates test counts from the Tests slice
func (r *RunResult) ComputeSummary() {
	r.TotalTests = len(r.Tests)
	r.PassedTests = 0
	r.FailedTests = 0
	r.ErroredTests = 0
	r.SkippedTests = 0

	for _, test := range r.Tests {
		switch test.Status {
		case StatusPassed:
			r.PassedTests++
		case StatusFailed:
			r.FailedTests++
		case StatusErrored:
			r.ErroredTests++
		case StatusSkipped:
			r.SkippedTests++
		}
	}
}

// Success returns the run's exit status: true only if the run was not
// cancelled and no test failed or errored.
func (r *RunResult) Success() bool {
	if r.Cancelled {
		return false
	}
	for _, test := range r.Tests {
		if test.Status.IsFailure() {
			return false
		}
	}
	return true
}

// ExitCode maps Success to a process exit code.
func (r *RunResult) ExitCode() int {
	if r.Success() {
		return 0
	}
	return 1
}
