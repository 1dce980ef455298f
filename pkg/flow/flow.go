// Package flow handles parsing, validation and serialization of desktop test definition files.
package flow

import (
	"strconv"
	"time"
)

// TestDefinition represents a parsed test file.
type TestDefinition struct {
	SourcePath        string           `yaml:"-"`
	Name              string           `yaml:"name"`
	Description       string           `yaml:"description,omitempty"`
	Tags              []string         `yaml:"tags,omitempty"`
	ContinueOnFailure *bool            `yaml:"continue_on_failure,omitempty"` // Test-level default for step failures
	Setup             []StepDefinition `yaml:"setup,omitempty"`
	Steps             []StepDefinition `yaml:"steps"`
	Teardown          []StepDefinition `yaml:"teardown,omitempty"`
}

// Phase names one of the three ordered step lists of a test.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseSteps    Phase = "steps"
	PhaseTeardown Phase = "teardown"
)

// Phases lists the phases in execution order.
var Phases = []Phase{PhaseSetup, PhaseSteps, PhaseTeardown}

// StepsIn returns the step list for the given phase.
func (t *TestDefinition) StepsIn(p Phase) []StepDefinition {
	switch p {
	case PhaseSetup:
		return t.Setup
	case PhaseSteps:
		return t.Steps
	case PhaseTeardown:
		return t.Teardown
	default:
		return nil
	}
}

// StepCount returns the number of steps across all phases.
func (t *TestDefinition) StepCount() int {
	return len(t.Setup) + len(t.Steps) + len(t.Teardown)
}

// HasTag reports whether the test carries the given tag.
func (t *TestDefinition) HasTag(tag string) bool {
	for _, tt := range t.Tags {
		if tt == tag {
			return true
		}
	}
	return false
}

// ContinueOnFailureFor resolves the effective continue_on_failure flag for a step.
// A step-level value overrides the test-level default; absent both, failures stop the phase.
func (t *TestDefinition) ContinueOnFailureFor(step *StepDefinition) bool {
	if step.ContinueOnFailure != nil {
		return *step.ContinueOnFailure
	}
	if t.ContinueOnFailure != nil {
		return *t.ContinueOnFailure
	}
	return false
}

// Seconds is a duration expressed in (possibly fractional) seconds, as written in test files.
type Seconds float64

// Duration converts to time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

func (s Seconds) String() string {
	return strconv.FormatFloat(float64(s), 'f', -1, 64) + "s"
}

// SecondsOf converts a time.Duration to Seconds.
func SecondsOf(d time.Duration) Seconds {
	return Seconds(d.Seconds())
}

// Bool returns a pointer to b, for optional flags.
func Bool(b bool) *bool {
	return &b
}
