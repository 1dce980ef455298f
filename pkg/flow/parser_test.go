package flow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const loginTest = `
name: Login
description: Log in with valid credentials
tags: [smoke, auth]
setup:
  - id: launch
    action: launch_app
steps:
  - id: s1
    action: click
    target:
      type: accessibility_id
      value: login-button
      fallback:
        type: role_title
        value: Log In
        role: button
        fallback:
          type: text_content
          value: Log
  - id: s2
    action: type_text
    text: alice
    target:
      type: role_label
      value: Username
      role: text_field
      fallback:
        - type: path
          value: window[0]/text_field[0]
        - type: coordinate
          value: "120, 48"
  - id: s3
    action: key_combo
    keys: [s, cmd]
    continue_on_failure: true
  - id: s4
    action: assert
    target:
      type: accessibility_id
      value: greeting
    assertion:
      type: element_text
      operator: contains
      expected: Welcome
    timeout: 2.5
  - id: s5
    action: assert
    assertion:
      type: element_count
      target:
        type: role_title
        value: Row
      expected: 3
      operator: greater_than
teardown:
  - id: close
    action: close_app
`

func TestParse_FullTest(t *testing.T) {
	def, err := Parse([]byte(loginTest), "tests/login.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if def.Name != "Login" {
		t.Errorf("Name = %q, want %q", def.Name, "Login")
	}
	if len(def.Tags) != 2 || !def.HasTag("auth") {
		t.Errorf("Tags = %v, want [smoke auth]", def.Tags)
	}
	if len(def.Setup) != 1 || len(def.Steps) != 5 || len(def.Teardown) != 1 {
		t.Fatalf("phase sizes = %d/%d/%d, want 1/5/1", len(def.Setup), len(def.Steps), len(def.Teardown))
	}

	click := def.Steps[0]
	if click.Action != ActionClick {
		t.Errorf("Action = %q, want click", click.Action)
	}
	chain := click.Target.Chain()
	if len(chain) != 3 {
		t.Fatalf("nested fallback chain length = %d, want 3", len(chain))
	}
	wantKinds := []LocatorKind{LocatorAccessibilityID, LocatorRoleTitle, LocatorTextContent}
	for i, want := range wantKinds {
		if chain[i].Type != want {
			t.Errorf("chain[%d].Type = %q, want %q", i, chain[i].Type, want)
		}
		if len(chain[i].Fallback) != 0 {
			t.Errorf("chain[%d] should not carry its own fallbacks", i)
		}
	}
	if chain[1].Role != "button" {
		t.Errorf("chain[1].Role = %q, want button", chain[1].Role)
	}

	typing := def.Steps[1]
	if got := len(typing.Target.Chain()); got != 3 {
		t.Errorf("list fallback chain length = %d, want 3", got)
	}
	x, y, err := typing.Target.Fallback[1].Point()
	if err != nil || x != 120 || y != 48 {
		t.Errorf("Point() = %d,%d,%v, want 120,48,nil", x, y, err)
	}

	if !def.ContinueOnFailureFor(&def.Steps[2]) {
		t.Error("s3 should continue on failure")
	}
	if def.ContinueOnFailureFor(&def.Steps[0]) {
		t.Error("s1 should stop on failure")
	}

	assertText := def.Steps[3]
	if assertText.Timeout == nil || *assertText.Timeout != 2.5 {
		t.Errorf("Timeout = %v, want 2.5", assertText.Timeout)
	}
	if assertText.Assertion.EffectiveOperator() != OpContains {
		t.Errorf("Operator = %q, want contains", assertText.Assertion.Operator)
	}

	count := def.Steps[4]
	if count.Target != nil {
		t.Error("s5 has no step target")
	}
	if tgt := count.AssertionTarget(); tgt == nil || tgt.Value != "Row" {
		t.Errorf("AssertionTarget() = %v, want Row", tgt)
	}
	if count.Assertion.Expected.Value != "3" || count.Assertion.Expected.Tag != "!!int" {
		t.Errorf("Expected = %+v, want 3 tagged !!int", count.Assertion.Expected)
	}
}

func TestParse_Defaults(t *testing.T) {
	content := `
steps:
  - action: wait
  - action: click
    target: {type: accessibility_id, value: ok}
`
	def, err := Parse([]byte(content), "/tmp/suite/checkout_flow.yml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Name != "checkout_flow" {
		t.Errorf("Name = %q, want file stem", def.Name)
	}
	if def.Steps[0].ID != "steps_1" || def.Steps[1].ID != "steps_2" {
		t.Errorf("IDs = %q,%q, want steps_1,steps_2", def.Steps[0].ID, def.Steps[1].ID)
	}
	if got := def.Steps[0].WaitDuration(); got != DefaultWait {
		t.Errorf("WaitDuration() = %v, want %v", got, DefaultWait)
	}
	if def.Setup != nil || def.Teardown != nil {
		t.Error("absent phases should be nil")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", "empty test file"},
		{"not a mapping", "- a\n- b\n", "must be a mapping"},
		{"unknown top-level key", "name: x\nstep: []\n", `unknown key "step"`},
		{"steps not a list", "steps: {id: a}\n", "steps must be a list"},
		{"unknown step key", "steps:\n  - id: a\n    action: wait\n    color: red\n", `unknown step key "color"`},
		{"missing action", "steps:\n  - id: a\n", "action is required"},
		{"unknown action", "steps:\n  - id: a\n    action: hover\n", `unknown action "hover"`},
		{"missing target", "steps:\n  - id: a\n    action: click\n", "click requires a target"},
		{"unknown locator", "steps:\n  - id: a\n    action: click\n    target: {type: css, value: x}\n", `unknown locator type "css"`},
		{"bad coordinate", "steps:\n  - id: a\n    action: click\n    target: {type: coordinate, value: '10'}\n", "must be \"x,y\""},
		{"bad fallback", "steps:\n  - id: a\n    action: click\n    target:\n      type: path\n      value: w\n      fallback: {type: nope, value: x}\n", "fallback 1"},
		{"missing text", "steps:\n  - id: a\n    action: type_text\n", "type_text requires text"},
		{"missing keys", "steps:\n  - id: a\n    action: key_combo\n", "key_combo requires keys"},
		{"missing title", "steps:\n  - id: a\n    action: wait_for_window\n", "requires title"},
		{"missing expected", "steps:\n  - id: a\n    action: assert\n    target: {type: path, value: w}\n    assertion: {type: element_text}\n", "requires an expected value"},
		{"unknown operator", "steps:\n  - id: a\n    action: assert\n    target: {type: path, value: w}\n    assertion: {type: element_text, expected: x, operator: like}\n", `unknown operator "like"`},
		{"assert without target", "steps:\n  - id: a\n    action: assert\n    assertion: {type: element_exists}\n", "assert requires a target"},
		{"drag without to", "steps:\n  - id: a\n    action: drag_drop\n    target: {type: path, value: w}\n", "requires a to target"},
		{"empty script", "steps:\n  - id: a\n    action: run_script\n    script: '  '\n", "requires script"},
		{"duplicate ids", "setup:\n  - id: a\n    action: wait\nsteps:\n  - id: a\n    action: wait\n", `duplicate step id "a"`},
		{"negative timeout", "steps:\n  - id: a\n    action: wait\n    timeout: -1\n", "timeout must be >= 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), "bad.yaml")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParseError_Line(t *testing.T) {
	content := "name: x\nsteps:\n  - id: a\n    action: wait\n  - id: b\n    action: hover\n"
	_, err := Parse([]byte(content), "lines.yaml")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if pe.Line != 5 {
		t.Errorf("Line = %d, want 5", pe.Line)
	}
	if !strings.HasPrefix(pe.Error(), "lines.yaml:5:") {
		t.Errorf("Error() = %q, want lines.yaml:5: prefix", pe.Error())
	}
}

func TestRoundTrip(t *testing.T) {
	def, err := Parse([]byte(loginTest), "login.yaml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	data, err := Marshal(def)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	again, err := Parse(data, "copy.yaml")
	if err != nil {
		t.Fatalf("re-parse: %v\n%s", err, data)
	}

	if diff := cmp.Diff(def, again, cmpopts.IgnoreFields(TestDefinition{}, "SourcePath")); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshal_NestedFallbackAndScalars(t *testing.T) {
	idx := 1
	def := &TestDefinition{
		Name: "m",
		Steps: []StepDefinition{{
			ID:     "a",
			Action: ActionAssert,
			Target: &Target{
				Type:     LocatorAccessibilityID,
				Value:    "save",
				Index:    &idx,
				Fallback: []Target{{Type: LocatorTextContent, Value: "Save"}},
			},
			Assertion: &Assertion{Type: AssertElementEnabled, Expected: Scalar{Value: "true", Tag: "!!bool"}},
		}},
	}

	data, err := Marshal(def)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(data)
	for _, want := range []string{"fallback:\n", "type: text_content", "expected: true", "index: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "fallback:\n        - ") {
		t.Errorf("fallback should be written as a nested mapping:\n%s", out)
	}
}

func TestWriteFileAndParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "t.yaml")
	def := &TestDefinition{
		Name:  "written",
		Steps: []StepDefinition{{ID: "w", Action: ActionWait, Duration: secondsPtr(0.5)}},
	}

	if err := WriteFile(path, def); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if got.SourcePath != path {
		t.Errorf("SourcePath = %q, want %q", got.SourcePath, path)
	}
	if got.Steps[0].WaitDuration() != 0.5 {
		t.Errorf("WaitDuration() = %v, want 0.5", got.Steps[0].WaitDuration())
	}

	if _, err := ParseFile(filepath.Join(dir, "missing.yaml")); err == nil || !os.IsNotExist(errors.Unwrap(err)) {
		t.Errorf("ParseFile(missing) error = %v, want not-exist", err)
	}
}

func secondsPtr(s Seconds) *Seconds {
	return &s
}
