package core

import (
	"encoding/json"
	"testing"
)

func TestStepStatus_String(t *testing.T) {
	tests := []struct {
		status   StepStatus
		expected string
	}{
		{StepStatus(0), "unknown"},
		{StatusPassed, "passed"},
		{StatusFailed, "failed"},
		{StatusErrored, "error"},
		{StatusSkipped, "skipped"},
		{StepStatus(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("StepStatus(%d).String() = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestStepStatus_IsFailure(t *testing.T) {
	if !StatusFailed.IsFailure() || !StatusErrored.IsFailure() {
		t.Error("failed and error should be failures")
	}
	if StatusPassed.IsFailure() || StatusSkipped.IsFailure() {
		t.Error("passed and skipped should not be failures")
	}
}

func TestStepStatus_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Status StepStatus `json:"status"`
	}{StatusErrored})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"status":"error"}` {
		t.Errorf("Marshal = %s, want {\"status\":\"error\"}", data)
	}

	var out struct {
		Status StepStatus `json:"status"`
	}
	if err := json.Unmarshal([]byte(`{"status":"skipped"}`), &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Status != StatusSkipped {
		t.Errorf("Unmarshal status = %v, want skipped", out.Status)
	}

	if err := json.Unmarshal([]byte(`{"status":"warned"}`), &out); err == nil {
		t.Error("Unmarshal of unknown status should fail")
	}
}

func TestErrorCategory_String(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected string
	}{
		{ErrCategoryNone, "none"},
		{ErrCategoryLocator, "locator"},
		{ErrCategoryTimeout, "timeout"},
		{ErrCategoryAction, "action"},
		{ErrCategoryAssertion, "assertion"},
		{ErrCategoryApp, "app"},
		{ErrCategoryCancelled, "cancelled"},
		{ErrCategoryConfig, "config"},
		{ErrorCategory(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.expected {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", tt.category, got, tt.expected)
		}
	}
}
