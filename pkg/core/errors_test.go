package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExecutionError_Error(t *testing.T) {
	err := &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "test_error",
		Message:  "test message",
	}

	if got := err.Error(); got != "test message" {
		t.Errorf("Error() = %q, want %q", got, "test message")
	}
}

func TestExecutionError_ErrorWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := ErrActionFailed.WithMessage("click failed").WithCause(cause)

	got := err.Error()
	if !strings.Contains(got, "click failed") {
		t.Errorf("Error() = %q, should contain 'click failed'", got)
	}
	if !strings.Contains(got, "underlying error") {
		t.Errorf("Error() = %q, should contain 'underlying error'", got)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestExecutionError_IsMatchesCopies(t *testing.T) {
	copies := []error{
		ErrElementNotFound.WithCause(errors.New("x")),
		ErrElementNotFound.WithMessage("element not found: id=ok"),
		ErrElementNotFound.WithDetails(map[string]interface{}{"attempts": 2}),
		fmt.Errorf("step s1: %w", ErrElementNotFound.WithMessagef("missing %s", "ok")),
	}
	for _, err := range copies {
		if !errors.Is(err, ErrElementNotFound) {
			t.Errorf("errors.Is(%q, ErrElementNotFound) = false, want true", err)
		}
		if errors.Is(err, ErrTimeout) {
			t.Errorf("errors.Is(%q, ErrTimeout) = true, want false", err)
		}
	}
}

func TestExecutionError_WithDetailsMerges(t *testing.T) {
	base := ErrTimeout.WithDetails(map[string]interface{}{"a": 1})
	merged := base.WithDetails(map[string]interface{}{"b": 2})

	if len(merged.Details) != 2 {
		t.Errorf("Details = %v, want two entries", merged.Details)
	}
	if len(base.Details) != 1 {
		t.Error("WithDetails must not mutate the receiver")
	}
	if ErrTimeout.Details != nil {
		t.Error("WithDetails must not mutate the sentinel")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want StepStatus
	}{
		{"nil", nil, StatusPassed},
		{"element not found", ErrElementNotFound, StatusFailed},
		{"timeout", ErrTimeout.WithMessage("waited 5s"), StatusFailed},
		{"action", ErrActionFailed.WithCause(errors.New("AX error")), StatusFailed},
		{"assertion failed", ErrAssertionFailed, StatusFailed},
		{"plain error", errors.New("boom"), StatusFailed},
		{"assertion invalid", ErrAssertionInvalid, StatusErrored},
		{"invalid step", ErrInvalidStep, StatusErrored},
		{"app lifecycle", ErrAppLifecycle, StatusErrored},
		{"cancelled", Cancelled(context.Canceled), StatusErrored},
		{"process gone", ErrProcessGone, StatusFailed},
		{"failed recovery", ErrProcessGone.WithCause(ErrAppLifecycle), StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ErrProcessGone)
	if got := CategoryOf(err); got != ErrCategoryApp {
		t.Errorf("CategoryOf = %v, want app", got)
	}
	if got := CodeOf(err); got != "process_gone" {
		t.Errorf("CodeOf = %q, want process_gone", got)
	}
	if got := CategoryOf(nil); got != ErrCategoryNone {
		t.Errorf("CategoryOf(nil) = %v, want none", got)
	}
	if got := CategoryOf(errors.New("x")); got != ErrCategoryAction {
		t.Errorf("CategoryOf(plain) = %v, want action", got)
	}
}

func TestIsCancelled(t *testing.T) {
	if !IsCancelled(context.Canceled) || !IsCancelled(Cancelled(nil)) {
		t.Error("IsCancelled should recognise context.Canceled and ErrCancelled")
	}
	if IsCancelled(ErrTimeout) {
		t.Error("IsCancelled(ErrTimeout) = true, want false")
	}
}
