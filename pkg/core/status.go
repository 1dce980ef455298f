package core

import "fmt"

// StepStatus represents the outcome of a step or test. The zero value is
// not a valid outcome.
type StepStatus int

const (
	StatusPassed  StepStatus = iota + 1 // Completed successfully
	StatusFailed                        // Expected behavior didn't occur (assertion, missing element, timeout)
	StatusErrored                       // Invalid request, setup failure, or app lifecycle failure
	StatusSkipped                       // Not executed because an earlier step stopped the phase
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "error"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ParseStepStatus parses a status string as produced by String.
func ParseStepStatus(s string) (StepStatus, error) {
	for st := StatusPassed; st <= StatusSkipped; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// MarshalText encodes the status as its string form.
func (s StepStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status string.
func (s *StepStatus) UnmarshalText(text []byte) error {
	st, err := ParseStepStatus(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// IsSuccess returns true if the status is passed
func (s StepStatus) IsSuccess() bool {
	return s == StatusPassed
}

// IsFailure returns true for failed and error
func (s StepStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusErrored
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone      ErrorCategory = iota // No error
	ErrCategoryLocator                        // Element could not be resolved
	ErrCategoryTimeout                        // Wait condition not met in time
	ErrCategoryAction                         // Input event could not be dispatched
	ErrCategoryAssertion                      // Assertion failed or was invalid
	ErrCategoryApp                            // Target application lost, not launchable
	ErrCategoryCancelled                      // Run cancelled
	ErrCategoryConfig                         // Invalid test definition or configuration
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryLocator:
		return "locator"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryAction:
		return "action"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryApp:
		return "app"
	case ErrCategoryCancelled:
		return "cancelled"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// MarshalText encodes the category as its string form.
func (c ErrorCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
