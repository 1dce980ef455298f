package core

import (
	"context"
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: element_not_found, timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches any ExecutionError with the same code, so copies made with
// WithCause, WithMessage or WithDetails still match their sentinel.
func (e *ExecutionError) Is(target error) bool {
	var t *ExecutionError
	if !errors.As(target, &t) {
		return false
	}
	return t == e || (t.Code != "" && t.Code == e.Code)
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithMessagef is WithMessage with formatting
func (e *ExecutionError) WithMessagef(format string, args ...interface{}) *ExecutionError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Locator errors
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryLocator,
		Code:     "element_not_found",
		Message:  "element not found",
	}

	// Timeout errors
	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}

	// Action errors
	ErrActionFailed = &ExecutionError{
		Category: ErrCategoryAction,
		Code:     "action_failed",
		Message:  "action failed",
	}

	// Assertion errors
	ErrAssertionFailed = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "assertion_failed",
		Message:  "assertion failed",
	}
	ErrAssertionInvalid = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "assertion_invalid",
		Message:  "assertion could not be evaluated",
	}

	// App errors
	ErrAppLifecycle = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "app_lifecycle",
		Message:  "application could not be launched or attached",
	}
	ErrProcessGone = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "process_gone",
		Message:  "application process is no longer running",
	}

	// Run control
	ErrCancelled = &ExecutionError{
		Category: ErrCategoryCancelled,
		Code:     "cancelled",
		Message:  "run cancelled",
	}

	// Config errors
	ErrInvalidStep = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_step",
		Message:  "invalid step",
	}
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
)

// Cancelled wraps a context error as ErrCancelled.
func Cancelled(cause error) *ExecutionError {
	return ErrCancelled.WithCause(cause)
}

// IsCancelled reports whether err stems from run cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// StatusFor maps a step error to its status at the step boundary.
// Invalid requests and lifecycle failures are errors; everything else that
// went wrong is a failure. Losing the process mid-step, even when recovery
// then fails, is a failure of that step.
func StatusFor(err error) StepStatus {
	if err == nil {
		return StatusPassed
	}
	switch {
	case errors.Is(err, ErrProcessGone):
		return StatusFailed
	case errors.Is(err, ErrAssertionInvalid),
		errors.Is(err, ErrInvalidStep),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrAppLifecycle),
		IsCancelled(err):
		return StatusErrored
	default:
		return StatusFailed
	}
}

// CategoryOf returns the category of the first ExecutionError in err's chain.
func CategoryOf(err error) ErrorCategory {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Category
	}
	if err != nil {
		return ErrCategoryAction
	}
	return ErrCategoryNone
}

// CodeOf returns the code of the first ExecutionError in err's chain.
func CodeOf(err error) string {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Code
	}
	return ""
}
