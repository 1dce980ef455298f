package core

import (
	"context"

	"github.com/devicelab-dev/desktop-runner/pkg/flow"
)

// ArtifactConfig controls when screenshots are requested
type ArtifactConfig struct {
	CaptureOnFailure bool `yaml:"captureOnFailure" json:"captureOnFailure"` // Default: true
	CaptureOnStep    bool `yaml:"captureOnStep" json:"captureOnStep"`       // Default: false
}

// DefaultArtifactConfig returns sensible defaults for artifact capture
func DefaultArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		CaptureOnFailure: true,
		CaptureOnStep:    false,
	}
}

// ShouldCapture reports whether a screenshot is requested for a step that
// ended with status. stepFlag is the step's own screenshot flag.
func (c ArtifactConfig) ShouldCapture(status StepStatus, stepFlag bool) bool {
	if status == StatusSkipped || status == 0 {
		return false
	}
	if c.CaptureOnStep || stepFlag {
		return true
	}
	return status.IsFailure() && c.CaptureOnFailure
}

// ScreenshotRequest describes the step a capture is requested for.
type ScreenshotRequest struct {
	RunID    string
	Worker   int // Worker whose provider ran the step
	TestName string
	StepID   string
	Phase    flow.Phase
	Status   StepStatus
}

// ScreenshotHook captures a screenshot and returns a reference to it.
// Called synchronously; the engine only stores the returned reference.
type ScreenshotHook interface {
	Capture(ctx context.Context, req ScreenshotRequest) (string, error)
}

// ScreenshotFunc adapts a function to ScreenshotHook.
type ScreenshotFunc func(ctx context.Context, req ScreenshotRequest) (string, error)

// Capture calls f.
func (f ScreenshotFunc) Capture(ctx context.Context, req ScreenshotRequest) (string, error) {
	return f(ctx, req)
}

// NullScreenshotHook is a no-op implementation for testing
type NullScreenshotHook struct{}

// Capture returns an empty reference (no-op)
func (NullScreenshotHook) Capture(context.Context, ScreenshotRequest) (string, error) {
	return "", nil
}
