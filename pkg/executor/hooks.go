package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
)

// Hooks observes test and step boundaries. Calls are synchronous and run on
// the worker executing the test. Errors and panics are logged and never
// change a result.
type Hooks interface {
	BeforeTest(ctx context.Context, test *flow.TestDefinition) error
	AfterTest(ctx context.Context, test *flow.TestDefinition, result *core.TestResult) error
	BeforeStep(ctx context.Context, test *flow.TestDefinition, phase flow.Phase, step *flow.StepDefinition) error
	AfterStep(ctx context.Context, test *flow.TestDefinition, result *core.StepResult) error
}

// NopHooks implements Hooks with no-ops. Embed it to override a subset.
type NopHooks struct{}

func (NopHooks) BeforeTest(context.Context, *flow.TestDefinition) error { return nil }
func (NopHooks) AfterTest(context.Context, *flow.TestDefinition, *core.TestResult) error {
	return nil
}
func (NopHooks) BeforeStep(context.Context, *flow.TestDefinition, flow.Phase, *flow.StepDefinition) error {
	return nil
}
func (NopHooks) AfterStep(context.Context, *flow.TestDefinition, *core.StepResult) error {
	return nil
}

// guard runs fn, converting a panic into an error, and logs any failure.
func guard(log *zap.Logger, name string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	if err != nil {
		log.Warn("hook failed", zap.String("hook", name), zap.Error(err))
	}
}
