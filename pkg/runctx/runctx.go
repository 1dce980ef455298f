// Package runctx carries the collaborators of one test execution into every
// action and assertion call.
package runctx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/desktop-runner/pkg/config"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
	"github.com/devicelab-dev/desktop-runner/pkg/lifecycle"
	"github.com/devicelab-dev/desktop-runner/pkg/locator"
	"github.com/devicelab-dev/desktop-runner/pkg/metrics"
	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

// ScriptRunner executes run_script steps.
type ScriptRunner interface {
	Run(ctx context.Context, script string) error
}

// StepStats describes how the current step reached its elements.
type StepStats struct {
	Attempts  int  // Implicit resolutions performed
	Recovered bool // The application was recovered during the step
}

// RunContext is owned by one worker for the duration of one test.
type RunContext struct {
	RunID    string
	Worker   int
	Provider core.Provider
	Resolver *locator.Resolver
	Waiter   *wait.Coordinator
	Apps     *lifecycle.Manager
	App      core.TargetApp
	Settings config.Settings
	Test     *flow.TestDefinition
	Logger   *zap.Logger
	Metrics  metrics.Recorder
	Scripts  ScriptRunner

	stats StepStats
}

// Log returns the context logger, never nil.
func (rc *RunContext) Log() *zap.Logger {
	if rc.Logger == nil {
		return zap.NewNop()
	}
	return rc.Logger
}

// Recorder returns the metrics recorder, never nil.
func (rc *RunContext) Recorder() metrics.Recorder {
	return metrics.OrNop(rc.Metrics)
}

// BeginStep resets the per-step statistics.
func (rc *RunContext) BeginStep() {
	rc.stats = StepStats{}
}

// Stats returns the statistics of the current step.
func (rc *RunContext) Stats() StepStats {
	return rc.stats
}

// TimeoutFor picks the implicit wait for a resolution: the step timeout,
// then the target timeout, then the default timeout.
func (rc *RunContext) TimeoutFor(step *flow.StepDefinition, target *flow.Target) time.Duration {
	if step != nil && step.Timeout != nil {
		return step.Timeout.Duration()
	}
	if target != nil && target.Timeout != nil {
		return target.Timeout.Duration()
	}
	return rc.Settings.DefaultTimeout.Duration()
}

// Resolve resolves target through the implicit wait. A wait that times out
// is reported as core.ErrElementNotFound. If the application went away it
// is recovered once and the resolution retried once.
func (rc *RunContext) Resolve(ctx context.Context, target flow.Target, timeout time.Duration) (*locator.Resolution, error) {
	var res *locator.Resolution
	err := rc.withRecovery(ctx, func() error {
		rc.stats.Attempts++
		got, err := rc.Waiter.ForElement(ctx, rc.Resolver, rc.Provider, target, timeout)
		if err != nil {
			return notFoundAfterWait(target, timeout, err)
		}
		res = got
		return nil
	})
	return res, err
}

// ResolveOnce makes a single resolution attempt without waiting.
func (rc *RunContext) ResolveOnce(ctx context.Context, target flow.Target) (*locator.Resolution, error) {
	var res *locator.Resolution
	err := rc.withRecovery(ctx, func() error {
		rc.stats.Attempts++
		got, err := rc.Resolver.Resolve(ctx, target, rc.Provider)
		res = got
		return err
	})
	return res, err
}

// ResolveAll returns every match of the first chain entry that matches.
func (rc *RunContext) ResolveAll(ctx context.Context, target flow.Target) ([]core.ElementHandle, error) {
	var matches []core.ElementHandle
	err := rc.withRecovery(ctx, func() error {
		rc.stats.Attempts++
		got, err := rc.Resolver.ResolveAll(ctx, target, rc.Provider)
		matches = got
		return err
	})
	return matches, err
}

// WaitForGone waits until target no longer resolves, recovering the
// application once if it went away.
func (rc *RunContext) WaitForGone(ctx context.Context, target flow.Target, timeout time.Duration) error {
	return rc.withRecovery(ctx, func() error {
		rc.stats.Attempts++
		return rc.Waiter.ForElementGone(ctx, rc.Resolver, rc.Provider, target, timeout)
	})
}

// WaitForWindow waits for a window whose title contains title, recovering
// the application once if it went away.
func (rc *RunContext) WaitForWindow(ctx context.Context, title string, timeout time.Duration) (core.Window, error) {
	var found core.Window
	err := rc.withRecovery(ctx, func() error {
		w, err := rc.Waiter.ForWindow(ctx, rc.Provider, title, timeout)
		found = w
		return err
	})
	return found, err
}

// Recover rebinds the application. A failed recovery keeps the step a
// failure by wrapping core.ErrProcessGone.
func (rc *RunContext) Recover(ctx context.Context, cause error) error {
	if rc.Apps == nil {
		return cause
	}
	rc.stats.Recovered = true
	rc.Log().Warn("application went away, recovering", zap.Error(cause))
	if _, err := rc.Apps.Recover(ctx, rc.App); err != nil {
		if core.IsCancelled(err) {
			return err
		}
		return core.ErrProcessGone.WithMessage("application exited and could not be recovered").WithCause(err)
	}
	return nil
}

func (rc *RunContext) withRecovery(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, core.ErrProcessGone) || rc.stats.Recovered || rc.Apps == nil {
		return err
	}
	if rerr := rc.Recover(ctx, err); rerr != nil {
		return rerr
	}
	return fn()
}

func notFoundAfterWait(target flow.Target, timeout time.Duration, err error) error {
	var timeoutErr *wait.TimeoutError
	if !errors.As(err, &timeoutErr) {
		return err
	}
	out := core.ErrElementNotFound.
		WithMessagef("element not found within %s: %s", timeout, target.Describe()).
		WithCause(err)
	var last *core.ExecutionError
	if errors.As(timeoutErr.LastErr, &last) && last.Details != nil {
		out = out.WithDetails(last.Details)
	}
	return out
}

// Inspect resolves a single locator once and describes the element.
func (rc *RunContext) Inspect(ctx context.Context, kind, value string) (map[string]interface{}, error) {
	target := flow.Target{Type: flow.LocatorKind(kind), Value: value}
	if !target.Type.Valid() {
		return nil, core.ErrInvalidStep.WithMessagef("unknown locator type %q", kind)
	}
	res, err := rc.ResolveOnce(ctx, target)
	if err != nil {
		return nil, err
	}

	p, el := rc.Provider, res.Element
	info := map[string]interface{}{"ref": el.Ref()}
	reads := []struct {
		key  string
		read func() (interface{}, error)
	}{
		{"text", func() (interface{}, error) { return p.ReadText(ctx, el) }},
		{"value", func() (interface{}, error) { return p.ReadValue(ctx, el) }},
		{"role", func() (interface{}, error) { return p.ReadRole(ctx, el) }},
		{"enabled", func() (interface{}, error) { return p.IsEnabled(ctx, el) }},
		{"visible", func() (interface{}, error) { return p.IsVisible(ctx, el) }},
	}
	for _, r := range reads {
		v, err := r.read()
		if err != nil {
			return nil, fmt.Errorf("read %s of %s: %w", r.key, el.Ref(), err)
		}
		info[r.key] = v
	}
	return info, nil
}
