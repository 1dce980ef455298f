// Package action executes step actions against the accessibility provider.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/desktop-runner/pkg/assertion"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
	"github.com/devicelab-dev/desktop-runner/pkg/lifecycle"
	"github.com/devicelab-dev/desktop-runner/pkg/runctx"
	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

// Dispatcher routes each step to its action handler. Only the implicit
// resolution before an input event is retried, never the event itself.
type Dispatcher struct {
	assertions *assertion.Evaluator
}

// New creates a Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{assertions: assertion.New()}
}

// Execute runs one step and reports its outcome. A nil Error means success.
func (d *Dispatcher) Execute(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition) *core.CommandResult {
	start := time.Now()
	result := d.executeStep(ctx, rc, step)
	result.Duration = time.Since(start)

	if result.Error != nil {
		rc.Log().Debug("action failed",
			zap.String("step", step.ID),
			zap.String("action", string(step.Action)),
			zap.Error(result.Error))
	}
	return result
}

func (d *Dispatcher) executeStep(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition) *core.CommandResult {
	switch step.Action {
	case flow.ActionClick:
		return d.onElement(ctx, rc, step, "Clicked", rc.Provider.Click)
	case flow.ActionDoubleClick:
		return d.onElement(ctx, rc, step, "Double-clicked", rc.Provider.DoubleClick)
	case flow.ActionRightClick:
		return d.onElement(ctx, rc, step, "Right-clicked", rc.Provider.RightClick)
	case flow.ActionClearField:
		return d.onElement(ctx, rc, step, "Cleared", rc.Provider.Clear)
	case flow.ActionTypeText:
		return d.typeText(ctx, rc, step)
	case flow.ActionKeyCombo:
		return d.keyCombo(ctx, rc, step)
	case flow.ActionSelectMenu:
		return d.selectMenu(ctx, rc, step)
	case flow.ActionDragDrop:
		return d.dragDrop(ctx, rc, step)
	case flow.ActionLaunchApp:
		return d.launchApp(ctx, rc)
	case flow.ActionCloseApp:
		return d.closeApp(ctx, rc)
	case flow.ActionWait:
		return d.sleep(ctx, step)
	case flow.ActionWaitForElement:
		return d.waitForElement(ctx, rc, step)
	case flow.ActionWaitForElementGone:
		return d.waitForElementGone(ctx, rc, step)
	case flow.ActionWaitForWindow:
		return d.waitForWindow(ctx, rc, step)
	case flow.ActionAssert:
		return d.assert(ctx, rc, step)
	case flow.ActionRunScript:
		return d.runScript(ctx, rc, step)
	default:
		return core.Fail(core.ErrInvalidStep.WithMessagef("unknown action %q", step.Action))
	}
}

// Input events

func (d *Dispatcher) resolve(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition, target *flow.Target) (core.ElementHandle, *core.CommandResult) {
	if target == nil {
		return nil, core.Fail(core.ErrInvalidStep.WithMessagef("%s requires a target", step.Action))
	}
	res, err := rc.Resolve(ctx, *target, rc.TimeoutFor(step, target))
	if err != nil {
		return nil, core.Fail(err)
	}
	return res.Element, nil
}

func dispatchFailed(step *flow.StepDefinition, ref string, err error) *core.CommandResult {
	if core.IsCancelled(err) {
		return core.Fail(err)
	}
	msg := fmt.Sprintf("%s failed", step.Action)
	if ref != "" {
		msg = fmt.Sprintf("%s on %s failed", step.Action, ref)
	}
	return core.Fail(core.ErrActionFailed.WithMessage(msg).WithCause(err))
}

func (d *Dispatcher) onElement(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition, verb string,
	event func(context.Context, core.ElementHandle) error) *core.CommandResult {
	el, fail := d.resolve(ctx, rc, step, step.Target)
	if fail != nil {
		return fail
	}
	if err := event(ctx, el); err != nil {
		return dispatchFailed(step, el.Ref(), err)
	}
	return core.Ok(fmt.Sprintf("%s %s", verb, el.Ref()))
}

func (d *Dispatcher) typeText(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition) *core.CommandResult {
	var el core.ElementHandle
	if step.Target != nil {
		var fail *core.CommandResult
		if el, fail = d.resolve(ctx, rc, step, step.Target); fail != nil {
			return fail
		}
	} else {
		focused, err := rc.Provider.Focused(ctx)
		if err != nil {
			if errors.Is(err, core.ErrElementNotFound) {
				return core.Fail(core.ErrElementNotFound.WithMessage("type_text without target needs a focused element").WithCause(err))
			}
			return dispatchFailed(step, "", err)
		}
		el = focused
	}

	if err := rc.Provider.TypeText(ctx, el, step.Text); err != nil {
		return dispatchFailed(step, el.Ref(), err)
	}
	return core.Ok(fmt.Sprintf("Typed %d characters into %s", len([]rune(step.Text)), el.Ref()))
}

func (d *Dispatcher) keyCombo(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition) *core.CommandResult {
	keys, err := NormalizeKeys(step.Keys)
	if err != nil {
		return core.Fail(err)
	}
	if err := rc.Provider.KeyCombo(ctx, keys); err != nil {
		return dispatchFailed(step, "", err)
	}
	chord := strings.Join(keys, "+")
	return &core.CommandResult{Success: true, Message: "Pressed " + chord, Actual: chord}
}

func (d *Dispatcher) selectMenu(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition) *core.CommandResult {
	path := step.MenuPath()
	if len(path) == 0 {
		return core.Fail(core.ErrInvalidStep.WithMessage("select_menu requires a menu path in text"))
	}

	var anchor core.ElementHandle
	if step.Target != nil {
		var fail *core.CommandResult
		if anchor, fail = d.resolve(ctx, rc, step, step.Target); fail != nil {
			return fail
		}
	}

	if err := rc.Provider.SelectMenu(ctx, anchor, path); err != nil {
		ref := ""
		if anchor != nil {
			ref = anchor.Ref()
		}
		return dispatchFailed(step, ref, err)
	}
	return core.Ok("Selected " + strings.Join(path, " > "))
}

func (d *Dispatcher) dragDrop(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition) *core.CommandResult {
	from, fail := d.resolve(ctx, rc, step, step.Target)
	if fail != nil {
		return fail
	}
	to, fail := d.resolve(ctx, rc, step, step.To)
	if fail != nil {
		return fail
	}
	if err := rc.Provider.DragDrop(ctx, from, to); err != nil {
		return dispatchFailed(step, from.Ref(), err)
	}
	return core.Ok(fmt.Sprintf("Dragged %s to %s", from.Ref(), to.Ref()))
}

// App management

func (d *Dispatcher) launchApp(ctx context.Context, rc *runctx.RunContext) *core.CommandResult {
	if rc.Apps == nil {
		return core.Fail(core.ErrAppLifecycle.WithMessage("no application manager"))
	}
	out, err := rc.Apps.EnsureRunning(ctx, rc.App)
	if err != nil {
		return core.Fail(err)
	}
	if out == lifecycle.Unmanaged {
		return core.Fail(core.ErrAppLifecycle.WithMessage("launch_app needs a target application"))
	}
	return &core.CommandResult{Success: true, Message: fmt.Sprintf("App %s: %s", rc.App, out), Actual: string(out)}
}

func (d *Dispatcher) closeApp(ctx context.Context, rc *runctx.RunContext) *core.CommandResult {
	if rc.Apps == nil {
		return core.Fail(core.ErrAppLifecycle.WithMessage("no application manager"))
	}
	out, err := rc.Apps.Close(ctx, rc.App)
	if err != nil {
		return core.Fail(err)
	}
	return &core.CommandResult{Success: true, Message: fmt.Sprintf("App %s: %s", rc.App, out), Actual: string(out)}
}

// Waits

func (d *Dispatcher) sleep(ctx context.Context, step *flow.StepDefinition) *core.CommandResult {
	dur := step.WaitDuration()
	if err := wait.Sleep(ctx, dur.Duration()); err != nil {
		return core.Fail(err)
	}
	return core.Ok(fmt.Sprintf("Waited %s", dur))
}

func (d *Dispatcher) waitForElement(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition) *core.CommandResult {
	el, fail := d.resolve(ctx, rc, step, step.Target)
	if fail != nil {
		return fail
	}
	return core.Ok("Found " + el.Ref())
}

func (d *Dispatcher) waitForElementGone(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition) *core.CommandResult {
	if step.Target == nil {
		return core.Fail(core.ErrInvalidStep.WithMessage("wait_for_element_gone requires a target"))
	}
	timeout := rc.TimeoutFor(step, step.Target)
	if err := rc.WaitForGone(ctx, *step.Target, timeout); err != nil {
		return core.Fail(err)
	}
	return core.Ok(step.Target.Describe() + " is gone")
}

func (d *Dispatcher) waitForWindow(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition) *core.CommandResult {
	if step.Title == "" {
		return core.Fail(core.ErrInvalidStep.WithMessage("wait_for_window requires title"))
	}
	w, err := rc.WaitForWindow(ctx, step.Title, rc.TimeoutFor(step, nil))
	if err != nil {
		return core.Fail(err)
	}
	return &core.CommandResult{Success: true, Message: fmt.Sprintf("Window %q is open", w.Title), Actual: w.Title}
}

// Assertions and scripts

func (d *Dispatcher) assert(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition) *core.CommandResult {
	out := d.assertions.Evaluate(ctx, rc, step)
	return &core.CommandResult{
		Success: out.Passed(),
		Error:   out.Err,
		Message: out.Detail,
		Actual:  out.Actual,
	}
}

func (d *Dispatcher) runScript(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition) *core.CommandResult {
	if rc.Scripts == nil {
		return core.Fail(core.ErrInvalidConfig.WithMessage("scripting is not available"))
	}
	if err := rc.Scripts.Run(ctx, step.Script); err != nil {
		return dispatchFailed(step, "", err)
	}
	return core.Ok("Script completed")
}
