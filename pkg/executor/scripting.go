package executor

import (
	"context"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/flow"
	"github.com/devicelab-dev/desktop-runner/pkg/jsengine"
	"github.com/devicelab-dev/desktop-runner/pkg/runctx"
)

// newScriptEngine creates the JavaScript runtime shared by the steps of one
// test. Scripts can look elements up through the test's run context.
func newScriptEngine(rc *runctx.RunContext, env map[string]string) *jsengine.Engine {
	engine := jsengine.New(
		jsengine.WithLogger(rc.Log().Named("script")),
		jsengine.WithLookup(rc.Inspect),
		jsengine.WithEnv(env),
	)
	engine.SetVariable("TEST_NAME", rc.Test.Name)
	engine.SetVariable("RUN_ID", rc.RunID)
	return engine
}

// expandStep returns step with ${...} expressions evaluated in its text,
// title, keys, expected value and every target value (fallbacks, drop
// target and assertion target included). The definition itself is never
// modified; a step without expressions is returned as is.
func expandStep(ctx context.Context, engine *jsengine.Engine, step *flow.StepDefinition) (*flow.StepDefinition, error) {
	if !needsExpansion(step) {
		return step, nil
	}

	expanded := *step
	var err error
	expand := func(s string) string {
		if err != nil || !hasExpr(s) {
			return s
		}
		var out string
		out, err = engine.Expand(ctx, s)
		return out
	}

	expanded.Text = expand(step.Text)
	expanded.Title = expand(step.Title)
	if len(step.Keys) > 0 {
		expanded.Keys = make([]string, len(step.Keys))
		for i, k := range step.Keys {
			expanded.Keys[i] = expand(k)
		}
	}
	expanded.Target = expandTarget(step.Target, expand)
	expanded.To = expandTarget(step.To, expand)
	if step.Assertion != nil {
		a := *step.Assertion
		a.Expected.Value = expand(a.Expected.Value)
		a.Target = expandTarget(a.Target, expand)
		expanded.Assertion = &a
	}
	if err != nil {
		return nil, err
	}
	return &expanded, nil
}

// expandTarget copies t with expand applied to its value and fallbacks.
func expandTarget(t *flow.Target, expand func(string) string) *flow.Target {
	if t == nil {
		return nil
	}
	out := *t
	out.Value = expand(t.Value)
	if len(t.Fallback) > 0 {
		out.Fallback = make([]flow.Target, len(t.Fallback))
		for i := range t.Fallback {
			out.Fallback[i] = *expandTarget(&t.Fallback[i], expand)
		}
	}
	return &out
}

func hasExpr(s string) bool {
	return strings.Contains(s, "${")
}

func targetHasExpr(t *flow.Target) bool {
	if t == nil {
		return false
	}
	if hasExpr(t.Value) {
		return true
	}
	for i := range t.Fallback {
		if targetHasExpr(&t.Fallback[i]) {
			return true
		}
	}
	return false
}

func needsExpansion(step *flow.StepDefinition) bool {
	if hasExpr(step.Text) || hasExpr(step.Title) {
		return true
	}
	for _, k := range step.Keys {
		if hasExpr(k) {
			return true
		}
	}
	if targetHasExpr(step.Target) || targetHasExpr(step.To) {
		return true
	}
	return step.Assertion != nil && (hasExpr(step.Assertion.Expected.Value) || targetHasExpr(step.Assertion.Target))
}
