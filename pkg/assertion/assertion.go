// Package assertion evaluates assert steps against the live accessibility tree.
package assertion

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
	"github.com/devicelab-dev/desktop-runner/pkg/runctx"
)

// Outcome is the result of one assertion.
type Outcome struct {
	Status core.StepStatus // passed, failed or error
	Detail string
	Actual string
	Err    error // Set unless Status is passed
}

// Passed reports whether the assertion held.
func (o Outcome) Passed() bool {
	return o.Status == core.StatusPassed
}

func pass(actual, detail string) Outcome {
	return Outcome{Status: core.StatusPassed, Actual: actual, Detail: detail}
}

// fromError classifies err: invalid requests are errors, everything else
// (element not found, process gone, read failures) is a failure.
func fromError(err error, actual string) Outcome {
	return Outcome{Status: core.StatusFor(err), Detail: err.Error(), Actual: actual, Err: err}
}

func mismatch(a flow.Assertion, actual, expected, detail string) Outcome {
	err := core.ErrAssertionFailed.WithMessage(detail).WithDetails(map[string]interface{}{
		"assertion": string(a.Type),
		"operator":  string(a.EffectiveOperator()),
		"expected":  expected,
		"actual":    actual,
	})
	return Outcome{Status: core.StatusFailed, Detail: detail, Actual: actual, Err: err}
}

// Evaluator evaluates assertions.
type Evaluator struct{}

// New creates an Evaluator.
func New() *Evaluator {
	return &Evaluator{}
}

// Evaluate checks the assertion of an assert step.
func (e *Evaluator) Evaluate(ctx context.Context, rc *runctx.RunContext, step *flow.StepDefinition) Outcome {
	if step.Assertion == nil {
		return fromError(core.ErrInvalidStep.WithMessage("assert step has no assertion"), "")
	}
	a := *step.Assertion
	target := step.AssertionTarget()
	if target == nil {
		return fromError(core.ErrAssertionInvalid.WithMessagef("%s assertion has no target", a.Type), "")
	}
	if a.Operator != "" && !a.Operator.Valid() {
		return fromError(core.ErrAssertionInvalid.WithMessagef("unknown operator %q", a.Operator), "")
	}

	timeout := rc.TimeoutFor(step, target)
	out := e.evaluate(ctx, rc, a, *target, timeout)
	rc.Log().Debug("assertion evaluated",
		zap.String("type", string(a.Type)),
		zap.String("target", target.Describe()),
		zap.String("status", out.Status.String()),
		zap.String("actual", out.Actual))
	return out
}

func (e *Evaluator) evaluate(ctx context.Context, rc *runctx.RunContext, a flow.Assertion, target flow.Target, timeout time.Duration) Outcome {
	switch a.Type {
	case flow.AssertElementExists:
		res, err := rc.ResolveOnce(ctx, target)
		if err != nil {
			return fromError(err, "absent")
		}
		return pass("present", "found "+res.Element.Ref())

	case flow.AssertElementNotExists:
		res, err := rc.ResolveOnce(ctx, target)
		switch {
		case err == nil:
			return mismatch(a, "present", "absent",
				fmt.Sprintf("element should not exist but found %s", res.Element.Ref()))
		case errors.Is(err, core.ErrElementNotFound):
			return pass("absent", "")
		default:
			return fromError(err, "")
		}

	case flow.AssertElementText, flow.AssertElementValue:
		res, err := rc.Resolve(ctx, target, timeout)
		if err != nil {
			return fromError(err, "")
		}
		read := rc.Provider.ReadText
		if a.Type == flow.AssertElementValue {
			read = rc.Provider.ReadValue
		}
		actual, err := read(ctx, res.Element)
		if err != nil {
			return fromError(err, "")
		}
		return compareOutcome(a, actual)

	case flow.AssertElementEnabled, flow.AssertElementVisible:
		want, err := expectedBool(a)
		if err != nil {
			return fromError(err, "")
		}
		res, err := rc.Resolve(ctx, target, timeout)
		if err != nil {
			return fromError(err, "")
		}
		check := rc.Provider.IsEnabled
		if a.Type == flow.AssertElementVisible {
			check = rc.Provider.IsVisible
		}
		got, err := check(ctx, res.Element)
		if err != nil {
			return fromError(err, "")
		}
		actual := strconv.FormatBool(got)
		if got != want {
			return mismatch(a, actual, strconv.FormatBool(want),
				fmt.Sprintf("%s: expected %t, got %t", a.Type, want, got))
		}
		return pass(actual, "")

	case flow.AssertElementCount:
		matches, err := rc.ResolveAll(ctx, target)
		if err != nil {
			return fromError(err, "")
		}
		return compareOutcome(a, strconv.Itoa(len(matches)))

	default:
		return fromError(core.ErrAssertionInvalid.WithMessagef("unknown assertion type %q", a.Type), "")
	}
}

func compareOutcome(a flow.Assertion, actual string) Outcome {
	op := a.EffectiveOperator()
	expected := a.Expected.String()
	ok, err := Compare(actual, expected, op)
	if err != nil {
		return fromError(err, actual)
	}
	if !ok {
		return mismatch(a, actual, expected,
			fmt.Sprintf("%s: expected %s %q, got %q", a.Type, op, expected, actual))
	}
	return pass(actual, "")
}

// expectedBool reads the expected truthiness of a state assertion. Only
// equals and not_equals apply; an absent expected value means true.
func expectedBool(a flow.Assertion) (bool, error) {
	want := true
	if a.Expected.IsSet() {
		b, ok := a.Expected.Bool()
		if !ok {
			return false, core.ErrAssertionInvalid.
				WithMessagef("%s expects a boolean, got %q", a.Type, a.Expected.String())
		}
		want = b
	}
	switch a.EffectiveOperator() {
	case flow.OpEquals:
		return want, nil
	case flow.OpNotEquals:
		return !want, nil
	default:
		return false, core.ErrAssertionInvalid.
			WithMessagef("operator %s does not apply to %s", a.Operator, a.Type)
	}
}
