package assertion

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
)

// RegexTimeout bounds a single matches_regex evaluation.
const RegexTimeout = time.Second

// Compare applies op to actual and expected. equals and not_equals compare
// numerically when both sides are finite numbers. An error means the
// comparison itself is invalid, e.g. a non-numeric side for greater_than or
// a bad pattern.
func Compare(actual, expected string, op flow.Operator) (bool, error) {
	switch op {
	case flow.OpEquals, "":
		return equal(actual, expected), nil
	case flow.OpNotEquals:
		return !equal(actual, expected), nil
	case flow.OpContains:
		return strings.Contains(actual, expected), nil
	case flow.OpNotContains:
		return !strings.Contains(actual, expected), nil
	case flow.OpStartsWith:
		return strings.HasPrefix(actual, expected), nil
	case flow.OpEndsWith:
		return strings.HasSuffix(actual, expected), nil
	case flow.OpGreaterThan, flow.OpLessThan:
		a, aok := number(actual)
		e, eok := number(expected)
		if !aok || !eok {
			return false, core.ErrAssertionInvalid.
				WithMessagef("%s needs numeric operands, got %q and %q", op, actual, expected)
		}
		if op == flow.OpGreaterThan {
			return a > e, nil
		}
		return a < e, nil
	case flow.OpMatchesRegex:
		return matchRegex(actual, expected)
	default:
		return false, core.ErrAssertionInvalid.WithMessagef("unknown operator %q", op)
	}
}

func equal(actual, expected string) bool {
	if a, ok := number(actual); ok {
		if e, ok := number(expected); ok {
			return a == e
		}
	}
	return actual == expected
}

// number parses s as a finite float.
func number(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// matchRegex reports whether pattern matches anywhere in s.
func matchRegex(s, pattern string) (bool, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return false, core.ErrAssertionInvalid.
			WithMessagef("invalid pattern %q", pattern).
			WithCause(err)
	}
	re.MatchTimeout = RegexTimeout

	ok, err := re.MatchString(s)
	if err != nil {
		return false, core.ErrAssertionInvalid.
			WithMessagef("pattern %q could not be evaluated", pattern).
			WithCause(err)
	}
	return ok, nil
}
