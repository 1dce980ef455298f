package flow

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// AssertionKind identifies what an assert step checks.
type AssertionKind string

const (
	AssertElementExists    AssertionKind = "element_exists"
	AssertElementNotExists AssertionKind = "element_not_exists"
	AssertElementText      AssertionKind = "element_text"
	AssertElementValue     AssertionKind = "element_value"
	AssertElementEnabled   AssertionKind = "element_enabled"
	AssertElementVisible   AssertionKind = "element_visible"
	AssertElementCount     AssertionKind = "element_count"
)

// AssertionKinds lists every supported assertion kind.
var AssertionKinds = []AssertionKind{
	AssertElementExists,
	AssertElementNotExists,
	AssertElementText,
	AssertElementValue,
	AssertElementEnabled,
	AssertElementVisible,
	AssertElementCount,
}

// Valid reports whether k is a known assertion kind.
func (k AssertionKind) Valid() bool {
	for _, known := range AssertionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// NeedsExpected reports whether the assertion compares against an expected value.
func (k AssertionKind) NeedsExpected() bool {
	switch k {
	case AssertElementText, AssertElementValue, AssertElementCount:
		return true
	default:
		return false
	}
}

// Operator is a comparison operator used by value assertions.
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpStartsWith   Operator = "starts_with"
	OpEndsWith     Operator = "ends_with"
	OpMatchesRegex Operator = "matches_regex"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
)

// Operators lists every supported operator.
var Operators = []Operator{
	OpEquals,
	OpNotEquals,
	OpContains,
	OpNotContains,
	OpStartsWith,
	OpEndsWith,
	OpMatchesRegex,
	OpGreaterThan,
	OpLessThan,
}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	for _, known := range Operators {
		if o == known {
			return true
		}
	}
	return false
}

// Assertion describes an assert step's check.
type Assertion struct {
	Type     AssertionKind `yaml:"type"`
	Target   *Target       `yaml:"target,omitempty"` // Overrides the step target when set
	Expected Scalar        `yaml:"expected,omitempty"`
	Operator Operator      `yaml:"operator,omitempty"`
}

// EffectiveOperator returns the operator, defaulting to equals.
func (a Assertion) EffectiveOperator() Operator {
	if a.Operator == "" {
		return OpEquals
	}
	return a.Operator
}

// Validate checks the assertion shape.
func (a Assertion) Validate() error {
	if a.Type == "" {
		return fmt.Errorf("assertion type is required")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if a.Operator != "" && !a.Operator.Valid() {
		return fmt.Errorf("unknown operator %q", a.Operator)
	}
	if a.Type.NeedsExpected() && !a.Expected.IsSet() {
		return fmt.Errorf("%s assertion requires an expected value", a.Type)
	}
	if a.Target != nil {
		if err := a.Target.Validate(); err != nil {
			return fmt.Errorf("assertion target: %w", err)
		}
	}
	return nil
}

// Scalar holds an expected value exactly as written, keeping its YAML tag so
// numbers and booleans serialize back unquoted.
type Scalar struct {
	Value string
	Tag   string // Short YAML tag such as !!str, !!int, !!bool; empty when unset
}

// Text returns a Scalar tagged as a string.
func Text(s string) Scalar {
	return Scalar{Value: s, Tag: "!!str"}
}

// IsSet reports whether a value was provided.
func (s Scalar) IsSet() bool {
	return s.Tag != ""
}

func (s Scalar) String() string {
	return s.Value
}

// Bool interprets the scalar as a boolean. ok is false for unrecognized text.
func (s Scalar) Bool() (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s.Value)) {
	case "true", "yes", "1", "on":
		return true, true
	case "false", "no", "0", "off":
		return false, true
	default:
		return false, false
	}
}

// IsZero lets omitempty drop unset scalars.
func (s Scalar) IsZero() bool {
	return !s.IsSet()
}

// UnmarshalYAML records a scalar value and its tag.
func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", node.Line)
	}
	if node.ShortTag() == "!!null" {
		*s = Scalar{}
		return nil
	}
	*s = Scalar{Value: node.Value, Tag: node.ShortTag()}
	return nil
}

// MarshalYAML writes the scalar back with its original tag.
func (s Scalar) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.ScalarNode, Value: s.Value, Tag: s.Tag}
	if s.Tag == "!!str" {
		node.Style = yaml.DoubleQuotedStyle
	}
	return node, nil
}
