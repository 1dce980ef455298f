package flow

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LocatorKind identifies a locator strategy.
type LocatorKind string

const (
	LocatorAccessibilityID LocatorKind = "accessibility_id"
	LocatorRoleLabel       LocatorKind = "role_label"
	LocatorRoleTitle       LocatorKind = "role_title"
	LocatorTextContent     LocatorKind = "text_content"
	LocatorPath            LocatorKind = "path"
	LocatorCoordinate      LocatorKind = "coordinate"
)

// LocatorKinds lists every supported locator kind.
var LocatorKinds = []LocatorKind{
	LocatorAccessibilityID,
	LocatorRoleLabel,
	LocatorRoleTitle,
	LocatorTextContent,
	LocatorPath,
	LocatorCoordinate,
}

// Valid reports whether k is a known locator kind.
func (k LocatorKind) Valid() bool {
	for _, known := range LocatorKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Target is an ordered fallback chain of locator descriptors.
// The receiver itself is the primary descriptor; Fallback holds the
// alternatives, tried in order. Fallback entries never carry their own
// fallbacks: nested chains are flattened at parse time.
type Target struct {
	Type     LocatorKind
	Value    string
	Role     string   // Optional role filter (required meaning for role_label/role_title)
	Index    *int     // Pick the n-th match instead of the first
	Timeout  *Seconds // Per-target implicit wait override
	Fallback []Target
}

// Chain returns the descriptors in resolution order, primary first.
func (t Target) Chain() []Target {
	chain := make([]Target, 0, 1+len(t.Fallback))
	primary := t
	primary.Fallback = nil
	chain = append(chain, primary)
	chain = append(chain, t.Fallback...)
	return chain
}

// Describe returns a short human-readable form of the primary descriptor.
func (t Target) Describe() string {
	var b strings.Builder
	b.WriteString(string(t.Type))
	b.WriteString("=")
	b.WriteString(strconv.Quote(t.Value))
	if t.Role != "" {
		b.WriteString(" role=")
		b.WriteString(t.Role)
	}
	if t.Index != nil {
		fmt.Fprintf(&b, " index=%d", *t.Index)
	}
	if len(t.Fallback) > 0 {
		fmt.Fprintf(&b, " (+%d fallback)", len(t.Fallback))
	}
	return b.String()
}

// MatchIndex returns the requested match index, defaulting to the first match.
func (t Target) MatchIndex() int {
	if t.Index == nil {
		return 0
	}
	return *t.Index
}

// Point parses a coordinate descriptor value of the form "x,y".
func (t Target) Point() (x, y int, err error) {
	parts := strings.Split(t.Value, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("coordinate %q must be \"x,y\"", t.Value)
	}
	x, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("coordinate %q: invalid x: %w", t.Value, err)
	}
	y, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("coordinate %q: invalid y: %w", t.Value, err)
	}
	return x, y, nil
}

// Validate checks a single descriptor and its fallbacks.
func (t Target) Validate() error {
	for i, d := range t.Chain() {
		if err := d.validateDescriptor(); err != nil {
			if i == 0 {
				return err
			}
			return fmt.Errorf("fallback %d: %w", i, err)
		}
	}
	return nil
}

func (t Target) validateDescriptor() error {
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("unknown locator type %q", t.Type)
	}
	if t.Value == "" {
		return fmt.Errorf("target value is required for %s", t.Type)
	}
	if t.Index != nil && *t.Index < 0 {
		return fmt.Errorf("target index must be >= 0, got %d", *t.Index)
	}
	if t.Timeout != nil && *t.Timeout < 0 {
		return fmt.Errorf("target timeout must be >= 0, got %v", *t.Timeout)
	}
	if t.Type == LocatorCoordinate {
		if _, _, err := t.Point(); err != nil {
			return err
		}
	}
	return nil
}

// targetYAML is the on-disk shape of a target. The fallback key holds either
// a single nested target or a list of targets.
type targetYAML struct {
	Type     LocatorKind `yaml:"type"`
	Value    string      `yaml:"value"`
	Role     string      `yaml:"role,omitempty"`
	Index    *int        `yaml:"index,omitempty"`
	Timeout  *Seconds    `yaml:"timeout,omitempty"`
	Fallback *yaml.Node  `yaml:"fallback,omitempty"`
}

// UnmarshalYAML accepts a target mapping whose fallback is a nested target
// or a list of targets, and flattens the result into a single chain.
func (t *Target) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: target must be a mapping", node.Line)
	}
	var raw targetYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*t = Target{
		Type:    raw.Type,
		Value:   raw.Value,
		Role:    raw.Role,
		Index:   raw.Index,
		Timeout: raw.Timeout,
	}
	if raw.Fallback == nil {
		return nil
	}

	var entries []*yaml.Node
	switch raw.Fallback.Kind {
	case yaml.MappingNode:
		entries = []*yaml.Node{raw.Fallback}
	case yaml.SequenceNode:
		entries = raw.Fallback.Content
	default:
		return fmt.Errorf("line %d: fallback must be a target or a list of targets", raw.Fallback.Line)
	}
	for _, entry := range entries {
		var fb Target
		if err := entry.Decode(&fb); err != nil {
			return err
		}
		t.Fallback = append(t.Fallback, fb.Chain()...)
	}
	return nil
}

// MarshalYAML writes the chain in nested form: each descriptor's fallback
// key holds the next descriptor.
func (t Target) MarshalYAML() (interface{}, error) {
	chain := t.Chain()
	var next *targetYAML
	for i := len(chain) - 1; i >= 0; i-- {
		d := chain[i]
		out := &targetYAML{
			Type:    d.Type,
			Value:   d.Value,
			Role:    d.Role,
			Index:   d.Index,
			Timeout: d.Timeout,
		}
		if next != nil {
			var fbNode yaml.Node
			if err := fbNode.Encode(next); err != nil {
				return nil, err
			}
			out.Fallback = &fbNode
		}
		next = out
	}
	return next, nil
}
