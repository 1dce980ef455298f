package flow

import (
	"fmt"
	"strings"
)

// ActionKind identifies the action a step performs.
type ActionKind string

const (
	ActionClick              ActionKind = "click"
	ActionDoubleClick        ActionKind = "double_click"
	ActionRightClick         ActionKind = "right_click"
	ActionTypeText           ActionKind = "type_text"
	ActionClearField         ActionKind = "clear_field"
	ActionKeyCombo           ActionKind = "key_combo"
	ActionSelectMenu         ActionKind = "select_menu"
	ActionWait               ActionKind = "wait"
	ActionWaitForElement     ActionKind = "wait_for_element"
	ActionWaitForElementGone ActionKind = "wait_for_element_gone"
	ActionWaitForWindow      ActionKind = "wait_for_window"
	ActionLaunchApp          ActionKind = "launch_app"
	ActionCloseApp           ActionKind = "close_app"
	ActionAssert             ActionKind = "assert"
	ActionDragDrop           ActionKind = "drag_drop"
	ActionRunScript          ActionKind = "run_script"
)

// ActionKinds lists every supported action.
var ActionKinds = []ActionKind{
	ActionClick,
	ActionDoubleClick,
	ActionRightClick,
	ActionTypeText,
	ActionClearField,
	ActionKeyCombo,
	ActionSelectMenu,
	ActionWait,
	ActionWaitForElement,
	ActionWaitForElementGone,
	ActionWaitForWindow,
	ActionLaunchApp,
	ActionCloseApp,
	ActionAssert,
	ActionDragDrop,
	ActionRunScript,
}

// Valid reports whether a is a known action.
func (a ActionKind) Valid() bool {
	for _, known := range ActionKinds {
		if a == known {
			return true
		}
	}
	return false
}

// NeedsTarget reports whether the action must resolve an element.
func (a ActionKind) NeedsTarget() bool {
	switch a {
	case ActionClick, ActionDoubleClick, ActionRightClick, ActionClearField,
		ActionWaitForElement, ActionWaitForElementGone, ActionDragDrop:
		return true
	default:
		return false
	}
}

// DefaultWait is the pause used by a wait step without a duration.
const DefaultWait Seconds = 1

// StepDefinition is a single step of a test.
// Field order matches the serialized key order.
type StepDefinition struct {
	ID                string     `yaml:"id"`
	Action            ActionKind `yaml:"action"`
	Description       string     `yaml:"description,omitempty"`
	Target            *Target    `yaml:"target,omitempty"`
	To                *Target    `yaml:"to,omitempty"` // Drop target for drag_drop
	Assertion         *Assertion `yaml:"assertion,omitempty"`
	Text              string     `yaml:"text,omitempty"`
	Keys              []string   `yaml:"keys,omitempty"`
	Duration          *Seconds   `yaml:"duration,omitempty"`
	Title             string     `yaml:"title,omitempty"` // Window title for wait_for_window
	Script            string     `yaml:"script,omitempty"`
	Screenshot        bool       `yaml:"screenshot,omitempty"`
	Timeout           *Seconds   `yaml:"timeout,omitempty"`
	ContinueOnFailure *bool      `yaml:"continue_on_failure,omitempty"`
}

// Describe returns the step description, or a generated one.
func (s *StepDefinition) Describe() string {
	if s.Description != "" {
		return s.Description
	}
	switch {
	case s.Target != nil:
		return fmt.Sprintf("%s %s", s.Action, s.Target.Describe())
	case s.Action == ActionTypeText:
		return fmt.Sprintf("%s %q", s.Action, s.Text)
	case s.Action == ActionKeyCombo:
		return fmt.Sprintf("%s %s", s.Action, strings.Join(s.Keys, "+"))
	case s.Action == ActionSelectMenu:
		return fmt.Sprintf("%s %s", s.Action, strings.Join(s.MenuPath(), " > "))
	case s.Action == ActionWaitForWindow:
		return fmt.Sprintf("%s %q", s.Action, s.Title)
	case s.Action == ActionAssert && s.Assertion != nil:
		return fmt.Sprintf("%s %s", s.Action, s.Assertion.Type)
	default:
		return string(s.Action)
	}
}

// MenuPath splits a select_menu text such as "File > Save As" into its items.
func (s *StepDefinition) MenuPath() []string {
	var items []string
	for _, part := range strings.Split(s.Text, ">") {
		if item := strings.TrimSpace(part); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// WaitDuration returns the pause of a wait step.
func (s *StepDefinition) WaitDuration() Seconds {
	if s.Duration == nil {
		return DefaultWait
	}
	return *s.Duration
}

// Validate checks that the step carries the fields its action needs.
func (s *StepDefinition) Validate() error {
	if s.Action == "" {
		return fmt.Errorf("action is required")
	}
	if !s.Action.Valid() {
		return fmt.Errorf("unknown action %q", s.Action)
	}
	if s.Action.NeedsTarget() && s.Target == nil {
		return fmt.Errorf("%s requires a target", s.Action)
	}
	if s.Target != nil {
		if err := s.Target.Validate(); err != nil {
			return fmt.Errorf("target: %w", err)
		}
	}
	if s.Timeout != nil && *s.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", *s.Timeout)
	}

	switch s.Action {
	case ActionTypeText:
		if s.Text == "" {
			return fmt.Errorf("type_text requires text")
		}
	case ActionKeyCombo:
		if len(s.Keys) == 0 {
			return fmt.Errorf("key_combo requires keys")
		}
	case ActionSelectMenu:
		if len(s.MenuPath()) == 0 {
			return fmt.Errorf("select_menu requires a menu path in text")
		}
	case ActionWait:
		if s.Duration != nil && *s.Duration < 0 {
			return fmt.Errorf("wait duration must be >= 0, got %v", *s.Duration)
		}
	case ActionWaitForWindow:
		if s.Title == "" {
			return fmt.Errorf("wait_for_window requires title")
		}
	case ActionAssert:
		if s.Assertion == nil {
			return fmt.Errorf("assert requires an assertion")
		}
		if err := s.Assertion.Validate(); err != nil {
			return err
		}
		if s.Target == nil && s.Assertion.Target == nil {
			return fmt.Errorf("assert requires a target")
		}
	case ActionDragDrop:
		if s.To == nil {
			return fmt.Errorf("drag_drop requires a to target")
		}
		if err := s.To.Validate(); err != nil {
			return fmt.Errorf("to: %w", err)
		}
	case ActionRunScript:
		if strings.TrimSpace(s.Script) == "" {
			return fmt.Errorf("run_script requires script")
		}
	}
	return nil
}

// AssertionTarget returns the target an assert step checks: the step target
// when present, otherwise the assertion's own target.
func (s *StepDefinition) AssertionTarget() *Target {
	if s.Target != nil {
		return s.Target
	}
	if s.Assertion != nil {
		return s.Assertion.Target
	}
	return nil
}
