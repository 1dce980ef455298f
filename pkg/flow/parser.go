package flow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

var testKeys = map[string]bool{
	"name":                true,
	"description":         true,
	"tags":                true,
	"continue_on_failure": true,
	"setup":               true,
	"steps":               true,
	"teardown":            true,
}

var stepKeys = map[string]bool{
	"id":                  true,
	"action":              true,
	"description":         true,
	"target":              true,
	"to":                  true,
	"assertion":           true,
	"text":                true,
	"keys":                true,
	"duration":            true,
	"title":               true,
	"script":              true,
	"screenshot":          true,
	"timeout":             true,
	"continue_on_failure": true,
}

// ParseFile parses a single test file.
func ParseFile(path string) (*TestDefinition, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided test file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses test file YAML content.
// A missing name defaults to the file stem; missing step ids default to <phase>_<n>.
func Parse(data []byte, sourcePath string) (*TestDefinition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "empty test file"}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{Path: sourcePath, Line: root.Line, Message: "test file must be a mapping"}
	}

	var header struct {
		Name              string   `yaml:"name"`
		Description       string   `yaml:"description"`
		Tags              []string `yaml:"tags"`
		ContinueOnFailure *bool    `yaml:"continue_on_failure"`
	}

	def := &TestDefinition{SourcePath: sourcePath}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		val := root.Content[i+1]

		if !testKeys[key.Value] {
			return nil, &ParseError{Path: sourcePath, Line: key.Line, Message: fmt.Sprintf("unknown key %q", key.Value)}
		}

		switch Phase(key.Value) {
		case PhaseSetup, PhaseSteps, PhaseTeardown:
			steps, err := parsePhase(val, Phase(key.Value), sourcePath)
			if err != nil {
				return nil, err
			}
			switch Phase(key.Value) {
			case PhaseSetup:
				def.Setup = steps
			case PhaseSteps:
				def.Steps = steps
			case PhaseTeardown:
				def.Teardown = steps
			}
		}
	}

	if err := root.Decode(&header); err != nil {
		return nil, &ParseError{Path: sourcePath, Line: root.Line, Message: decodeMessage(err)}
	}
	def.Name = header.Name
	def.Description = header.Description
	def.Tags = header.Tags
	def.ContinueOnFailure = header.ContinueOnFailure

	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	}

	if err := checkUniqueIDs(def); err != nil {
		return nil, err
	}

	return def, nil
}

func parsePhase(node *yaml.Node, phase Phase, sourcePath string) ([]StepDefinition, error) {
	if node.ShortTag() == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.SequenceNode {
		return nil, &ParseError{Path: sourcePath, Line: node.Line, Message: fmt.Sprintf("%s must be a list of steps", phase)}
	}

	steps := make([]StepDefinition, 0, len(node.Content))
	for i, item := range node.Content {
		step, err := parseStep(item, phase, i, sourcePath)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseStep(node *yaml.Node, phase Phase, index int, sourcePath string) (StepDefinition, error) {
	var step StepDefinition

	if node.Kind != yaml.MappingNode {
		return step, &ParseError{Path: sourcePath, Line: node.Line, Message: fmt.Sprintf("%s[%d]: step must be a mapping", phase, index)}
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if !stepKeys[key.Value] {
			return step, &ParseError{Path: sourcePath, Line: key.Line, Message: fmt.Sprintf("%s[%d]: unknown step key %q", phase, index, key.Value)}
		}
	}

	if err := node.Decode(&step); err != nil {
		return step, &ParseError{Path: sourcePath, Line: node.Line, Message: fmt.Sprintf("%s[%d]: %s", phase, index, decodeMessage(err))}
	}
	if step.ID == "" {
		step.ID = fmt.Sprintf("%s_%d", phase, index+1)
	}
	if err := step.Validate(); err != nil {
		return step, &ParseError{Path: sourcePath, Line: node.Line, Message: fmt.Sprintf("%s step %q: %v", phase, step.ID, err)}
	}
	return step, nil
}

func checkUniqueIDs(def *TestDefinition) error {
	seen := make(map[string]Phase)
	for _, phase := range Phases {
		for _, step := range def.StepsIn(phase) {
			if prev, ok := seen[step.ID]; ok {
				return &ParseError{
					Path:    def.SourcePath,
					Message: fmt.Sprintf("duplicate step id %q (in %s and %s)", step.ID, prev, phase),
				}
			}
			seen[step.ID] = phase
		}
	}
	return nil
}

func decodeMessage(err error) string {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return strings.Join(typeErr.Errors, "; ")
	}
	return err.Error()
}
