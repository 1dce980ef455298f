// Package validator validates desktop test files before execution.
// It parses all files upfront, applies tag filters and collects every error.
package validator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/config"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Files is the list of test file paths in execution order.
	Files []string
	// Tests holds the parsed definitions, parallel to Files.
	Tests []*flow.TestDefinition
	// Filtered counts valid tests dropped by tag filters.
	Filtered int
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Err joins all validation errors, or returns nil.
func (r *Result) Err() error {
	return errors.Join(r.Errors...)
}

// Validator validates test files.
type Validator struct {
	includeTags []string
	excludeTags []string
}

// New creates a new Validator.
func New(includeTags, excludeTags []string) *Validator {
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// Validate validates a file or directory. Directories are searched
// recursively and files run in lexical path order.
func (v *Validator) Validate(path string) *Result {
	result := &Result{}

	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    path,
			Message: fmt.Sprintf("cannot access: %v", err),
		})
		return result
	}

	var files []string
	if info.IsDir() {
		files, err = collectTestFiles(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("failed to scan directory: %v", err),
			})
			return result
		}
	} else {
		files = []string{path}
	}

	names := make(map[string]string)
	for _, file := range files {
		def, err := flow.ParseFile(file)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    file,
				Message: fmt.Sprintf("parse error: %v", err),
			})
			continue
		}
		if prev, ok := names[def.Name]; ok {
			result.Errors = append(result.Errors, &ValidationError{
				File:    file,
				Message: fmt.Sprintf("test name %q already used by %s", def.Name, prev),
			})
			continue
		}
		names[def.Name] = file

		if !ShouldInclude(def, v.includeTags, v.excludeTags) {
			result.Filtered++
			continue
		}
		result.Files = append(result.Files, file)
		result.Tests = append(result.Tests, def)
	}

	return result
}

// collectTestFiles finds all .yaml/.yml files in a directory, skipping
// project configuration files.
func collectTestFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if isProjectFile(d.Name()) {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	sort.Strings(files)
	return files, err
}

func isProjectFile(name string) bool {
	for _, p := range config.ProjectFiles {
		if name == p {
			return true
		}
	}
	return false
}

// ShouldInclude applies tag filters. A test is included when it carries at
// least one include tag (or no include tags are given) and none of the
// exclude tags. Exclusion wins.
func ShouldInclude(def *flow.TestDefinition, includeTags, excludeTags []string) bool {
	for _, tag := range excludeTags {
		if def.HasTag(tag) {
			return false
		}
	}
	if len(includeTags) == 0 {
		return true
	}
	for _, tag := range includeTags {
		if def.HasTag(tag) {
			return true
		}
	}
	return false
}
