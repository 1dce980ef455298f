package flow

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Marshal serializes a test definition in the on-disk key order.
// Parse(Marshal(def)) reproduces def apart from SourcePath.
func Marshal(def *TestDefinition) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(def); err != nil {
		return nil, fmt.Errorf("failed to encode test %q: %w", def.Name, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode test %q: %w", def.Name, err)
	}
	return buf.Bytes(), nil
}

// WriteFile serializes def to path, creating parent directories.
func WriteFile(path string, def *TestDefinition) error {
	data, err := Marshal(def)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //#nosec G306 -- test files are not secret
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
