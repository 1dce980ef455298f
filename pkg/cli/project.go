package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/config"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
	"github.com/devicelab-dev/desktop-runner/pkg/validator"
)

// loadProject loads a project file, or looks for one when path is a directory.
func loadProject(path string) (*config.Config, error) {
	if path == "" {
		path = "."
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if info.IsDir() {
		cfg, err := config.LoadFromDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// testPaths returns the command arguments, or the project's tests directory.
func testPaths(cfg *config.Config, args []string) []string {
	if len(args) > 0 {
		return args
	}
	return []string{cfg.Path(cfg.Directories.Tests)}
}

// selection is the outcome of validating every requested path.
type selection struct {
	Tests    []*flow.TestDefinition
	Files    []string
	Filtered int
	Errors   []error
}

// collectTests validates every path and keeps the tests that pass the tag
// filters. Test names must be unique across all paths.
func collectTests(paths, include, exclude []string) *selection {
	v := validator.New(include, exclude)
	out := &selection{}
	seen := make(map[string]string)

	for _, path := range paths {
		res := v.Validate(path)
		out.Errors = append(out.Errors, res.Errors...)
		out.Filtered += res.Filtered
		for i, def := range res.Tests {
			file := res.Files[i]
			if prev, dup := seen[def.Name]; dup {
				if prev != file {
					out.Errors = append(out.Errors, &validator.ValidationError{
						File:    file,
						Message: fmt.Sprintf("duplicate test name %q (also in %s)", def.Name, prev),
					})
				}
				continue
			}
			seen[def.Name] = file
			out.Tests = append(out.Tests, def)
			out.Files = append(out.Files, file)
		}
	}
	return out
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}
