// Package config handles project configuration for desktop-runner.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
)

// TeardownPolicy decides whether teardown failures affect the test status.
type TeardownPolicy string

const (
	// TeardownIgnore records teardown failures without changing a passed test.
	TeardownIgnore TeardownPolicy = "ignore"
	// TeardownFail downgrades an otherwise-passed test to failed.
	TeardownFail TeardownPolicy = "fail"
)

// Config represents the project configuration (project.yaml or project.toml).
type Config struct {
	Name        string         `yaml:"name" toml:"name"`
	Version     string         `yaml:"version,omitempty" toml:"version"`
	Description string         `yaml:"description,omitempty" toml:"description"`
	TargetApp   core.TargetApp `yaml:"target_app" toml:"target_app"`
	Settings    Settings       `yaml:"settings" toml:"settings"`
	Directories Directories    `yaml:"directories" toml:"directories"`

	// Test selection
	IncludeTags []string `yaml:"include_tags,omitempty" toml:"include_tags"`
	ExcludeTags []string `yaml:"exclude_tags,omitempty" toml:"exclude_tags"`

	// Script environment
	Env     map[string]string `yaml:"env,omitempty" toml:"env"`
	EnvFile string            `yaml:"env_file,omitempty" toml:"env_file"` // Relative to the project directory

	// Directory the configuration was loaded from
	Dir string `yaml:"-" toml:"-"`
}

// Settings holds execution settings.
type Settings struct {
	ScreenshotOnFailure bool           `yaml:"screenshot_on_failure" toml:"screenshot_on_failure"`
	ScreenshotOnStep    bool           `yaml:"screenshot_on_step" toml:"screenshot_on_step"`
	DefaultTimeout      flow.Seconds   `yaml:"default_timeout" toml:"default_timeout"` // Implicit wait per resolution
	PollInterval        flow.Seconds   `yaml:"poll_interval" toml:"poll_interval"`     // Clamped to 0.1-0.25
	RetryCount          int            `yaml:"retry_count" toml:"retry_count"`         // Launch/attach attempts at test start
	SlowModeDelay       flow.Seconds   `yaml:"slow_mode_delay" toml:"slow_mode_delay"` // Pause after every step
	TeardownPolicy      TeardownPolicy `yaml:"teardown_policy" toml:"teardown_policy"`
	TeardownGrace       flow.Seconds   `yaml:"teardown_grace" toml:"teardown_grace"` // Teardown budget once the run is cancelled
	LaunchTimeout       flow.Seconds   `yaml:"launch_timeout" toml:"launch_timeout"` // Wait for a launched app to bind
	Parallelism         int            `yaml:"parallelism" toml:"parallelism"`
}

// Directories holds project-relative directories.
type Directories struct {
	Tests       string `yaml:"tests" toml:"tests"`
	Screenshots string `yaml:"screenshots" toml:"screenshots"`
	Reports     string `yaml:"reports" toml:"reports"`
}

// DefaultSettings returns the settings used when a project omits them.
func DefaultSettings() Settings {
	return Settings{
		ScreenshotOnFailure: true,
		ScreenshotOnStep:    false,
		DefaultTimeout:      5,
		PollInterval:        0.2,
		RetryCount:          1,
		SlowModeDelay:       0,
		TeardownPolicy:      TeardownIgnore,
		TeardownGrace:       10,
		LaunchTimeout:       10,
		Parallelism:         1,
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Settings: DefaultSettings(),
		Directories: Directories{
			Tests:       "tests",
			Screenshots: "screenshots",
			Reports:     "reports",
		},
	}
}

// Load loads configuration from a YAML or TOML file, chosen by extension.
// Keys absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	cfg.Dir = filepath.Dir(path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ProjectFiles lists the file names LoadFromDir looks for, in order.
var ProjectFiles = []string{"project.yaml", "project.yml", "project.toml"}

// LoadFromDir looks for a project file in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range ProjectFiles {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No project file found, return defaults
	cfg := Default()
	cfg.Dir = dir
	return cfg, nil
}

// Validate checks settings ranges and enums.
func (c *Config) Validate() error {
	var errs []error
	s := c.Settings
	switch s.TeardownPolicy {
	case TeardownIgnore, TeardownFail:
	default:
		errs = append(errs, fmt.Errorf("teardown_policy must be %q or %q, got %q", TeardownIgnore, TeardownFail, s.TeardownPolicy))
	}
	if s.DefaultTimeout < 0 {
		errs = append(errs, fmt.Errorf("default_timeout must be >= 0, got %v", s.DefaultTimeout))
	}
	if s.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be >= 0, got %v", s.PollInterval))
	}
	if s.RetryCount < 1 {
		errs = append(errs, fmt.Errorf("retry_count must be >= 1, got %d", s.RetryCount))
	}
	if s.SlowModeDelay < 0 {
		errs = append(errs, fmt.Errorf("slow_mode_delay must be >= 0, got %v", s.SlowModeDelay))
	}
	if s.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism must be >= 1, got %d", s.Parallelism))
	}
	if len(errs) > 0 {
		return core.ErrInvalidConfig.WithCause(errors.Join(errs...))
	}
	return nil
}

// ArtifactConfig derives screenshot capture rules from the settings.
func (s Settings) ArtifactConfig() core.ArtifactConfig {
	return core.ArtifactConfig{
		CaptureOnFailure: s.ScreenshotOnFailure,
		CaptureOnStep:    s.ScreenshotOnStep,
	}
}

// Timeout returns DefaultTimeout as a duration.
func (s Settings) Timeout() time.Duration {
	return s.DefaultTimeout.Duration()
}

// Path resolves a project-relative path.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Environment returns the variables exposed to scripts: the process
// environment, overlaid with the env file, overlaid with Env.
func (c *Config) Environment() (map[string]string, error) {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	if c.EnvFile != "" {
		fromFile, err := godotenv.Read(c.Path(c.EnvFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read env file: %w", err)
		}
		for k, v := range fromFile {
			env[k] = v
		}
	}

	for k, v := range c.Env {
		env[k] = v
	}
	return env, nil
}
