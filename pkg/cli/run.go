package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/devicelab-dev/desktop-runner/pkg/config"
	"github.com/devicelab-dev/desktop-runner/pkg/executor"
	"github.com/devicelab-dev/desktop-runner/pkg/logger"
	"github.com/devicelab-dev/desktop-runner/pkg/metrics"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run tests against the target application",
	ArgsUsage: "[test-file-or-folder]...",
	Description: `Run test definition files against the application configured in the project.
Without arguments the project's tests directory is used.

Reports are written to the reports directory:
  - Default: <project>/reports/<timestamp>/result.json
  - With --output: <output>/<timestamp>/result.json
  - With --output and --flatten: <output>/result.json

Examples:
  desktop-runner run
  desktop-runner run tests/login.yaml tests/save.yaml
  desktop-runner run --include-tags smoke -e USER=test
  desktop-runner run --appium-url http://127.0.0.1:4723 --caps mac2.json
  desktop-runner run --provider mock --mock-tree editor.yaml`,
	Flags: []cli.Flag{
		// Provider
		&cli.StringFlag{
			Name:    "provider",
			Usage:   "Accessibility provider (appium, mock)",
			Value:   providerAppium,
			EnvVars: []string{"DESKTOP_RUNNER_PROVIDER"},
		},
		&cli.StringFlag{
			Name:    "appium-url",
			Usage:   "Appium server URL (for appium provider)",
			Value:   "http://127.0.0.1:4723",
			EnvVars: []string{"APPIUM_URL"},
		},
		&cli.StringFlag{
			Name:  "caps",
			Usage: "JSON file with extra session capabilities",
		},
		&cli.StringFlag{
			Name:  "mock-tree",
			Usage: "YAML accessibility tree (for mock provider)",
		},

		// Environment variables
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Environment variables for scripts (KEY=VALUE)",
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: "Dotenv file for scripts (overrides env_file in the project)",
		},

		// Tag filtering
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include tests with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude tests with these tags",
		},

		// Execution
		&cli.IntFlag{
			Name:  "parallel",
			Usage: "Number of workers (overrides settings.parallelism)",
		},

		// Output
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory for reports (default: project reports directory)",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder (requires --output)",
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Serve Prometheus metrics on this address during the run (e.g. :9090)",
			EnvVars: []string{"DESKTOP_RUNNER_METRICS_ADDR"},
		},
	},
	Action: runTests,
}

// RunConfig holds the resolved options of one run.
type RunConfig struct {
	Project     *config.Config
	Paths       []string
	Env         map[string]string
	IncludeTags []string
	ExcludeTags []string
	OutputDir   string
	MetricsAddr string
	Provider    providerOptions
}

func runTests(c *cli.Context) error {
	cfg, err := buildRunConfig(c)
	if err != nil {
		return err
	}

	log, err := setupLogger(c)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := executeRun(ctx, cfg, log, c.App.Writer)
	if err != nil {
		return err
	}
	if code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

func buildRunConfig(c *cli.Context) (*RunConfig, error) {
	project, err := loadProject(c.String("config"))
	if err != nil {
		return nil, err
	}

	if n := c.Int("parallel"); n > 0 {
		project.Settings.Parallelism = n
	}
	if c.IsSet("include-tags") {
		project.IncludeTags = c.StringSlice("include-tags")
	}
	if c.IsSet("exclude-tags") {
		project.ExcludeTags = c.StringSlice("exclude-tags")
	}
	if f := c.String("env-file"); f != "" {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, err
		}
		project.EnvFile = abs
	}
	if err := project.Validate(); err != nil {
		return nil, err
	}

	// CLI variables take precedence over the project environment
	env, err := project.Environment()
	if err != nil {
		return nil, err
	}
	for k, v := range parseEnvVars(c.StringSlice("env")) {
		env[k] = v
	}

	outputDir, err := resolveOutputDir(project.Path(project.Directories.Reports), c.String("output"), c.Bool("flatten"))
	if err != nil {
		return nil, err
	}

	return &RunConfig{
		Project:     project,
		Paths:       testPaths(project, c.Args().Slice()),
		Env:         env,
		IncludeTags: project.IncludeTags,
		ExcludeTags: project.ExcludeTags,
		OutputDir:   outputDir,
		MetricsAddr: c.String("metrics-addr"),
		Provider: providerOptions{
			Name:      c.String("provider"),
			AppiumURL: c.String("appium-url"),
			CapsFile:  c.String("caps"),
			MockTree:  c.String("mock-tree"),
			App:       project.TargetApp,
		},
	}, nil
}

// setupLogger builds the run logger and installs it as the global logger.
func setupLogger(c *cli.Context) (*zap.Logger, error) {
	path := c.String("log-file")
	if path == "" {
		path = filepath.Join(config.GetLogsDir(), "desktop-runner.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	opts := logger.Options{Level: c.String("log-level"), Format: c.String("log-format")}
	if err := logger.Init(path, opts); err != nil {
		return nil, err
	}
	return logger.L(), nil
}

// executeRun validates, runs and reports. It returns the process exit code.
func executeRun(ctx context.Context, cfg *RunConfig, log *zap.Logger, out io.Writer) (int, error) {
	sel := collectTests(cfg.Paths, cfg.IncludeTags, cfg.ExcludeTags)
	if len(sel.Errors) > 0 {
		return 0, fmt.Errorf("validation failed:\n%w", errors.Join(sel.Errors...))
	}
	if len(sel.Tests) == 0 {
		return 0, fmt.Errorf("no tests to run (%d filtered by tags)", sel.Filtered)
	}

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheus(reg)
	if err != nil {
		return 0, err
	}
	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, reg, log)
		defer shutdown()
	}

	n := cfg.Project.Settings.Parallelism
	if n > len(sel.Tests) {
		n = len(sel.Tests)
	}
	workers, err := buildWorkers(ctx, cfg.Provider, n, log)
	if err != nil {
		return 0, err
	}

	shots := newScreenshotWriter(cfg.Project.Path(cfg.Project.Directories.Screenshots))
	for _, w := range workers {
		shots.register(w.ID, w.Provider)
	}

	runner, err := executor.New(workers, executor.RunnerConfig{
		Config:      cfg.Project,
		Logger:      log.Named("executor"),
		Metrics:     rec,
		Screenshots: shots,
		Hooks:       newConsoleReporter(out, len(sel.Tests)),
		Env:         cfg.Env,
	})
	if err != nil {
		for _, w := range workers {
			if w.Cleanup != nil {
				w.Cleanup()
			}
		}
		return 0, err
	}

	result := runner.Run(ctx, sel.Tests)
	printSummary(out, result)

	path, err := writeResult(cfg.OutputDir, result)
	if err != nil {
		return 0, err
	}
	fmt.Fprintf(out, "\n  Report: %s\n", path)
	return result.ExitCode(), nil
}

// serveMetrics exposes /metrics until the returned function is called.
func serveMetrics(addr string, g prometheus.Gatherer, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
