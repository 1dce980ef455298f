// Package cli provides the command-line interface for desktop-runner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Project file or directory containing project.yaml/project.toml",
		Value:   ".",
		EnvVars: []string{"DESKTOP_RUNNER_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "info",
		EnvVars: []string{"DESKTOP_RUNNER_LOG_LEVEL"},
	},
	&cli.StringFlag{
		Name:    "log-format",
		Usage:   "Log encoding (json, console)",
		Value:   "json",
		EnvVars: []string{"DESKTOP_RUNNER_LOG_FORMAT"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Log file (default: <home>/logs/desktop-runner.log)",
		EnvVars: []string{"DESKTOP_RUNNER_LOG_FILE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "desktop-runner",
		Usage:   "UAT test runner for desktop applications",
		Version: Version,
		Description: `Desktop Runner executes YAML test definitions against a desktop
application through its accessibility tree.

Examples:
  desktop-runner run
  desktop-runner run tests/login.yaml -e USER=test
  desktop-runner --config ./project validate`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			validateCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
