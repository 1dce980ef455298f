package cli

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check test definition files without running them",
	ArgsUsage: "[test-file-or-folder]...",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include tests with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude tests with these tags",
		},
	},
	Action: validateTests,
}

func validateTests(c *cli.Context) error {
	project, err := loadProject(c.String("config"))
	if err != nil {
		return err
	}
	if err := project.Validate(); err != nil {
		return err
	}

	include, exclude := project.IncludeTags, project.ExcludeTags
	if c.IsSet("include-tags") {
		include = c.StringSlice("include-tags")
	}
	if c.IsSet("exclude-tags") {
		exclude = c.StringSlice("exclude-tags")
	}

	w := c.App.Writer
	sel := collectTests(testPaths(project, c.Args().Slice()), include, exclude)
	for i, def := range sel.Tests {
		fmt.Fprintf(w, "  %s✓%s %s (%s, %d steps)\n",
			color(colorGreen), color(colorReset), def.Name, sel.Files[i], def.StepCount())
	}
	for _, err := range sel.Errors {
		fmt.Fprintf(w, "  %s✗%s %v\n", color(colorRed), color(colorReset), err)
	}
	fmt.Fprintf(w, "\n  %d valid, %d invalid, %d filtered\n", len(sel.Tests), len(sel.Errors), sel.Filtered)

	if len(sel.Errors) > 0 {
		return fmt.Errorf("validation failed:\n%w", errors.Join(sel.Errors...))
	}
	return nil
}
