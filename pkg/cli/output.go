package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/executor"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Steps slower than this are flagged in the live output.
const slowThreshold = 5 * time.Second

var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// formatDuration formats a duration for humans: milliseconds below one
// second, tenths of seconds below a minute.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

// statusLabel returns the table label and color for a status.
func statusLabel(s core.StepStatus) (string, string) {
	switch s {
	case core.StatusPassed:
		return "✓ PASS", colorGreen
	case core.StatusFailed:
		return "✗ FAIL", colorRed
	case core.StatusErrored:
		return "! ERR", colorRed
	case core.StatusSkipped:
		return "- SKIP", colorCyan
	default:
		return strings.ToUpper(s.String()), colorGray
	}
}

// consoleReporter prints each test once it finishes. Tests run in parallel,
// so output is written per test under a lock.
type consoleReporter struct {
	executor.NopHooks

	mu    sync.Mutex
	w     io.Writer
	total int
	done  int
}

func newConsoleReporter(w io.Writer, total int) *consoleReporter {
	return &consoleReporter{w: w, total: total}
}

func (r *consoleReporter) AfterTest(_ context.Context, test *flow.TestDefinition, res *core.TestResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.done++
	fmt.Fprintf(r.w, "\n  %s[%d/%d]%s %s%s%s (%s)\n",
		color(colorCyan), r.done, r.total, color(colorReset),
		color(colorBold), test.Name, color(colorReset), test.SourcePath)
	fmt.Fprintln(r.w, strings.Repeat("─", 60))

	var phase flow.Phase
	for _, sr := range res.Steps {
		if sr.Phase != phase {
			phase = sr.Phase
			fmt.Fprintf(r.w, "  %s%s%s\n", color(colorGray), phase, color(colorReset))
		}
		r.printStep(sr)
	}

	label, c := statusLabel(res.Status)
	fmt.Fprintf(r.w, "%s%s%s %s %s%s%s\n",
		color(c), label, color(colorReset), test.Name,
		color(colorGray), formatDuration(res.Duration), color(colorReset))
	if res.Error != "" && res.Status != core.StatusPassed {
		fmt.Fprintf(r.w, "  %s╰─%s %s\n", color(colorGray), color(colorReset), res.Error)
	}
	return nil
}

func (r *consoleReporter) printStep(sr core.StepResult) {
	desc := sr.Description
	if desc == "" {
		desc = sr.StepID
	}
	dur := formatDuration(sr.Duration)

	switch sr.Status {
	case core.StatusPassed:
		symbol, symbolColor, durColor := "✓", colorGreen, ""
		if sr.Duration >= slowThreshold {
			symbol, symbolColor, durColor = "⚠", colorYellow, colorYellow
		}
		fmt.Fprintf(r.w, "    %s%s%s %s %s(%s)%s\n",
			color(symbolColor), symbol, color(colorReset), desc, color(durColor), dur, color(colorReset))
	case core.StatusSkipped:
		fmt.Fprintf(r.w, "    %s-%s %s\n", color(colorCyan), color(colorReset), desc)
	default:
		fmt.Fprintf(r.w, "    %s✗%s %s (%s)\n", color(colorRed), color(colorReset), desc, dur)
		if sr.Error != "" {
			fmt.Fprintf(r.w, "      %s╰─%s %s\n", color(colorGray), color(colorReset), sr.Error)
		}
	}
}

func printSummary(w io.Writer, result *core.RunResult) {
	var passed, failed, errored, skipped int
	for _, t := range result.Tests {
		passed += t.PassedSteps
		failed += t.FailedSteps
		errored += t.ErroredSteps
		skipped += t.SkippedSteps
	}

	fmt.Fprintln(w)
	if passed > 0 {
		fmt.Fprintf(w, "  %s%d steps passing%s (%s)\n", color(colorGreen), passed, color(colorReset), formatDuration(result.Duration))
	}
	if failed > 0 {
		fmt.Fprintf(w, "  %s%d steps failing%s\n", color(colorRed), failed, color(colorReset))
	}
	if errored > 0 {
		fmt.Fprintf(w, "  %s%d steps errored%s\n", color(colorRed), errored, color(colorReset))
	}
	if skipped > 0 {
		fmt.Fprintf(w, "  %s%d steps skipped%s\n", color(colorCyan), skipped, color(colorReset))
	}
	if result.Cancelled {
		fmt.Fprintf(w, "  %srun cancelled%s\n", color(colorYellow), color(colorReset))
	}
	fmt.Fprintln(w)

	tableWidth := 92
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
	fmt.Fprintf(w, "  %-42s %6s %7s %6s %6s %6s %10s\n", "Test", "Status", "Steps", "Pass", "Fail", "Skip", "Duration")
	fmt.Fprintln(w, strings.Repeat("─", tableWidth))

	for _, t := range result.Tests {
		label, c := statusLabel(t.Status)
		name := t.Name
		if len(name) > 42 {
			name = name[:39] + "..."
		}
		fmt.Fprintf(w, "  %-42s %s%6s%s %7d %6d %6d %6d %10s\n",
			name, color(c), label, color(colorReset),
			t.TotalSteps, t.PassedSteps, t.FailedSteps+t.ErroredSteps, t.SkippedSteps,
			formatDuration(t.Duration))
	}

	fmt.Fprintln(w, strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", result.PassedTests, result.TotalTests)
	statusColor := colorGreen
	if !result.Success() {
		statusColor = colorRed
	}
	total := passed + failed + errored + skipped
	fmt.Fprintf(w, "  %s%-42s%s %s%6s%s %7d %6d %6d %6d %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		color(statusColor), statusStr, color(colorReset),
		total, passed, failed+errored, skipped,
		formatDuration(result.Duration))
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
}

// resolveOutputDir determines the report directory.
// - No --output: <reports>/<timestamp>/
// - --output given: <output>/<timestamp>/
// - --output + --flatten: <output>/
func resolveOutputDir(reports, output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = reports
	}
	if baseDir == "" {
		baseDir = "./reports"
	}

	if flatten {
		return filepath.Clean(baseDir), nil
	}
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(baseDir, timestamp), nil
}

// writeResult writes the run result as result.json in dir.
func writeResult(dir string, result *core.RunResult) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	path := filepath.Join(dir, "result.json")
	if err := os.WriteFile(path, data, 0o644); err != nil { //#nosec G306 -- report file
		return "", fmt.Errorf("failed to write result: %w", err)
	}
	return path, nil
}
