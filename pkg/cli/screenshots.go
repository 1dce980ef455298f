package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// screenshotWriter captures from the provider of the worker that ran the
// step and writes <dir>/<run>/<test>/<phase>_<step>.png.
type screenshotWriter struct {
	dir       string
	capturers map[int]core.ScreenCapturer
}

func newScreenshotWriter(dir string) *screenshotWriter {
	return &screenshotWriter{dir: dir, capturers: make(map[int]core.ScreenCapturer)}
}

// register adds p when it can capture the screen.
func (s *screenshotWriter) register(worker int, p core.Provider) {
	if c, ok := p.(core.ScreenCapturer); ok {
		s.capturers[worker] = c
	}
}

func (s *screenshotWriter) Capture(ctx context.Context, req core.ScreenshotRequest) (string, error) {
	c, ok := s.capturers[req.Worker]
	if !ok {
		return "", fmt.Errorf("worker %d cannot capture screenshots", req.Worker)
	}
	data, err := c.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("screenshot failed: %w", err)
	}

	dir := filepath.Join(s.dir, safeName(req.RunID), safeName(req.TestName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", req.Phase, safeName(req.StepID)))
	if err := os.WriteFile(path, data, 0o644); err != nil { //#nosec G306 -- artifact file
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}

// safeName replaces characters that are awkward in file names.
func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
