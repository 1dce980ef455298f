package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/driver/mock"
	"github.com/devicelab-dev/desktop-runner/pkg/driver/webdriver"
	"github.com/devicelab-dev/desktop-runner/pkg/executor"
)

// Provider names accepted by --provider.
const (
	providerAppium = "appium"
	providerMock   = "mock"
)

// providerOptions selects and configures the accessibility provider.
type providerOptions struct {
	Name      string
	AppiumURL string
	CapsFile  string
	MockTree  string
	App       core.TargetApp
}

// buildWorkers creates n workers, each with its own provider connection.
// On error every provider created so far is released.
func buildWorkers(ctx context.Context, opts providerOptions, n int, log *zap.Logger) ([]executor.Worker, error) {
	var workers []executor.Worker
	release := func() {
		for _, w := range workers {
			if w.Cleanup != nil {
				w.Cleanup()
			}
		}
	}

	switch opts.Name {
	case providerMock:
		if opts.MockTree == "" {
			return nil, fmt.Errorf("--mock-tree is required with --provider mock")
		}
		// Each worker gets its own copy of the tree.
		for i := 0; i < n; i++ {
			tree, err := mock.LoadConfig(opts.MockTree)
			if err != nil {
				return nil, err
			}
			if tree.BundleID == "" && tree.Name == "" && tree.Path == "" {
				tree.BundleID, tree.Name, tree.Path = opts.App.BundleID, opts.App.Name, opts.App.Path
			}
			workers = append(workers, executor.Worker{ID: i, Provider: mock.New(tree)})
		}
		return workers, nil

	case providerAppium, "":
		var caps map[string]interface{}
		if opts.CapsFile != "" {
			var err error
			if caps, err = loadCapabilities(opts.CapsFile); err != nil {
				return nil, err
			}
		}
		for i := 0; i < n; i++ {
			wlog := log.With(zap.Int("worker", i))
			p, err := webdriver.New(ctx, opts.AppiumURL,
				webdriver.WithCapabilities(caps),
				webdriver.WithLogger(wlog.Named("webdriver")))
			if err != nil {
				release()
				return nil, fmt.Errorf("worker %d: failed to create session at %s: %w", i, opts.AppiumURL, err)
			}
			workers = append(workers, executor.Worker{
				ID:       i,
				Provider: p,
				Cleanup: func() {
					cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if err := p.Close(cctx); err != nil {
						wlog.Warn("failed to close session", zap.Error(err))
					}
				},
			})
		}
		return workers, nil

	default:
		return nil, fmt.Errorf("unknown provider %q (want %s or %s)", opts.Name, providerAppium, providerMock)
	}
}

// loadCapabilities loads session capabilities from a JSON file.
func loadCapabilities(capsFile string) (map[string]interface{}, error) {
	data, err := os.ReadFile(capsFile) //#nosec G304 -- user-provided caps file
	if err != nil {
		return nil, fmt.Errorf("failed to read caps file: %w", err)
	}

	var caps map[string]interface{}
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("failed to parse caps JSON: %w", err)
	}
	return caps, nil
}
