// Package executor runs desktop tests: a work queue hands tests to workers
// and each test moves through setup, steps and teardown.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/desktop-runner/pkg/action"
	"github.com/devicelab-dev/desktop-runner/pkg/config"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
	"github.com/devicelab-dev/desktop-runner/pkg/lifecycle"
	"github.com/devicelab-dev/desktop-runner/pkg/locator"
	"github.com/devicelab-dev/desktop-runner/pkg/metrics"
	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

// RunnerConfig holds the collaborators shared by every worker.
type RunnerConfig struct {
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     metrics.Recorder
	Screenshots core.ScreenshotHook
	Hooks       Hooks
	Env         map[string]string // Variables visible to scripts as env
	RunID       string            // Generated when empty
}

// Worker owns one provider connection. Tests run on a worker one at a time.
type Worker struct {
	ID       int
	Provider core.Provider
	Apps     *lifecycle.Manager // Created from Provider when nil
	Cleanup  func()
}

// workItem is a test and its index in the input list.
type workItem struct {
	test  *flow.TestDefinition
	index int
}

// Runner executes tests across its workers.
type Runner struct {
	workers  []Worker
	config   RunnerConfig
	settings config.Settings
	logger   *zap.Logger
	metrics  metrics.Recorder
	hooks    Hooks
	shots    core.ScreenshotHook
	waiter   *wait.Coordinator
	resolver *locator.Resolver
	actions  *action.Dispatcher
}

// New creates a runner. Only the first settings.parallelism workers are used.
func New(workers []Worker, cfg RunnerConfig) (*Runner, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("no workers available")
	}
	if cfg.Config == nil {
		cfg.Config = config.Default()
	}
	if err := cfg.Config.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		config:   cfg,
		settings: cfg.Config.Settings,
		logger:   cfg.Logger,
		metrics:  metrics.OrNop(cfg.Metrics),
		hooks:    cfg.Hooks,
		shots:    cfg.Screenshots,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.hooks == nil {
		r.hooks = NopHooks{}
	}
	r.waiter = wait.New(r.settings.PollInterval.Duration())
	r.resolver = locator.New(locator.WithLogger(r.logger), locator.WithMetrics(r.metrics))
	r.actions = action.New()

	active := r.settings.Parallelism
	if active < 1 {
		active = 1
	}
	if active > len(workers) {
		active = len(workers)
	}
	for _, w := range workers[:active] {
		if w.Apps == nil {
			w.Apps = lifecycle.New(w.Provider,
				lifecycle.WithLogger(r.logger.With(zap.Int("worker", w.ID))),
				lifecycle.WithMetrics(r.metrics),
				lifecycle.WithAttempts(r.settings.RetryCount),
				lifecycle.WithLaunchTimeout(r.settings.LaunchTimeout.Duration()),
				lifecycle.WithWaiter(r.waiter),
			)
		}
		r.workers = append(r.workers, w)
	}
	return r, nil
}

// Run executes tests and returns their results in input order. When ctx is
// cancelled the in-flight tests finish their teardown, tests not yet started
// are reported as skipped and the run is marked cancelled.
func (r *Runner) Run(ctx context.Context, tests []*flow.TestDefinition) *core.RunResult {
	runID := r.config.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := r.logger.With(zap.String("run", runID))
	log.Info("run started", zap.Int("tests", len(tests)), zap.Int("workers", len(r.workers)))

	result := &core.RunResult{
		RunID:     runID,
		StartTime: time.Now(),
		Tests:     make([]core.TestResult, len(tests)),
	}

	queue := make(chan workItem, len(tests))
	for i, t := range tests {
		queue <- workItem{test: t, index: i}
	}
	close(queue)

	started := make([]bool, len(tests))

	var g errgroup.Group
	for i := range r.workers {
		w := r.workers[i]
		g.Go(func() error {
			if w.Cleanup != nil {
				defer w.Cleanup()
			}
			for item := range queue {
				if ctx.Err() != nil {
					continue
				}
				// Each index is written by exactly one worker.
				started[item.index] = true
				tr := r.testRunner(runID, w, item.test, log)
				result.Tests[item.index] = tr.Run(ctx)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range tests {
		if !started[i] {
			result.Tests[i] = skippedTest(t, "run cancelled before test started")
		}
	}

	result.Cancelled = ctx.Err() != nil
	result.Duration = time.Since(result.StartTime)
	result.ComputeSummary()

	log.Info("run finished",
		zap.Int("passed", result.PassedTests),
		zap.Int("failed", result.FailedTests),
		zap.Int("errored", result.ErroredTests),
		zap.Int("skipped", result.SkippedTests),
		zap.Bool("cancelled", result.Cancelled),
		zap.Duration("duration", result.Duration))
	return result
}

func (r *Runner) testRunner(runID string, w Worker, test *flow.TestDefinition, log *zap.Logger) *TestRunner {
	return &TestRunner{
		runID:    runID,
		worker:   w,
		test:     test,
		cfg:      r.config.Config,
		settings: r.settings,
		env:      r.config.Env,
		logger:   log.With(zap.Int("worker", w.ID), zap.String("test", test.Name)),
		metrics:  r.metrics,
		hooks:    r.hooks,
		shots:    r.shots,
		waiter:   r.waiter,
		resolver: r.resolver,
		actions:  r.actions,
	}
}

// skippedTest reports a test that never started.
func skippedTest(t *flow.TestDefinition, reason string) core.TestResult {
	tr := core.TestResult{
		Name:     t.Name,
		FilePath: t.SourcePath,
		Tags:     t.Tags,
		Worker:   -1,
		Status:   core.StatusSkipped,
		Error:    reason,
		Phases:   []string{StateIdle.String()},
	}
	for _, phase := range flow.Phases {
		for i := range t.StepsIn(phase) {
			tr.Append(skippedStep(phase, &t.StepsIn(phase)[i], reason))
		}
	}
	tr.ComputeSummary()
	return tr
}
