package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/desktop-runner/pkg/action"
	"github.com/devicelab-dev/desktop-runner/pkg/config"
	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
	"github.com/devicelab-dev/desktop-runner/pkg/jsengine"
	"github.com/devicelab-dev/desktop-runner/pkg/locator"
	"github.com/devicelab-dev/desktop-runner/pkg/metrics"
	"github.com/devicelab-dev/desktop-runner/pkg/runctx"
	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

// State is a phase of the test state machine.
type State int

const (
	StateIdle State = iota
	StateSetup
	StateSteps
	StateTeardown
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSetup:
		return "setup"
	case StateSteps:
		return "steps"
	case StateTeardown:
		return "teardown"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TestRunner executes a single test on one worker.
type TestRunner struct {
	runID    string
	worker   Worker
	test     *flow.TestDefinition
	cfg      *config.Config
	settings config.Settings
	env      map[string]string
	logger   *zap.Logger
	metrics  metrics.Recorder
	hooks    Hooks
	shots    core.ScreenshotHook
	waiter   *wait.Coordinator
	resolver *locator.Resolver
	actions  *action.Dispatcher

	rc     *runctx.RunContext
	script *jsengine.Engine
	state  State
	result core.TestResult
}

// Run executes the test and returns its result. The test definition is
// never modified.
func (tr *TestRunner) Run(ctx context.Context) core.TestResult {
	tr.result = core.TestResult{
		Name:      tr.test.Name,
		FilePath:  tr.test.SourcePath,
		Tags:      tr.test.Tags,
		Worker:    tr.worker.ID,
		Status:    core.StatusPassed,
		StartTime: time.Now(),
	}
	tr.enter(StateIdle)

	tr.rc = &runctx.RunContext{
		RunID:    tr.runID,
		Worker:   tr.worker.ID,
		Provider: tr.worker.Provider,
		Resolver: tr.resolver,
		Waiter:   tr.waiter,
		Apps:     tr.worker.Apps,
		App:      tr.cfg.TargetApp,
		Settings: tr.settings,
		Test:     tr.test,
		Logger:   tr.logger,
		Metrics:  tr.metrics,
	}
	tr.script = newScriptEngine(tr.rc, tr.env)
	tr.rc.Scripts = tr.script
	defer tr.script.Close()

	guard(tr.logger, "before_test", func() error { return tr.hooks.BeforeTest(ctx, tr.test) })
	tr.logger.Info("test started")

	tr.runBody(ctx)
	tr.runTeardown(ctx)

	if tr.state != StateAborted {
		tr.enter(StateDone)
	}

	tr.result.Duration = time.Since(tr.result.StartTime)
	tr.result.ComputeSummary()
	tr.metrics.ObserveTest(tr.result.Status, tr.result.Duration)

	fields := []zap.Field{
		zap.Stringer("status", tr.result.Status),
		zap.Duration("duration", tr.result.Duration),
		zap.Int("passed", tr.result.PassedSteps),
		zap.Int("failed", tr.result.FailedSteps+tr.result.ErroredSteps),
		zap.Int("skipped", tr.result.SkippedSteps),
	}
	if tr.result.Status.IsFailure() {
		tr.logger.Warn("test finished", append(fields, zap.String("error", tr.result.Error))...)
	} else {
		tr.logger.Info("test finished", fields...)
	}

	guard(tr.logger, "after_test", func() error { return tr.hooks.AfterTest(ctx, tr.test, &tr.result) })
	return tr.result
}

// runBody connects to the application, then runs setup and steps.
func (tr *TestRunner) runBody(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		tr.abort(flow.PhaseSetup, 0, "run cancelled")
		return
	}

	outcome, err := tr.worker.Apps.EnsureRunning(ctx, tr.cfg.TargetApp)
	if err != nil {
		if core.IsCancelled(err) {
			tr.abort(flow.PhaseSetup, 0, "run cancelled")
			return
		}
		tr.result.Status = core.StatusErrored
		tr.result.Error = err.Error()
		tr.logger.Warn("application unavailable", zap.Error(err))
		tr.skipFrom(flow.PhaseSetup, 0, "application unavailable")
		tr.skipFrom(flow.PhaseSteps, 0, "application unavailable")
		return
	}
	tr.logger.Debug("application ready", zap.String("outcome", string(outcome)))

	// Setup: the first failure aborts the rest of setup and all steps.
	tr.enter(StateSetup)
	for i := range tr.test.Setup {
		if ctx.Err() != nil {
			tr.abort(flow.PhaseSetup, i, "run cancelled")
			return
		}
		step := &tr.test.Setup[i]
		sr := tr.runStep(ctx, flow.PhaseSetup, step)
		if ctx.Err() != nil {
			tr.abort(flow.PhaseSetup, i+1, "run cancelled")
			return
		}
		if sr.Status.IsFailure() {
			tr.result.Status = core.StatusErrored
			tr.result.Error = fmt.Sprintf("setup step %s failed: %s", step.ID, sr.Error)
			reason := fmt.Sprintf("setup step %s failed", step.ID)
			tr.skipFrom(flow.PhaseSetup, i+1, reason)
			tr.skipFrom(flow.PhaseSteps, 0, reason)
			return
		}
	}

	tr.enter(StateSteps)
	for i := range tr.test.Steps {
		if ctx.Err() != nil {
			tr.abort(flow.PhaseSteps, i, "run cancelled")
			return
		}
		step := &tr.test.Steps[i]
		sr := tr.runStep(ctx, flow.PhaseSteps, step)
		if ctx.Err() != nil {
			tr.abort(flow.PhaseSteps, i+1, "run cancelled")
			return
		}
		if !sr.Status.IsFailure() {
			continue
		}
		tr.recordFailure(sr)
		if !tr.test.ContinueOnFailureFor(step) {
			tr.skipFrom(flow.PhaseSteps, i+1, fmt.Sprintf("step %s failed", step.ID))
			return
		}
	}
}

// recordFailure folds a failed or errored step into the test status. The
// first failure supplies the test error.
func (tr *TestRunner) recordFailure(sr core.StepResult) {
	if tr.result.Error == "" {
		tr.result.Error = fmt.Sprintf("step %s %s: %s", sr.StepID, sr.Status, sr.Error)
	}
	if sr.Status == core.StatusErrored {
		tr.result.Status = core.StatusErrored
	} else if tr.result.Status == core.StatusPassed {
		tr.result.Status = core.StatusFailed
	}
}

// abort marks the remaining setup and steps skipped and ends the test as
// cancelled. Teardown still runs.
func (tr *TestRunner) abort(phase flow.Phase, from int, reason string) {
	tr.skipFrom(phase, from, reason)
	if phase == flow.PhaseSetup {
		tr.skipFrom(flow.PhaseSteps, 0, reason)
	}
	if tr.result.Status != core.StatusFailed {
		tr.result.Status = core.StatusErrored
	}
	if tr.result.Error == "" {
		tr.result.Error = reason
	}
	tr.state = StateAborted
}

// runTeardown runs every teardown step regardless of earlier outcomes.
func (tr *TestRunner) runTeardown(ctx context.Context) {
	aborted := tr.state == StateAborted
	tr.enter(StateTeardown)

	tctx, cancel := withGrace(ctx, tr.settings.TeardownGrace.Duration())
	defer cancel()

	var failed *core.StepResult
	for i := range tr.test.Teardown {
		sr := tr.runStep(tctx, flow.PhaseTeardown, &tr.test.Teardown[i])
		if sr.Status.IsFailure() && failed == nil {
			failed = &sr
		}
	}

	if failed != nil {
		tr.logger.Warn("teardown failed",
			zap.String("step", failed.StepID),
			zap.String("policy", string(tr.settings.TeardownPolicy)))
		if tr.settings.TeardownPolicy == config.TeardownFail && tr.result.Status == core.StatusPassed {
			tr.result.Status = core.StatusFailed
			tr.result.Error = fmt.Sprintf("teardown step %s failed: %s", failed.StepID, failed.Error)
		}
	}
	if aborted {
		tr.state = StateAborted
		tr.result.Phases = append(tr.result.Phases, StateAborted.String())
	}
}

// withGrace returns a context that ignores ctx's cancellation until grace
// has passed since ctx was cancelled.
func withGrace(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var mu sync.Mutex
	var timer *time.Timer
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		timer = time.AfterFunc(grace, cancel)
	})

	return detached, func() {
		stop()
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		cancel()
	}
}

// runStep executes one step and records its result.
func (tr *TestRunner) runStep(ctx context.Context, phase flow.Phase, step *flow.StepDefinition) core.StepResult {
	tr.rc.BeginStep()
	guard(tr.logger, "before_step", func() error { return tr.hooks.BeforeStep(ctx, tr.test, phase, step) })

	sr := core.StepResult{
		StepID:      step.ID,
		Phase:       phase,
		Action:      step.Action,
		Description: step.Describe(),
		StartTime:   time.Now(),
	}

	result := tr.execute(ctx, step)
	sr.Duration = time.Since(sr.StartTime)
	sr.Actual = result.Actual
	switch {
	case result.Error != nil:
		sr.Status = core.StatusFor(result.Error)
		sr.Category = core.CategoryOf(result.Error)
		sr.ErrorCode = core.CodeOf(result.Error)
		sr.Error = result.Error.Error()
	case !result.Success:
		sr.Status = core.StatusFailed
		sr.Error = result.Message
	default:
		sr.Status = core.StatusPassed
	}
	stats := tr.rc.Stats()
	sr.Attempts = stats.Attempts
	sr.Recovered = stats.Recovered

	tr.metrics.ObserveStep(phase, step.Action, sr.Status, sr.Duration)
	tr.capture(ctx, step, &sr)

	log := tr.logger.With(zap.String("phase", string(phase)), zap.String("step", step.ID))
	if sr.Status.IsFailure() {
		log.Warn("step failed", zap.Stringer("status", sr.Status), zap.String("error", sr.Error))
	} else {
		log.Debug("step passed", zap.Duration("duration", sr.Duration))
	}

	tr.result.Append(sr)
	guard(tr.logger, "after_step", func() error { return tr.hooks.AfterStep(ctx, tr.test, &sr) })

	if d := tr.settings.SlowModeDelay.Duration(); d > 0 {
		_ = wait.Sleep(ctx, d)
	}
	return sr
}

// execute validates, expands and dispatches a step.
func (tr *TestRunner) execute(ctx context.Context, step *flow.StepDefinition) *core.CommandResult {
	if err := step.Validate(); err != nil {
		return core.Fail(core.ErrInvalidStep.WithMessagef("step %s: %v", step.ID, err).WithCause(err))
	}
	expanded, err := expandStep(ctx, tr.script, step)
	if err != nil {
		return core.Fail(err)
	}
	return tr.actions.Execute(ctx, tr.rc, expanded)
}

// capture requests a screenshot when the artifact settings ask for one.
// Capture failures are logged and never change the step status.
func (tr *TestRunner) capture(ctx context.Context, step *flow.StepDefinition, sr *core.StepResult) {
	if tr.shots == nil {
		return
	}
	if !tr.settings.ArtifactConfig().ShouldCapture(sr.Status, step.Screenshot) {
		return
	}

	req := core.ScreenshotRequest{
		RunID:    tr.runID,
		Worker:   tr.worker.ID,
		TestName: tr.test.Name,
		StepID:   sr.StepID,
		Phase:    sr.Phase,
		Status:   sr.Status,
	}
	var ref string
	guard(tr.logger, "screenshot", func() error {
		var err error
		ref, err = tr.shots.Capture(context.WithoutCancel(ctx), req)
		return err
	})
	sr.Screenshot = ref
}

// skipFrom records a skipped result for each step of phase from index on.
func (tr *TestRunner) skipFrom(phase flow.Phase, from int, reason string) {
	steps := tr.test.StepsIn(phase)
	for i := from; i < len(steps); i++ {
		sr := skippedStep(phase, &steps[i], reason)
		tr.result.Append(sr)
		tr.metrics.ObserveStep(phase, steps[i].Action, core.StatusSkipped, 0)
	}
}

func skippedStep(phase flow.Phase, step *flow.StepDefinition, reason string) core.StepResult {
	return core.StepResult{
		StepID:      step.ID,
		Phase:       phase,
		Action:      step.Action,
		Description: step.Describe(),
		Status:      core.StatusSkipped,
		Error:       "skipped: " + reason,
	}
}

func (tr *TestRunner) enter(s State) {
	tr.state = s
	tr.result.Phases = append(tr.result.Phases, s.String())
}
