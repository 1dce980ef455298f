// Package lifecycle attaches to, launches and closes the application under test.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/metrics"
	"github.com/devicelab-dev/desktop-runner/pkg/wait"
)

// Outcome of bringing the application up.
type Outcome string

const (
	Connected Outcome = "connected"
	Launched  Outcome = "launched"
	// Unmanaged means no target application is configured and nothing is
	// bound; the test drives whatever the provider exposes.
	Unmanaged Outcome = "unmanaged"
)

// CloseOutcome of shutting the application down.
type CloseOutcome string

const (
	Closed        CloseOutcome = "closed"
	AlreadyClosed CloseOutcome = "already_closed"
)

// Recovery outcome reported to metrics when Recover fails.
const RecoveryFailed = "failed"

// DefaultLaunchTimeout bounds the wait for a launched process to bind.
const DefaultLaunchTimeout = 10 * time.Second

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = metrics.OrNop(r) }
}

// WithAttempts sets how many times EnsureRunning tries before giving up.
func WithAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.attempts = n
		}
	}
}

// WithLaunchTimeout sets how long to wait for a launched process to bind.
func WithLaunchTimeout(d time.Duration) Option {
	return func(m *Manager) { m.launchTimeout = d }
}

// WithWaiter sets the coordinator used for post-launch waits.
func WithWaiter(c *wait.Coordinator) Option {
	return func(m *Manager) { m.waiter = c }
}

// Manager owns the application process of one worker. It is not shared
// between workers.
type Manager struct {
	provider      core.ProcessController
	waiter        *wait.Coordinator
	logger        *zap.Logger
	metrics       metrics.Recorder
	attempts      int
	launchTimeout time.Duration

	mu      sync.Mutex
	current *core.AppRef
}

// New creates a Manager over the provider's process controls.
func New(p core.ProcessController, opts ...Option) *Manager {
	m := &Manager{
		provider:      p,
		waiter:        wait.New(wait.DefaultInterval),
		logger:        zap.NewNop(),
		metrics:       metrics.Nop{},
		attempts:      1,
		launchTimeout: DefaultLaunchTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the process the manager last bound to.
func (m *Manager) Current() (core.AppRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return core.AppRef{}, false
	}
	return *m.current, true
}

func (m *Manager) setCurrent(ref *core.AppRef) {
	m.mu.Lock()
	m.current = ref
	m.mu.Unlock()
}

// EnsureRunning makes sure the provider is bound to a running instance of
// app. An already bound process is reused. Otherwise it attaches by bundle
// id, name and path in that order, and launches in the same order when no
// attach succeeds. Without identifiers nothing is started and Unmanaged is
// returned.
func (m *Manager) EnsureRunning(ctx context.Context, app core.TargetApp) (Outcome, error) {
	if bound, err := m.provider.IsProcessBound(ctx); err == nil && bound {
		return Connected, nil
	}
	if app.IsZero() {
		m.logger.Debug("no target application configured, nothing to start")
		return Unmanaged, nil
	}

	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		out, err := m.connect(ctx, app, app.Identifiers())
		if err == nil {
			m.logger.Info("application ready",
				zap.String("app", app.String()),
				zap.String("outcome", string(out)),
				zap.Int("attempt", attempt))
			return out, nil
		}
		if core.IsCancelled(err) {
			return "", err
		}
		lastErr = err
		m.logger.Warn("failed to start application",
			zap.String("app", app.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return "", core.ErrAppLifecycle.
		WithMessagef("failed to start %s after %d attempt(s)", app, m.attempts).
		WithCause(lastErr)
}

// Recover rebinds after the process went away: attach or launch by bundle
// id first, then by name. Path is used only when neither is configured.
func (m *Manager) Recover(ctx context.Context, app core.TargetApp) (Outcome, error) {
	m.setCurrent(nil)

	var ids []core.AppIdentifier
	for _, id := range app.Identifiers() {
		if id.By == core.ByBundleID || id.By == core.ByName {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		ids = app.Identifiers()
	}
	if len(ids) == 0 {
		m.metrics.ObserveRecovery(RecoveryFailed)
		return "", core.ErrAppLifecycle.WithMessage("no target application configured")
	}

	out, err := m.connect(ctx, app, ids)
	if err != nil {
		m.metrics.ObserveRecovery(RecoveryFailed)
		if core.IsCancelled(err) {
			return "", err
		}
		m.logger.Error("application recovery failed", zap.String("app", app.String()), zap.Error(err))
		return "", core.ErrAppLifecycle.WithMessagef("failed to recover %s", app).WithCause(err)
	}

	m.metrics.ObserveRecovery(string(out))
	m.logger.Info("application recovered", zap.String("app", app.String()), zap.String("outcome", string(out)))
	return out, nil
}

// connect tries every identifier for attach, then every identifier for launch.
func (m *Manager) connect(ctx context.Context, app core.TargetApp, ids []core.AppIdentifier) (Outcome, error) {
	var errs []error

	for _, id := range ids {
		ref, err := m.provider.Attach(ctx, id.By, id.Value)
		if err == nil {
			m.setCurrent(&ref)
			return Connected, nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return "", core.Cancelled(cerr)
		}
		errs = append(errs, fmt.Errorf("attach by %s %q: %w", id.By, id.Value, err))
	}

	for _, id := range ids {
		ref, err := m.provider.Launch(ctx, id.By, id.Value, app.LaunchArgs)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return "", core.Cancelled(cerr)
			}
			errs = append(errs, fmt.Errorf("launch by %s %q: %w", id.By, id.Value, err))
			continue
		}

		// A started process that never binds is not retried with another
		// identifier; that would start a second instance.
		if err := m.waiter.ForProcess(ctx, m.provider, m.launchTimeout); err != nil {
			if core.IsCancelled(err) {
				return "", err
			}
			return "", fmt.Errorf("launched by %s %q but the process never became ready: %w", id.By, id.Value, err)
		}
		m.setCurrent(&ref)
		return Launched, nil
	}

	return "", errors.Join(errs...)
}

// Close terminates the application if it is running.
func (m *Manager) Close(ctx context.Context, app core.TargetApp) (CloseOutcome, error) {
	bound, err := m.provider.IsProcessBound(ctx)
	if err != nil && !errors.Is(err, core.ErrProcessGone) {
		return "", core.ErrAppLifecycle.WithMessagef("failed to query %s", app).WithCause(err)
	}
	if err != nil || !bound {
		m.setCurrent(nil)
		return AlreadyClosed, nil
	}

	if err := m.provider.Terminate(ctx); err != nil {
		if errors.Is(err, core.ErrProcessGone) {
			m.setCurrent(nil)
			return AlreadyClosed, nil
		}
		return "", core.ErrAppLifecycle.WithMessagef("failed to close %s", app).WithCause(err)
	}

	m.setCurrent(nil)
	m.logger.Info("application closed", zap.String("app", app.String()))
	return Closed, nil
}
