// Package wait polls predicates until they hold, a timeout elapses, or the
// context ends.
package wait

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// Poll interval bounds.
const (
	MinInterval     = 100 * time.Millisecond
	MaxInterval     = 250 * time.Millisecond
	DefaultInterval = 200 * time.Millisecond
)

// Predicate is evaluated once per poll. observed describes the state seen,
// for diagnostics. A non-nil err is recorded and polling continues, unless
// it was produced by Stop.
type Predicate func(ctx context.Context) (ok bool, observed string, err error)

// TimeoutError reports a wait that did not succeed in time.
type TimeoutError struct {
	Elapsed      time.Duration
	Timeout      time.Duration
	Attempts     int
	LastObserved string
	LastErr      error
}

func (e *TimeoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "timed out after %s (timeout %s, %d attempts)",
		e.Elapsed.Round(time.Millisecond), e.Timeout, e.Attempts)
	if e.LastObserved != "" {
		fmt.Fprintf(&b, "; last observed: %s", e.LastObserved)
	}
	if e.LastErr != nil {
		fmt.Fprintf(&b, "; last error: %v", e.LastErr)
	}
	return b.String()
}

// Unwrap exposes core.ErrTimeout and the last predicate error.
func (e *TimeoutError) Unwrap() []error {
	if e.LastErr == nil {
		return []error{core.ErrTimeout}
	}
	return []error{core.ErrTimeout, e.LastErr}
}

type stopError struct {
	err error
}

func (s *stopError) Error() string { return s.err.Error() }
func (s *stopError) Unwrap() error { return s.err }

// Stop wraps err so that Await returns it immediately instead of polling on.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Coordinator runs waits with a fixed poll interval.
type Coordinator struct {
	interval time.Duration
}

// New creates a Coordinator. The interval is clamped to
// [MinInterval, MaxInterval]; zero selects DefaultInterval.
func New(interval time.Duration) *Coordinator {
	return &Coordinator{interval: ClampInterval(interval)}
}

// ClampInterval applies the poll interval bounds.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	default:
		return d
	}
}

// Interval returns the configured poll interval.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Await evaluates pred until it succeeds or timeout elapses. The predicate
// runs at least once, and once more at the deadline, so a zero timeout is
// a single attempt. It never returns a timeout before timeout has elapsed.
// Cancellation of ctx returns an error wrapping core.ErrCancelled.
func (c *Coordinator) Await(ctx context.Context, pred Predicate, timeout time.Duration) error {
	return c.AwaitInterval(ctx, pred, timeout, c.interval)
}

// AwaitInterval is Await with an explicit (clamped) poll interval.
func (c *Coordinator) AwaitInterval(ctx context.Context, pred Predicate, timeout, interval time.Duration) error {
	interval = ClampInterval(interval)
	start := time.Now()

	var (
		lastObserved string
		lastErr      error
	)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return core.Cancelled(err)
		}

		ok, observed, err := pred(ctx)
		if ok {
			return nil
		}
		var stop *stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		if core.IsCancelled(err) {
			return err
		}
		if observed != "" {
			lastObserved = observed
		}
		if err != nil {
			lastErr = err
		}

		elapsed := time.Since(start)
		if elapsed >= timeout {
			return &TimeoutError{
				Elapsed:      elapsed,
				Timeout:      timeout,
				Attempts:     attempt,
				LastObserved: lastObserved,
				LastErr:      lastErr,
			}
		}

		sleep := interval
		if remaining := timeout - elapsed; remaining < sleep {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return core.Cancelled(ctx.Err())
		case <-timer.C:
		}
	}
}

// Sleep pauses for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return core.Cancelled(ctx.Err())
	case <-timer.C:
		return nil
	}
}
