// Package locator resolves target descriptors to elements of the
// accessibility tree, walking fallback chains in declared order.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
	"github.com/devicelab-dev/desktop-runner/pkg/metrics"
)

// Resolution is a successful resolution.
type Resolution struct {
	Element    core.ElementHandle
	Entry      int         // Chain position that matched; 0 is the primary descriptor
	Descriptor flow.Target // The descriptor that matched
}

// Attempt records why one chain entry did not resolve.
type Attempt struct {
	Descriptor string `json:"descriptor"`
	Error      string `json:"error"`
}

// Resolver maps targets to elements. It performs exactly one query per chain
// entry and never retries; retries are layered on top by the wait package.
type Resolver struct {
	logger  *zap.Logger
	metrics metrics.Recorder
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{logger: zap.NewNop(), metrics: metrics.Nop{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve tries the primary descriptor, then each fallback in order, and
// returns the first element found. An error wrapping core.ErrProcessGone
// stops the walk immediately. When every entry fails the error is
// core.ErrElementNotFound with the per-entry attempts in its details.
func (r *Resolver) Resolve(ctx context.Context, target flow.Target, p core.Provider) (*Resolution, error) {
	var attempts []Attempt
	for i, d := range target.Chain() {
		matches, err := r.query(ctx, d, p)
		if err == nil && len(matches) == 0 {
			err = errors.New("no match")
		}
		if err == nil {
			idx := d.MatchIndex()
			if idx >= len(matches) {
				err = fmt.Errorf("index %d out of range (%d matches)", idx, len(matches))
			} else {
				r.metrics.ObserveResolution(d.Type, i)
				if i > 0 {
					r.logger.Debug("resolved via fallback",
						zap.String("target", target.Describe()),
						zap.Int("entry", i),
						zap.String("descriptor", d.Describe()))
				}
				return &Resolution{Element: matches[idx], Entry: i, Descriptor: d}, nil
			}
		}
		if errors.Is(err, core.ErrProcessGone) || core.IsCancelled(err) {
			return nil, err
		}
		attempts = append(attempts, Attempt{Descriptor: d.Describe(), Error: err.Error()})
	}
	return nil, notFound(target, attempts)
}

// ResolveAll returns every match of the first chain entry that matches
// anything. It returns an empty slice, not an error, when nothing matches.
func (r *Resolver) ResolveAll(ctx context.Context, target flow.Target, p core.Provider) ([]core.ElementHandle, error) {
	var lastErr error
	for i, d := range target.Chain() {
		matches, err := r.query(ctx, d, p)
		if errors.Is(err, core.ErrProcessGone) || core.IsCancelled(err) {
			return nil, err
		}
		if err != nil {
			lastErr = err
			continue
		}
		if len(matches) > 0 {
			r.metrics.ObserveResolution(d.Type, i)
			return matches, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

// query runs the provider query for one descriptor and applies its role filter.
func (r *Resolver) query(ctx context.Context, d flow.Target, p core.Provider) ([]core.ElementHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.Cancelled(err)
	}

	var (
		matches    []core.ElementHandle
		err        error
		filterRole bool
	)
	switch d.Type {
	case flow.LocatorAccessibilityID:
		matches, err = p.FindByID(ctx, d.Value)
		filterRole = true
	case flow.LocatorRoleLabel:
		matches, err = p.FindByRoleLabel(ctx, d.Role, d.Value)
	case flow.LocatorRoleTitle:
		matches, err = p.FindByRoleTitle(ctx, d.Role, d.Value)
	case flow.LocatorTextContent:
		matches, err = p.FindByText(ctx, d.Value)
		filterRole = true
	case flow.LocatorPath:
		matches, err = p.FindByPath(ctx, d.Value)
	case flow.LocatorCoordinate:
		x, y, perr := d.Point()
		if perr != nil {
			return nil, core.ErrInvalidStep.WithCause(perr)
		}
		matches, err = p.FindAtPoint(ctx, x, y)
	default:
		return nil, core.ErrInvalidStep.WithMessagef("unknown locator type %q", d.Type)
	}
	if err != nil {
		return nil, err
	}
	if filterRole && d.Role != "" {
		return filterByRole(ctx, p, matches, d.Role)
	}
	return matches, nil
}

func filterByRole(ctx context.Context, p core.Provider, matches []core.ElementHandle, role string) ([]core.ElementHandle, error) {
	var out []core.ElementHandle
	for _, m := range matches {
		got, err := p.ReadRole(ctx, m)
		if err != nil {
			if errors.Is(err, core.ErrProcessGone) {
				return nil, err
			}
			continue
		}
		if strings.EqualFold(got, role) {
			out = append(out, m)
		}
	}
	return out, nil
}

func notFound(target flow.Target, attempts []Attempt) error {
	parts := make([]string, len(attempts))
	for i, a := range attempts {
		parts[i] = fmt.Sprintf("%s: %s", a.Descriptor, a.Error)
	}
	return core.ErrElementNotFound.
		WithMessagef("element not found: %s", strings.Join(parts, "; ")).
		WithDetails(map[string]interface{}{
			"target":   target.Describe(),
			"attempts": attempts,
		})
}
