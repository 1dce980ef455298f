package wait

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
	"github.com/devicelab-dev/desktop-runner/pkg/locator"
)

// ForElement waits until target resolves and returns the resolution.
// A process-gone error ends the wait immediately.
func (c *Coordinator) ForElement(ctx context.Context, r *locator.Resolver, p core.Provider, target flow.Target, timeout time.Duration) (*locator.Resolution, error) {
	var res *locator.Resolution
	err := c.Await(ctx, func(ctx context.Context) (bool, string, error) {
		got, err := r.Resolve(ctx, target, p)
		if err != nil {
			if errors.Is(err, core.ErrProcessGone) {
				return false, "", Stop(err)
			}
			return false, "not found: " + target.Describe(), err
		}
		res = got
		return true, "", nil
	}, timeout)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ForElementGone waits until target no longer resolves.
func (c *Coordinator) ForElementGone(ctx context.Context, r *locator.Resolver, p core.Provider, target flow.Target, timeout time.Duration) error {
	return c.Await(ctx, func(ctx context.Context) (bool, string, error) {
		got, err := r.Resolve(ctx, target, p)
		switch {
		case err == nil:
			return false, fmt.Sprintf("still present: %s (entry %d)", got.Element.Ref(), got.Entry), nil
		case errors.Is(err, core.ErrElementNotFound):
			return true, "", nil
		case errors.Is(err, core.ErrProcessGone):
			return false, "", Stop(err)
		default:
			return false, "", err
		}
	}, timeout)
}

// ForWindow waits until a top-level window whose title contains title
// (case-insensitive) exists.
func (c *Coordinator) ForWindow(ctx context.Context, p core.Provider, title string, timeout time.Duration) (core.Window, error) {
	var found core.Window
	want := strings.ToLower(title)
	err := c.Await(ctx, func(ctx context.Context) (bool, string, error) {
		windows, err := p.ListWindows(ctx)
		if err != nil {
			if errors.Is(err, core.ErrProcessGone) {
				return false, "", Stop(err)
			}
			return false, "", err
		}
		titles := make([]string, 0, len(windows))
		for _, w := range windows {
			if strings.Contains(strings.ToLower(w.Title), want) {
				found = w
				return true, "", nil
			}
			titles = append(titles, fmt.Sprintf("%q", w.Title))
		}
		return false, "windows: [" + strings.Join(titles, ", ") + "]", nil
	}, timeout)
	return found, err
}

// ForProcess waits until the provider reports the application bound.
func (c *Coordinator) ForProcess(ctx context.Context, p core.ProcessController, timeout time.Duration) error {
	return c.Await(ctx, func(ctx context.Context) (bool, string, error) {
		ok, err := p.IsProcessBound(ctx)
		if err != nil {
			return false, "", err
		}
		return ok, "process not bound", nil
	}, timeout)
}
