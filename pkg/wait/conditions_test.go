package wait

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/driver/mock"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
	"github.com/devicelab-dev/desktop-runner/pkg/locator"
)

func boundProvider(t *testing.T) *mock.Provider {
	t.Helper()
	p := mock.New(mock.Config{
		BundleID: "com.example.app",
		Running:  true,
		Windows: []*mock.Node{{
			Role:  "window",
			Title: "Main Window",
			Children: []*mock.Node{
				{ID: "spinner", Role: "progress_indicator"},
			},
		}},
	})
	_, err := p.Attach(context.Background(), core.ByBundleID, "com.example.app")
	require.NoError(t, err)
	return p
}

func TestForElement_AppearsLater(t *testing.T) {
	p := boundProvider(t)
	p.BeforeQuery = func(p *mock.Provider, n int) {
		if n == 3 {
			p.AddWindow(&mock.Node{Role: "window", Title: "Done", Children: []*mock.Node{{ID: "result", Role: "static_text"}}})
		}
	}

	res, err := New(MinInterval).ForElement(context.Background(), locator.New(), p,
		flow.Target{Type: flow.LocatorAccessibilityID, Value: "result"}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "result", res.Element.Ref())
	assert.Equal(t, 3, p.Queries())
}

func TestForElement_TimeoutCarriesNotFound(t *testing.T) {
	p := boundProvider(t)
	_, err := New(MinInterval).ForElement(context.Background(), locator.New(), p,
		flow.Target{Type: flow.LocatorAccessibilityID, Value: "never"}, 250*time.Millisecond)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.True(t, errors.Is(err, core.ErrElementNotFound), "last error is kept for diagnostics")
	assert.Contains(t, te.LastObserved, "never")
}

func TestForElement_ProcessGoneStops(t *testing.T) {
	p := boundProvider(t)
	p.Kill()
	start := time.Now()
	_, err := New(0).ForElement(context.Background(), locator.New(), p,
		flow.Target{Type: flow.LocatorAccessibilityID, Value: "spinner"}, 5*time.Second)
	assert.True(t, errors.Is(err, core.ErrProcessGone))
	assert.Less(t, time.Since(start), time.Second)
}

func TestForElementGone(t *testing.T) {
	p := boundProvider(t)
	p.BeforeQuery = func(p *mock.Provider, n int) {
		if n == 2 {
			p.Remove("spinner")
		}
	}
	target := flow.Target{Type: flow.LocatorAccessibilityID, Value: "spinner"}

	err := New(MinInterval).ForElementGone(context.Background(), locator.New(), p, target, 2*time.Second)
	require.NoError(t, err)

	p = boundProvider(t)
	err = New(MinInterval).ForElementGone(context.Background(), locator.New(), p, target, 200*time.Millisecond)
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.LastObserved, "still present: spinner")
}

func TestForWindow(t *testing.T) {
	p := boundProvider(t)
	c := New(MinInterval)

	w, err := c.ForWindow(context.Background(), p, "main window", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Main Window", w.Title)

	_, err = c.ForWindow(context.Background(), p, "Preferences", 150*time.Millisecond)
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.LastObserved, `"Main Window"`)
}

func TestForProcess(t *testing.T) {
	p := boundProvider(t)
	require.NoError(t, New(0).ForProcess(context.Background(), p, 0))

	p.Kill()
	err := New(0).ForProcess(context.Background(), p, 150*time.Millisecond)
	assert.True(t, errors.Is(err, core.ErrTimeout))
}
