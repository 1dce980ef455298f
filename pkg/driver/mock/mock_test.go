package mock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

func sampleConfig() Config {
	return Config{
		BundleID: "com.example.notes",
		Name:     "Notes",
		Running:  true,
		Windows: []*Node{{
			Role:   "window",
			Title:  "Notes",
			Bounds: Bounds{0, 0, 800, 600},
			Children: []*Node{
				{ID: "new", Role: "button", Title: "New Note", Bounds: Bounds{10, 10, 100, 30}},
				{ID: "delete", Role: "button", Title: "Delete", Disabled: true, Bounds: Bounds{120, 10, 100, 30}},
				{ID: "body", Role: "text_area", Label: "Body", Value: "hello", Bounds: Bounds{10, 50, 780, 500}},
				{Role: "static_text", Value: "Saved", Hidden: true},
			},
		}},
	}
}

func bound(t *testing.T) *Provider {
	t.Helper()
	p := New(sampleConfig())
	_, err := p.Attach(context.Background(), core.ByBundleID, "com.example.notes")
	require.NoError(t, err)
	return p
}

func TestProvider_Queries(t *testing.T) {
	ctx := context.Background()
	p := bound(t)

	got, err := p.FindByID(ctx, "new")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Ref())

	got, err = p.FindByRoleTitle(ctx, "button", "Delete")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = p.FindByRoleLabel(ctx, "text_area", "Body")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = p.FindByText(ctx, "Note")
	require.NoError(t, err)
	assert.Len(t, got, 2, "window title and button title both contain Note")

	got, err = p.FindByText(ctx, "Saved")
	require.NoError(t, err)
	assert.Empty(t, got, "hidden text is not matched")

	got, err = p.FindByPath(ctx, "window[0]/button[1]")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "delete", got[0].Ref())

	got, err = p.FindAtPoint(ctx, 15, 15)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Ref(), "deepest element wins")

	assert.Equal(t, 7, p.Queries())
}

func TestProvider_HiddenSubtree(t *testing.T) {
	ctx := context.Background()
	p := New(Config{
		BundleID: "com.example.notes",
		Running:  true,
		Windows: []*Node{{
			Role:   "window",
			Title:  "Notes",
			Bounds: Bounds{0, 0, 800, 600},
			Children: []*Node{
				{ID: "sheet", Role: "group", Hidden: true, Bounds: Bounds{0, 0, 400, 300}, Children: []*Node{
					{ID: "confirm", Role: "button", Title: "Confirm delete", Bounds: Bounds{10, 10, 100, 30}},
				}},
				{ID: "cancel", Role: "button", Title: "Cancel delete", Bounds: Bounds{500, 10, 100, 30}},
			},
		}},
	})
	_, err := p.Attach(ctx, core.ByBundleID, "com.example.notes")
	require.NoError(t, err)

	got, err := p.FindByText(ctx, "delete")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cancel", got[0].Ref())

	got, err = p.FindAtPoint(ctx, 20, 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "window[0]", got[0].Ref(), "point inside a hidden subtree hits the window")

	got, err = p.FindByID(ctx, "confirm")
	require.NoError(t, err)
	assert.Len(t, got, 1, "id lookup ignores visibility")
}

func TestProvider_Reads(t *testing.T) {
	ctx := context.Background()
	p := bound(t)

	del, _ := p.FindByID(ctx, "delete")
	enabled, err := p.IsEnabled(ctx, del[0])
	require.NoError(t, err)
	assert.False(t, enabled)

	body, _ := p.FindByID(ctx, "body")
	text, err := p.ReadText(ctx, body[0])
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	role, err := p.ReadRole(ctx, body[0])
	require.NoError(t, err)
	assert.Equal(t, "text_area", role)

	p.Remove("body")
	_, err = p.ReadValue(ctx, body[0])
	assert.ErrorContains(t, err, "stale element")
}

func TestProvider_Interactions(t *testing.T) {
	ctx := context.Background()
	p := bound(t)

	body, _ := p.FindByID(ctx, "body")
	require.NoError(t, p.Clear(ctx, body[0]))
	require.NoError(t, p.TypeText(ctx, body[0], "abc"))
	assert.Equal(t, "abc", p.Find("body").Value)

	focused, err := p.Focused(ctx)
	require.NoError(t, err)
	assert.Equal(t, "body", focused.Ref())

	require.NoError(t, p.KeyCombo(ctx, []string{"cmd", "s"}))
	newBtn, _ := p.FindByID(ctx, "new")
	require.NoError(t, p.DragDrop(ctx, newBtn[0], body[0]))

	del, _ := p.FindByID(ctx, "delete")
	assert.Error(t, p.TypeText(ctx, del[0], "x"), "disabled elements reject text")

	events := p.Events()
	require.Len(t, events, 4)
	assert.Equal(t, "clear", events[0].Kind)
	assert.Equal(t, "type", events[1].Kind)
	assert.Equal(t, []string{"cmd", "s"}, events[2].Keys)
	assert.Equal(t, "drag", events[3].Kind)
	assert.Equal(t, "window[0]/text_area[0]", events[3].To)
}

func TestProvider_Lifecycle(t *testing.T) {
	ctx := context.Background()
	p := New(sampleConfig())

	ok, _ := p.IsProcessBound(ctx)
	assert.False(t, ok, "starts unbound")

	_, err := p.FindByID(ctx, "new")
	assert.True(t, errors.Is(err, core.ErrProcessGone))

	_, err = p.Attach(ctx, core.ByName, "notes")
	require.NoError(t, err)

	p.Kill()
	_, err = p.FindByID(ctx, "new")
	assert.True(t, errors.Is(err, core.ErrProcessGone))

	_, err = p.Attach(ctx, core.ByBundleID, "com.example.notes")
	assert.Error(t, err, "cannot attach to a dead process")

	ref, err := p.Launch(ctx, core.ByBundleID, "com.example.notes", []string{"--fresh"})
	require.NoError(t, err)
	assert.Equal(t, 1, ref.PID)
	assert.Equal(t, []string{"--fresh"}, p.LastLaunchArgs())
	assert.Equal(t, 1, p.Launches())

	windows, err := p.ListWindows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.Window{{Title: "Notes"}}, windows)

	require.NoError(t, p.Terminate(ctx))
	assert.True(t, errors.Is(p.Terminate(ctx), core.ErrProcessGone))

	_, err = p.Launch(ctx, core.ByName, "Other", nil)
	assert.Error(t, err)
}

func TestProvider_Hooks(t *testing.T) {
	ctx := context.Background()
	p := bound(t)
	p.BeforeQuery = func(p *Provider, n int) {
		if n == 2 {
			p.AddWindow(&Node{Role: "window", Title: "Preferences"})
		}
	}
	var clicked []string
	p.OnEvent = func(_ *Provider, e Event) { clicked = append(clicked, e.Ref) }

	got, _ := p.FindByRoleTitle(ctx, "window", "Preferences")
	assert.Empty(t, got)
	got, _ = p.FindByRoleTitle(ctx, "window", "Preferences")
	assert.Len(t, got, 1)

	require.NoError(t, p.Click(ctx, got[0]))
	assert.Equal(t, []string{"window[1]"}, clicked)

	p.Fail("click", errors.New("AX error"))
	assert.EqualError(t, p.Click(ctx, got[0]), "AX error")
	p.Fail("click", nil)
	assert.NoError(t, p.Click(ctx, got[0]))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.yaml")
	content := `
bundle_id: com.example.calc
name: Calculator
windows:
  - role: window
    title: Calculator
    children:
      - {id: seven, role: button, title: "7"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "com.example.calc", cfg.BundleID)
	require.Len(t, cfg.Windows, 1)
	assert.Equal(t, "seven", cfg.Windows[0].Children[0].ID)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestScreenshot(t *testing.T) {
	data, err := New(Config{}).Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data[:4])
}
