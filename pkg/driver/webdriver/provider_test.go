package webdriver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

const editorSource = `<?xml version="1.0" encoding="UTF-8"?>
<XCUIElementTypeApplication elementType="2" title="Editor" x="0" y="0" width="1440" height="900">
  <XCUIElementTypeWindow elementType="4" title="Untitled" x="100" y="100" width="800" height="600">
    <XCUIElementTypeTextView elementType="49" identifier="body" x="100" y="140" width="800" height="500"/>
    <XCUIElementTypeButton elementType="9" title="Save" x="120" y="110" width="60" height="24"/>
    <XCUIElementTypeButton elementType="9" title="Hidden" x="120" y="110" width="60" height="24" visible="false"/>
  </XCUIElementTypeWindow>
</XCUIElementTypeApplication>`

// fakeMac2 is a minimal Appium Mac2 server.
type fakeMac2 struct {
	mu       sync.Mutex
	state    int // queryAppState result
	elements map[string][]string
	hidden   map[string]bool // element ids reported as not displayed
	calls    []string
	mobile   map[string][]map[string]interface{}
}

func newFakeMac2() *fakeMac2 {
	return &fakeMac2{
		state:    1,
		elements: map[string][]string{},
		hidden:   map[string]bool{},
		mobile:   map[string][]map[string]interface{}{},
	}
}

func (f *fakeMac2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/session/s1")
	var body map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.calls = append(f.calls, r.Method+" "+path)

	switch {
	case r.URL.Path == "/session" && r.Method == http.MethodPost:
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"sessionId": "s1"}})
	case path == "" && r.Method == http.MethodDelete:
		writeJSON(w, map[string]interface{}{"value": nil})
	case path == "/elements":
		key := body["using"].(string) + "|" + body["value"].(string)
		var out []interface{}
		for _, id := range f.elements[key] {
			out = append(out, map[string]interface{}{w3cElementKey: id})
		}
		if out == nil {
			out = []interface{}{}
		}
		writeJSON(w, map[string]interface{}{"value": out})
	case path == "/execute/sync":
		script := strings.TrimPrefix(body["script"].(string), "mobile: ")
		args, _ := body["args"].([]interface{})
		var arg map[string]interface{}
		if len(args) > 0 {
			arg, _ = args[0].(map[string]interface{})
		}
		f.mobile[script] = append(f.mobile[script], arg)
		switch script {
		case "queryAppState":
			writeJSON(w, map[string]interface{}{"value": f.state})
		case "launchApp", "activateApp":
			f.state = 4
			writeJSON(w, map[string]interface{}{"value": nil})
		case "terminateApp":
			wasRunning := f.state > 1
			f.state = 1
			writeJSON(w, map[string]interface{}{"value": wasRunning})
		default:
			writeJSON(w, map[string]interface{}{"value": nil})
		}
	case path == "/source":
		writeJSON(w, map[string]interface{}{"value": editorSource})
	case path == "/element/active":
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]interface{}{"value": map[string]interface{}{"error": "no such element", "message": "no focus"}})
	case strings.HasSuffix(path, "/text"):
		writeJSON(w, map[string]interface{}{"value": "Save"})
	case strings.HasSuffix(path, "/name"):
		writeJSON(w, map[string]interface{}{"value": "XCUIElementTypeTextField"})
	case strings.HasSuffix(path, "/attribute/title"):
		writeJSON(w, map[string]interface{}{"value": "Untitled"})
	case strings.HasSuffix(path, "/attribute/value"):
		writeJSON(w, map[string]interface{}{"value": "draft"})
	case strings.HasSuffix(path, "/displayed"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/element/"), "/displayed")
		writeJSON(w, map[string]interface{}{"value": !f.hidden[id]})
	case strings.HasSuffix(path, "/enabled"):
		writeJSON(w, map[string]interface{}{"value": true})
	default:
		writeJSON(w, map[string]interface{}{"value": nil})
	}
}

func (f *fakeMac2) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeMac2) mobileArgs(cmd string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mobile[cmd]
}

func newProvider(t *testing.T, f *fakeMac2) *Provider {
	t.Helper()
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)

	p, err := New(context.Background(), server.URL, WithCapabilities(map[string]interface{}{"appium:bundleId": "com.example.editor"}))
	require.NoError(t, err)
	return p
}

func launched(t *testing.T, f *fakeMac2) *Provider {
	t.Helper()
	p := newProvider(t, f)
	_, err := p.Launch(context.Background(), core.ByBundleID, "com.example.editor", []string{"--fresh"})
	require.NoError(t, err)
	return p
}

func TestProvider_LaunchAndAttach(t *testing.T) {
	f := newFakeMac2()
	p := newProvider(t, f)
	ctx := context.Background()

	bound, err := p.IsProcessBound(ctx)
	require.NoError(t, err)
	assert.False(t, bound)

	_, err = p.Attach(ctx, core.ByBundleID, "com.example.editor")
	assert.Error(t, err, "attach fails while the app is not running")

	ref, err := p.Launch(ctx, core.ByBundleID, "com.example.editor", []string{"--fresh"})
	require.NoError(t, err)
	assert.Equal(t, core.AppRef{By: core.ByBundleID, Identifier: "com.example.editor"}, ref)
	assert.Equal(t, []interface{}{"--fresh"}, f.mobileArgs("launchApp")[0]["arguments"])

	bound, err = p.IsProcessBound(ctx)
	require.NoError(t, err)
	assert.True(t, bound)

	_, err = p.Attach(ctx, core.ByName, "Editor")
	assert.Error(t, err, "mac2 cannot address apps by name")

	_, err = p.Attach(ctx, core.ByBundleID, "com.example.editor")
	require.NoError(t, err)
	assert.Len(t, f.mobileArgs("activateApp"), 1)
}

func TestProvider_Terminate(t *testing.T) {
	f := newFakeMac2()
	p := launched(t, f)
	ctx := context.Background()

	require.NoError(t, p.Terminate(ctx))
	assert.ErrorIs(t, p.Terminate(ctx), core.ErrProcessGone)
}

func TestProvider_Queries(t *testing.T) {
	f := newFakeMac2()
	f.elements["accessibility id|body"] = []string{"e-body"}
	f.elements[`xpath|//XCUIElementTypeButton[@title="Save"]`] = []string{"e-save", "e-save2"}
	f.elements[`xpath|//XCUIElementTypeTextField[@label="Name"]`] = []string{"e-name"}
	f.elements[`predicate string|title CONTAINS 'Sav' OR label CONTAINS 'Sav' OR value CONTAINS 'Sav'`] = []string{"e-save"}
	f.elements["xpath|/XCUIElementTypeApplication/XCUIElementTypeWindow[1]/XCUIElementTypeButton[2]"] = []string{"e-hidden"}
	p := launched(t, f)
	ctx := context.Background()

	refs := func(hs []core.ElementHandle, err error) []string {
		require.NoError(t, err)
		var out []string
		for _, h := range hs {
			out = append(out, h.Ref())
		}
		return out
	}

	assert.Equal(t, []string{"e-body"}, refs(p.FindByID(ctx, "body")))
	assert.Equal(t, []string{"e-save", "e-save2"}, refs(p.FindByRoleTitle(ctx, "button", "Save")))
	assert.Equal(t, []string{"e-name"}, refs(p.FindByRoleLabel(ctx, "text_field", "Name")))
	assert.Equal(t, []string{"e-save"}, refs(p.FindByText(ctx, "Sav")))
	assert.Equal(t, []string{"e-hidden"}, refs(p.FindByPath(ctx, "window[0]/button[1]")))
	assert.Empty(t, refs(p.FindByID(ctx, "missing")))
}

func TestProvider_FindByTextSkipsHidden(t *testing.T) {
	f := newFakeMac2()
	f.elements[`predicate string|title CONTAINS 'Save' OR label CONTAINS 'Save' OR value CONTAINS 'Save'`] = []string{"e-hidden", "e-save"}
	f.hidden["e-hidden"] = true
	p := launched(t, f)

	hs, err := p.FindByText(context.Background(), "Save")
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, "e-save", hs[0].Ref())
}

func TestProvider_FindAtPoint(t *testing.T) {
	f := newFakeMac2()
	f.elements["xpath|/XCUIElementTypeApplication/XCUIElementTypeWindow[1]/XCUIElementTypeButton[1]"] = []string{"e-save"}
	f.elements["xpath|/XCUIElementTypeApplication/XCUIElementTypeWindow[1]/XCUIElementTypeTextView[1]"] = []string{"e-body"}
	p := launched(t, f)
	ctx := context.Background()

	hs, err := p.FindAtPoint(ctx, 130, 120)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, "e-save", hs[0].Ref(), "hidden sibling is skipped")

	hs, err = p.FindAtPoint(ctx, 500, 400)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, "e-body", hs[0].Ref())

	hs, err = p.FindAtPoint(ctx, 5000, 5000)
	require.NoError(t, err)
	assert.Empty(t, hs)
}

func TestProvider_ProcessGone(t *testing.T) {
	f := newFakeMac2()
	p := launched(t, f)
	ctx := context.Background()

	f.mu.Lock()
	f.state = 1
	f.mu.Unlock()

	_, err := p.FindByID(ctx, "body")
	assert.ErrorIs(t, err, core.ErrProcessGone)

	_, err = p.FindByID(ctx, "body")
	assert.ErrorIs(t, err, core.ErrProcessGone, "stays unbound until relaunched")
}

func TestProvider_NotBound(t *testing.T) {
	p := newProvider(t, newFakeMac2())
	_, err := p.FindByID(context.Background(), "body")
	assert.ErrorIs(t, err, core.ErrProcessGone)
}

func TestProvider_Inspection(t *testing.T) {
	f := newFakeMac2()
	p := launched(t, f)
	ctx := context.Background()
	el := &element{id: "e-1"}

	text, err := p.ReadText(ctx, el)
	require.NoError(t, err)
	assert.Equal(t, "Save", text)

	value, err := p.ReadValue(ctx, el)
	require.NoError(t, err)
	assert.Equal(t, "draft", value)

	role, err := p.ReadRole(ctx, el)
	require.NoError(t, err)
	assert.Equal(t, "text_field", role)

	enabled, err := p.IsEnabled(ctx, el)
	require.NoError(t, err)
	assert.True(t, enabled)

	visible, err := p.IsVisible(ctx, el)
	require.NoError(t, err)
	assert.True(t, visible)

	_, err = p.Focused(ctx)
	assert.ErrorIs(t, err, core.ErrElementNotFound)
}

func TestProvider_ListWindows(t *testing.T) {
	f := newFakeMac2()
	f.elements["class name|XCUIElementTypeWindow"] = []string{"w1"}
	p := launched(t, f)

	windows, err := p.ListWindows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []core.Window{{Title: "Untitled"}}, windows)
}

func TestProvider_Input(t *testing.T) {
	f := newFakeMac2()
	f.elements[`xpath|//XCUIElementTypeMenuBarItem[@title="File"]`] = []string{"m-file"}
	f.elements[`xpath|//XCUIElementTypeMenuItem[@title="Save As…"]`] = []string{"m-save-as"}
	p := launched(t, f)
	ctx := context.Background()
	el := &element{id: "e-1"}

	require.NoError(t, p.Click(ctx, el))
	require.NoError(t, p.DoubleClick(ctx, el))
	require.NoError(t, p.RightClick(ctx, el))
	require.NoError(t, p.Clear(ctx, el))
	require.NoError(t, p.TypeText(ctx, el, "hello"))
	require.NoError(t, p.DragDrop(ctx, el, &element{id: "e-2"}))
	require.NoError(t, p.KeyCombo(ctx, []string{"cmd", "shift", "s"}))
	require.NoError(t, p.SelectMenu(ctx, nil, []string{"File", "Save As…"}))

	assert.True(t, f.called("POST /element/e-1/click"))
	assert.True(t, f.called("POST /element/e-1/clear"))
	assert.True(t, f.called("POST /element/e-1/value"))
	assert.True(t, f.called("POST /element/m-file/click"))
	assert.True(t, f.called("POST /element/m-save-as/click"))
	assert.Equal(t, "e-1", f.mobileArgs("doubleClick")[0]["elementId"])
	assert.Equal(t, "e-1", f.mobileArgs("rightClick")[0]["elementId"])
	assert.Equal(t, "e-2", f.mobileArgs("clickAndDrag")[0]["destinationElementId"])

	keys := f.mobileArgs("keys")[0]["keys"].([]interface{})
	require.Len(t, keys, 1)
	assert.Equal(t, map[string]interface{}{"key": "s", "modifierFlags": float64(1<<1 | 1<<4)}, keys[0])
}

func TestProvider_SelectContextMenu(t *testing.T) {
	f := newFakeMac2()
	f.elements[`xpath|//XCUIElementTypeMenuItem[@title="Rename"]`] = []string{"m-rename"}
	p := launched(t, f)

	require.NoError(t, p.SelectMenu(context.Background(), &element{id: "e-doc"}, []string{"Rename"}))
	assert.Equal(t, "e-doc", f.mobileArgs("rightClick")[0]["elementId"])
	assert.True(t, f.called("POST /element/m-rename/click"))
}

func TestProvider_SelectMenuItemMissing(t *testing.T) {
	p := launched(t, newFakeMac2())
	err := p.SelectMenu(context.Background(), nil, []string{"Nope"})
	assert.Error(t, err)
}

func TestKeyPayload(t *testing.T) {
	payload, err := keyPayload([]string{"ctrl", "alt", "delete"})
	require.NoError(t, err)
	assert.Equal(t, []map[string]interface{}{{"key": "XCUIKeyboardKeyForwardDelete", "modifierFlags": 1<<2 | 1<<3}}, payload)

	payload, err = keyPayload([]string{"f5"})
	require.NoError(t, err)
	assert.Equal(t, "XCUIKeyboardKeyF5", payload[0]["key"])

	_, err = keyPayload([]string{"cmd", "shift"})
	assert.Error(t, err)
}

func TestPathToXPath(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"window[0]/button[1]", "/XCUIElementTypeApplication/XCUIElementTypeWindow[1]/XCUIElementTypeButton[2]", false},
		{"window/text_field", "/XCUIElementTypeApplication/XCUIElementTypeWindow[1]/XCUIElementTypeTextField[1]", false},
		{"window[x]", "", true},
		{"window[0", "", true},
		{"[0]", "", true},
	}
	for _, tt := range tests {
		got, err := pathToXPath(tt.path)
		if tt.wantErr {
			assert.Error(t, err, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got)
	}
}

func TestRoleMapping(t *testing.T) {
	assert.Equal(t, "XCUIElementTypeMenuItem", elementType("menu_item"))
	assert.Equal(t, "*", elementType(""))
	assert.Equal(t, "XCUIElementTypeButton", elementType("XCUIElementTypeButton"))
	assert.Equal(t, "menu_item", roleOf("XCUIElementTypeMenuItem"))
	assert.Equal(t, "static_text", roleOf("XCUIElementTypeStaticText"))
}

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, `"Save"`, xpathLiteral("Save"))
	assert.Equal(t, `'say "hi"'`, xpathLiteral(`say "hi"`))
	assert.Equal(t, `concat("it's ", '"', "x", '"', "")`, xpathLiteral(`it's "x"`))
	assert.Equal(t, `'it\'s'`, predicateLiteral("it's"))
}
