package webdriver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// Locator strategies understood by the Mac2 driver.
const (
	strategyAccessibilityID = "accessibility id"
	strategyPredicate       = "predicate string"
	strategyXPath           = "xpath"
	strategyClassName       = "class name"
)

// Application states reported by "mobile: queryAppState".
const (
	appStateNotRunning = 1
	appStateBackground = 2
)

// DefaultCapabilities selects the Appium Mac2 driver.
func DefaultCapabilities() map[string]interface{} {
	return map[string]interface{}{
		"platformName":             "mac",
		"appium:automationName":    "mac2",
		"appium:skipAppKill":       true,
		"appium:newCommandTimeout": 0,
	}
}

// element is a WebDriver element reference.
type element struct {
	id string
}

func (e *element) Ref() string {
	return e.id
}

// Option configures a Provider.
type Option func(*Provider)

// WithCapabilities merges extra session capabilities over the defaults.
func WithCapabilities(caps map[string]interface{}) Option {
	return func(p *Provider) {
		for k, v := range caps {
			p.caps[k] = v
		}
	}
}

// WithLogger sets the provider logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// Provider implements core.Provider over a WebDriver session.
type Provider struct {
	client *Client
	caps   map[string]interface{}
	logger *zap.Logger

	mu    sync.Mutex
	app   core.AppRef
	bound bool
}

var _ core.Provider = (*Provider)(nil)
var _ core.ScreenCapturer = (*Provider)(nil)

// New opens a session on the Appium server at serverURL.
func New(ctx context.Context, serverURL string, opts ...Option) (*Provider, error) {
	p := &Provider{
		client: NewClient(serverURL),
		caps:   DefaultCapabilities(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.client.Connect(ctx, p.caps); err != nil {
		return nil, err
	}
	p.logger.Info("webdriver session created",
		zap.String("server", serverURL),
		zap.String("session", p.client.SessionID()))
	return p, nil
}

// Close ends the session.
func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}

func (p *Provider) current() (core.AppRef, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.app, p.bound
}

func (p *Provider) setBound(ref core.AppRef, bound bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.app = ref
	p.bound = bound
}

// appArgs addresses an application in "mobile:" commands.
func appArgs(by core.IdentifierKind, identifier string) (map[string]interface{}, error) {
	switch by {
	case core.ByBundleID:
		return map[string]interface{}{"bundleId": identifier}, nil
	case core.ByPath:
		return map[string]interface{}{"path": identifier}, nil
	default:
		return nil, fmt.Errorf("the mac2 driver cannot address applications by %s", by)
	}
}

func (p *Provider) appState(ctx context.Context, by core.IdentifierKind, identifier string) (int, error) {
	args, err := appArgs(by, identifier)
	if err != nil {
		return 0, err
	}
	v, err := p.client.ExecuteMobile(ctx, "queryAppState", args)
	if err != nil {
		return 0, err
	}
	state, _ := v.(float64)
	return int(state), nil
}

// gone reports core.ErrProcessGone when the bound application has exited.
func (p *Provider) gone(ctx context.Context, cause error) error {
	var wdErr *Error
	if errors.As(cause, &wdErr) && wdErr.Code == "invalid session id" {
		return core.ErrProcessGone.WithMessage("webdriver session ended").WithCause(cause)
	}
	ref, bound := p.current()
	if !bound {
		return core.ErrProcessGone.WithMessage("no application bound")
	}
	state, err := p.appState(ctx, ref.By, ref.Identifier)
	if err == nil && state <= appStateNotRunning {
		p.setBound(core.AppRef{}, false)
		if cause == nil {
			return core.ErrProcessGone.WithMessagef("%s is not running", ref.Identifier)
		}
		return core.ErrProcessGone.WithMessagef("%s is not running", ref.Identifier).WithCause(cause)
	}
	return cause
}

// Queries

func (p *Provider) find(ctx context.Context, strategy, value string) ([]core.ElementHandle, error) {
	if _, bound := p.current(); !bound {
		return nil, core.ErrProcessGone.WithMessage("no application bound")
	}
	ids, err := p.client.FindElements(ctx, strategy, value)
	if err != nil {
		return nil, p.gone(ctx, err)
	}
	if len(ids) == 0 {
		// An exited application shows up as an empty tree.
		if err := p.gone(ctx, nil); err != nil {
			return nil, err
		}
	}
	out := make([]core.ElementHandle, 0, len(ids))
	for _, id := range ids {
		out = append(out, &element{id: id})
	}
	return out, nil
}

// FindByID matches the accessibility identifier.
func (p *Provider) FindByID(ctx context.Context, id string) ([]core.ElementHandle, error) {
	return p.find(ctx, strategyAccessibilityID, id)
}

// FindByRoleLabel matches element type and accessibility label.
func (p *Provider) FindByRoleLabel(ctx context.Context, role, label string) ([]core.ElementHandle, error) {
	return p.find(ctx, strategyXPath, fmt.Sprintf("//%s[@label=%s]", elementType(role), xpathLiteral(label)))
}

// FindByRoleTitle matches element type and title.
func (p *Provider) FindByRoleTitle(ctx context.Context, role, title string) ([]core.ElementHandle, error) {
	return p.find(ctx, strategyXPath, fmt.Sprintf("//%s[@title=%s]", elementType(role), xpathLiteral(title)))
}

// FindByText matches a substring of title, label or value. Elements that
// are not displayed are dropped.
func (p *Provider) FindByText(ctx context.Context, substring string) ([]core.ElementHandle, error) {
	lit := predicateLiteral(substring)
	matches, err := p.find(ctx, strategyPredicate, fmt.Sprintf("title CONTAINS %s OR label CONTAINS %s OR value CONTAINS %s", lit, lit, lit))
	if err != nil {
		return nil, err
	}
	visible := make([]core.ElementHandle, 0, len(matches))
	for _, h := range matches {
		shown, err := p.readBool(ctx, h, p.client.IsElementDisplayed)
		if err != nil {
			return nil, err
		}
		if shown {
			visible = append(visible, h)
		}
	}
	return visible, nil
}

// FindByPath matches a structural path such as "window[0]/button[1]".
func (p *Provider) FindByPath(ctx context.Context, path string) ([]core.ElementHandle, error) {
	xpath, err := pathToXPath(path)
	if err != nil {
		return nil, core.ErrInvalidStep.WithMessage(err.Error())
	}
	return p.find(ctx, strategyXPath, xpath)
}

// FindAtPoint returns the deepest visible element containing the point.
func (p *Provider) FindAtPoint(ctx context.Context, x, y int) ([]core.ElementHandle, error) {
	if _, bound := p.current(); !bound {
		return nil, core.ErrProcessGone.WithMessage("no application bound")
	}
	src, err := p.client.Source(ctx)
	if err != nil {
		return nil, p.gone(ctx, err)
	}
	root, err := parseSource(src)
	if err != nil {
		return nil, err
	}
	hit := deepestAt(root, x, y)
	if hit == nil {
		return nil, nil
	}
	return p.find(ctx, strategyXPath, hit.XPath)
}

// Focused returns the element with keyboard focus.
func (p *Provider) Focused(ctx context.Context) (core.ElementHandle, error) {
	id, err := p.client.GetActiveElement(ctx)
	if err != nil {
		var wdErr *Error
		if errors.As(err, &wdErr) && wdErr.Code != "no such element" {
			return nil, p.gone(ctx, err)
		}
		return nil, core.ErrElementNotFound.WithMessage("no focused element").WithCause(err)
	}
	return &element{id: id}, nil
}

// Inspection

func (p *Provider) id(el core.ElementHandle) (string, error) {
	e, ok := el.(*element)
	if !ok || e == nil {
		return "", fmt.Errorf("element %v was not returned by this provider", el)
	}
	return e.id, nil
}

func (p *Provider) readString(ctx context.Context, el core.ElementHandle, read func(ctx context.Context, id string) (string, error)) (string, error) {
	id, err := p.id(el)
	if err != nil {
		return "", err
	}
	v, err := read(ctx, id)
	if err != nil {
		return "", p.gone(ctx, err)
	}
	return v, nil
}

// ReadText returns the element's displayed text.
func (p *Provider) ReadText(ctx context.Context, el core.ElementHandle) (string, error) {
	return p.readString(ctx, el, p.client.GetElementText)
}

// ReadValue returns the element's value attribute.
func (p *Provider) ReadValue(ctx context.Context, el core.ElementHandle) (string, error) {
	return p.readString(ctx, el, func(ctx context.Context, id string) (string, error) {
		return p.client.GetElementAttribute(ctx, id, "value")
	})
}

// ReadRole returns the element role, e.g. "button".
func (p *Provider) ReadRole(ctx context.Context, el core.ElementHandle) (string, error) {
	tag, err := p.readString(ctx, el, p.client.GetElementTagName)
	if err != nil {
		return "", err
	}
	return roleOf(tag), nil
}

func (p *Provider) readBool(ctx context.Context, el core.ElementHandle, read func(ctx context.Context, id string) (bool, error)) (bool, error) {
	id, err := p.id(el)
	if err != nil {
		return false, err
	}
	v, err := read(ctx, id)
	if err != nil {
		return false, p.gone(ctx, err)
	}
	return v, nil
}

// IsEnabled reports whether the element accepts input.
func (p *Provider) IsEnabled(ctx context.Context, el core.ElementHandle) (bool, error) {
	return p.readBool(ctx, el, p.client.IsElementEnabled)
}

// IsVisible reports whether the element is displayed.
func (p *Provider) IsVisible(ctx context.Context, el core.ElementHandle) (bool, error) {
	return p.readBool(ctx, el, p.client.IsElementDisplayed)
}

// Process control

// ListWindows returns the titles of the application's windows.
func (p *Provider) ListWindows(ctx context.Context) ([]core.Window, error) {
	handles, err := p.find(ctx, strategyClassName, typePrefix+"Window")
	if err != nil {
		return nil, err
	}
	windows := make([]core.Window, 0, len(handles))
	for _, h := range handles {
		title, err := p.client.GetElementAttribute(ctx, h.Ref(), "title")
		if err != nil {
			return nil, p.gone(ctx, err)
		}
		windows = append(windows, core.Window{Title: title})
	}
	return windows, nil
}

// IsProcessBound reports whether a running application is bound.
func (p *Provider) IsProcessBound(ctx context.Context) (bool, error) {
	ref, bound := p.current()
	if !bound {
		return false, nil
	}
	state, err := p.appState(ctx, ref.By, ref.Identifier)
	if err != nil {
		return false, err
	}
	if state <= appStateNotRunning {
		p.setBound(core.AppRef{}, false)
		return false, nil
	}
	return true, nil
}

// Attach binds to an already running application and brings it forward.
func (p *Provider) Attach(ctx context.Context, by core.IdentifierKind, identifier string) (core.AppRef, error) {
	args, err := appArgs(by, identifier)
	if err != nil {
		return core.AppRef{}, err
	}
	state, err := p.appState(ctx, by, identifier)
	if err != nil {
		return core.AppRef{}, err
	}
	if state < appStateBackground {
		return core.AppRef{}, fmt.Errorf("application %q is not running", identifier)
	}
	if _, err := p.client.ExecuteMobile(ctx, "activateApp", args); err != nil {
		return core.AppRef{}, fmt.Errorf("failed to activate %s: %w", identifier, err)
	}
	ref := core.AppRef{By: by, Identifier: identifier}
	p.setBound(ref, true)
	return ref, nil
}

// Launch starts the application and binds to it.
func (p *Provider) Launch(ctx context.Context, by core.IdentifierKind, identifier string, args []string) (core.AppRef, error) {
	params, err := appArgs(by, identifier)
	if err != nil {
		return core.AppRef{}, err
	}
	if len(args) > 0 {
		params["arguments"] = args
	}
	if _, err := p.client.ExecuteMobile(ctx, "launchApp", params); err != nil {
		return core.AppRef{}, fmt.Errorf("failed to launch %s: %w", identifier, err)
	}
	ref := core.AppRef{By: by, Identifier: identifier}
	p.setBound(ref, true)
	return ref, nil
}

// Terminate stops the bound application.
func (p *Provider) Terminate(ctx context.Context) error {
	ref, bound := p.current()
	if !bound {
		return core.ErrProcessGone.WithMessage("no application bound")
	}
	args, err := appArgs(ref.By, ref.Identifier)
	if err != nil {
		return err
	}
	v, err := p.client.ExecuteMobile(ctx, "terminateApp", args)
	if err != nil {
		return fmt.Errorf("failed to terminate %s: %w", ref.Identifier, err)
	}
	p.setBound(core.AppRef{}, false)
	if terminated, ok := v.(bool); ok && !terminated {
		return core.ErrProcessGone.WithMessagef("%s was not running", ref.Identifier)
	}
	return nil
}

// Input

func (p *Provider) onElement(ctx context.Context, el core.ElementHandle, fn func(ctx context.Context, id string) error) error {
	id, err := p.id(el)
	if err != nil {
		return err
	}
	if err := fn(ctx, id); err != nil {
		return p.gone(ctx, err)
	}
	return nil
}

func (p *Provider) mobileOnElement(command string) func(ctx context.Context, id string) error {
	return func(ctx context.Context, id string) error {
		_, err := p.client.ExecuteMobile(ctx, command, map[string]interface{}{"elementId": id})
		return err
	}
}

// Click left-clicks the element.
func (p *Provider) Click(ctx context.Context, el core.ElementHandle) error {
	return p.onElement(ctx, el, p.client.ClickElement)
}

// DoubleClick double-clicks the element.
func (p *Provider) DoubleClick(ctx context.Context, el core.ElementHandle) error {
	return p.onElement(ctx, el, p.mobileOnElement("doubleClick"))
}

// RightClick right-clicks the element.
func (p *Provider) RightClick(ctx context.Context, el core.ElementHandle) error {
	return p.onElement(ctx, el, p.mobileOnElement("rightClick"))
}

// Clear empties a text element.
func (p *Provider) Clear(ctx context.Context, el core.ElementHandle) error {
	return p.onElement(ctx, el, p.client.ClearElement)
}

// TypeText types text into the element.
func (p *Provider) TypeText(ctx context.Context, el core.ElementHandle, text string) error {
	return p.onElement(ctx, el, func(ctx context.Context, id string) error {
		return p.client.SendKeysToElement(ctx, id, text)
	})
}

// KeyCombo presses a chord of normalized key names, e.g. [cmd shift s].
func (p *Provider) KeyCombo(ctx context.Context, keys []string) error {
	payload, err := keyPayload(keys)
	if err != nil {
		return err
	}
	if _, err := p.client.ExecuteMobile(ctx, "keys", map[string]interface{}{"keys": payload}); err != nil {
		return p.gone(ctx, err)
	}
	return nil
}

// SelectMenu walks a menu path. Without an anchor the first item is taken
// from the menu bar; with one, the anchor's context menu is opened first.
func (p *Provider) SelectMenu(ctx context.Context, anchor core.ElementHandle, path []string) error {
	if len(path) == 0 {
		return fmt.Errorf("empty menu path")
	}
	items := path
	if anchor != nil {
		if err := p.RightClick(ctx, anchor); err != nil {
			return err
		}
	} else {
		if err := p.clickMenu(ctx, "MenuBarItem", path[0]); err != nil {
			return err
		}
		items = path[1:]
	}
	for _, item := range items {
		if err := p.clickMenu(ctx, "MenuItem", item); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) clickMenu(ctx context.Context, kind, title string) error {
	matches, err := p.find(ctx, strategyXPath, fmt.Sprintf("//%s%s[@title=%s]", typePrefix, kind, xpathLiteral(title)))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("menu item %q not found", title)
	}
	return p.Click(ctx, matches[0])
}

// DragDrop drags from one element onto another.
func (p *Provider) DragDrop(ctx context.Context, from, to core.ElementHandle) error {
	src, err := p.id(from)
	if err != nil {
		return err
	}
	dst, err := p.id(to)
	if err != nil {
		return err
	}
	_, err = p.client.ExecuteMobile(ctx, "clickAndDrag", map[string]interface{}{
		"sourceElementId":      src,
		"destinationElementId": dst,
		"duration":             0.5,
	})
	if err != nil {
		return p.gone(ctx, err)
	}
	return nil
}

// Screenshot captures the screen as PNG.
func (p *Provider) Screenshot(ctx context.Context) ([]byte, error) {
	return p.client.Screenshot(ctx)
}

// keyModifiers maps normalized modifier names to XCUIKeyModifierFlags.
var keyModifiers = map[string]int{
	"shift": 1 << 1,
	"ctrl":  1 << 2,
	"alt":   1 << 3,
	"cmd":   1 << 4,
}

// specialKeys maps key names to XCUIKeyboardKey values.
var specialKeys = map[string]string{
	"enter":     "\r",
	"return":    "\r",
	"tab":       "\t",
	"space":     " ",
	"escape":    "\u001b",
	"esc":       "\u001b",
	"backspace": "\u007f",
	"delete":    "XCUIKeyboardKeyForwardDelete",
	"up":        "XCUIKeyboardKeyUpArrow",
	"down":      "XCUIKeyboardKeyDownArrow",
	"left":      "XCUIKeyboardKeyLeftArrow",
	"right":     "XCUIKeyboardKeyRightArrow",
	"home":      "XCUIKeyboardKeyHome",
	"end":       "XCUIKeyboardKeyEnd",
	"pageup":    "XCUIKeyboardKeyPageUp",
	"pagedown":  "XCUIKeyboardKeyPageDown",
}

func keyPayload(keys []string) ([]map[string]interface{}, error) {
	flags := 0
	var plain []string
	for _, k := range keys {
		if mask, ok := keyModifiers[k]; ok {
			flags |= mask
			continue
		}
		plain = append(plain, k)
	}
	if len(plain) == 0 {
		return nil, fmt.Errorf("key chord %q has no non-modifier key", strings.Join(keys, "+"))
	}

	payload := make([]map[string]interface{}, 0, len(plain))
	for _, k := range plain {
		key := k
		if special, ok := specialKeys[k]; ok {
			key = special
		} else if len(k) > 1 && k[0] == 'f' {
			key = "XCUIKeyboardKey" + strings.ToUpper(k)
		}
		payload = append(payload, map[string]interface{}{"key": key, "modifierFlags": flags})
	}
	return payload, nil
}
