// Package mock provides an in-memory accessibility tree provider for tests
// and dry runs without a real desktop session.
package mock

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
)

// Node is an element of the mock accessibility tree.
type Node struct {
	ID       string  `yaml:"id,omitempty"`
	Role     string  `yaml:"role"`
	Title    string  `yaml:"title,omitempty"`
	Label    string  `yaml:"label,omitempty"`
	Value    string  `yaml:"value,omitempty"`
	Disabled bool    `yaml:"disabled,omitempty"`
	Hidden   bool    `yaml:"hidden,omitempty"`
	Bounds   Bounds  `yaml:"bounds,omitempty"`
	Children []*Node `yaml:"children,omitempty"`
}

// Bounds represents element position and size
type Bounds struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// Config configures the mock application and its tree.
type Config struct {
	BundleID string  `yaml:"bundle_id,omitempty"`
	Name     string  `yaml:"name,omitempty"`
	Path     string  `yaml:"path,omitempty"`
	Running  bool    `yaml:"running,omitempty"` // Application already running before the run
	Windows  []*Node `yaml:"windows"`
}

// LoadConfig reads a mock tree from a YAML file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided tree file
	if err != nil {
		return cfg, fmt.Errorf("failed to read mock tree: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse mock tree %s: %w", path, err)
	}
	return cfg, nil
}

// Event is a recorded input event.
type Event struct {
	Kind string   // click, double_click, right_click, clear, type, keys, menu, drag
	Ref  string   // Path of the target element, if any
	To   string   // Drop target path for drag
	Text string   // Typed text
	Keys []string // Key chord or menu path
}

// Provider implements core.Provider over an in-memory tree.
type Provider struct {
	mu       sync.Mutex
	cfg      Config
	running  bool
	bound    bool
	pid      int
	launches int
	attaches int
	queries  int
	focused  *Node
	lastArgs []string
	events   []Event
	failures map[string]error

	// BeforeQuery runs before every locator query with the 1-based query
	// count. It is called without the provider lock held, so it may mutate
	// the tree through the provider's methods.
	BeforeQuery func(p *Provider, n int)

	// OnEvent runs after an input event is recorded, without the lock held.
	OnEvent func(p *Provider, e Event)
}

var _ core.Provider = (*Provider)(nil)
var _ core.ScreenCapturer = (*Provider)(nil)

// New creates a mock provider. The provider starts unbound.
func New(cfg Config) *Provider {
	return &Provider{cfg: cfg, running: cfg.Running, failures: map[string]error{}}
}

// element is the mock ElementHandle.
type element struct {
	node *Node
	path string
}

func (e *element) Ref() string {
	if e.node.ID != "" {
		return e.node.ID
	}
	return e.path
}

type visit struct {
	node   *Node
	path   string
	hidden bool // The node or one of its ancestors is hidden
}

// walk returns every node in depth-first pre-order with its structural path.
func (p *Provider) walk() []visit {
	var out []visit
	var rec func(nodes []*Node, prefix string, hidden bool)
	rec = func(nodes []*Node, prefix string, hidden bool) {
		counts := map[string]int{}
		for _, n := range nodes {
			seg := fmt.Sprintf("%s[%d]", n.Role, counts[n.Role])
			counts[n.Role]++
			path := seg
			if prefix != "" {
				path = prefix + "/" + seg
			}
			h := hidden || n.Hidden
			out = append(out, visit{node: n, path: path, hidden: h})
			rec(n.Children, path, h)
		}
	}
	rec(p.cfg.Windows, "", false)
	return out
}

func (p *Provider) checkBound() error {
	if !p.running || !p.bound {
		return core.ErrProcessGone.WithMessage("mock application is not running")
	}
	return nil
}

func (p *Provider) find(match func(v visit) bool) ([]core.ElementHandle, error) {
	p.mu.Lock()
	p.queries++
	n := p.queries
	hook := p.BeforeQuery
	p.mu.Unlock()

	if hook != nil {
		hook(p, n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkBound(); err != nil {
		return nil, err
	}
	if err := p.failures["query"]; err != nil {
		return nil, err
	}
	var out []core.ElementHandle
	for _, v := range p.walk() {
		if match(v) {
			out = append(out, &element{node: v.node, path: v.path})
		}
	}
	return out, nil
}

func roleMatches(n *Node, role string) bool {
	return role == "" || strings.EqualFold(n.Role, role)
}

// FindByID returns nodes whose id equals id.
func (p *Provider) FindByID(_ context.Context, id string) ([]core.ElementHandle, error) {
	return p.find(func(v visit) bool { return v.node.ID == id })
}

// FindByRoleLabel returns nodes with the role and exact label.
func (p *Provider) FindByRoleLabel(_ context.Context, role, label string) ([]core.ElementHandle, error) {
	return p.find(func(v visit) bool { return roleMatches(v.node, role) && v.node.Label == label })
}

// FindByRoleTitle returns nodes with the role whose title, value or label equals title.
func (p *Provider) FindByRoleTitle(_ context.Context, role, title string) ([]core.ElementHandle, error) {
	return p.find(func(v visit) bool {
		n := v.node
		return roleMatches(n, role) && (n.Title == title || n.Value == title || n.Label == title)
	})
}

// FindByText returns visible nodes whose title, value or label contains
// substring. A hidden ancestor hides the whole subtree.
func (p *Provider) FindByText(_ context.Context, substring string) ([]core.ElementHandle, error) {
	return p.find(func(v visit) bool {
		if v.hidden {
			return false
		}
		n := v.node
		return strings.Contains(n.Title, substring) || strings.Contains(n.Value, substring) || strings.Contains(n.Label, substring)
	})
}

// FindByPath returns the node at a structural path such as window[0]/button[1].
func (p *Provider) FindByPath(_ context.Context, path string) ([]core.ElementHandle, error) {
	return p.find(func(v visit) bool { return v.path == path })
}

// FindAtPoint returns the deepest visible node containing the point.
func (p *Provider) FindAtPoint(_ context.Context, x, y int) ([]core.ElementHandle, error) {
	matches, err := p.find(func(v visit) bool { return !v.hidden && v.node.Bounds.Contains(x, y) })
	if err != nil || len(matches) == 0 {
		return matches, err
	}
	return matches[len(matches)-1:], nil
}

// Focused returns the element that last received a click or text.
func (p *Provider) Focused(_ context.Context) (core.ElementHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkBound(); err != nil {
		return nil, err
	}
	if p.focused == nil {
		return nil, core.ErrElementNotFound.WithMessage("no focused element")
	}
	for _, v := range p.walk() {
		if v.node == p.focused {
			return &element{node: v.node, path: v.path}, nil
		}
	}
	return nil, core.ErrElementNotFound.WithMessage("focused element is no longer in the tree")
}

// live returns the node behind a handle, failing for stale handles.
func (p *Provider) live(el core.ElementHandle) (*element, error) {
	if err := p.checkBound(); err != nil {
		return nil, err
	}
	e, ok := el.(*element)
	if !ok || e == nil {
		return nil, fmt.Errorf("foreign element handle %T", el)
	}
	for _, v := range p.walk() {
		if v.node == e.node {
			return &element{node: v.node, path: v.path}, nil
		}
	}
	return nil, fmt.Errorf("stale element %s", e.Ref())
}

func (p *Provider) read(el core.ElementHandle, f func(n *Node) string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.live(el)
	if err != nil {
		return "", err
	}
	if err := p.failures["read"]; err != nil {
		return "", err
	}
	return f(e.node), nil
}

// ReadText returns the value, title or label, whichever is set first.
func (p *Provider) ReadText(_ context.Context, el core.ElementHandle) (string, error) {
	return p.read(el, func(n *Node) string {
		switch {
		case n.Value != "":
			return n.Value
		case n.Title != "":
			return n.Title
		default:
			return n.Label
		}
	})
}

// ReadValue returns the value attribute.
func (p *Provider) ReadValue(_ context.Context, el core.ElementHandle) (string, error) {
	return p.read(el, func(n *Node) string { return n.Value })
}

// ReadRole returns the role.
func (p *Provider) ReadRole(_ context.Context, el core.ElementHandle) (string, error) {
	return p.read(el, func(n *Node) string { return n.Role })
}

// IsEnabled reports whether the element is enabled.
func (p *Provider) IsEnabled(_ context.Context, el core.ElementHandle) (bool, error) {
	s, err := p.read(el, func(n *Node) string { return fmt.Sprint(!n.Disabled) })
	return s == "true", err
}

// IsVisible reports whether the element is visible.
func (p *Provider) IsVisible(_ context.Context, el core.ElementHandle) (bool, error) {
	s, err := p.read(el, func(n *Node) string { return fmt.Sprint(!n.Hidden) })
	return s == "true", err
}

// ListWindows returns the titles of top-level windows.
func (p *Provider) ListWindows(_ context.Context) ([]core.Window, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkBound(); err != nil {
		return nil, err
	}
	var out []core.Window
	for _, w := range p.cfg.Windows {
		if !w.Hidden {
			out = append(out, core.Window{Title: w.Title})
		}
	}
	return out, nil
}

// IsProcessBound reports whether the provider is attached to a running app.
func (p *Provider) IsProcessBound(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && p.bound, nil
}

func (p *Provider) identifies(by core.IdentifierKind, id string) bool {
	switch by {
	case core.ByBundleID:
		return id != "" && id == p.cfg.BundleID
	case core.ByName:
		return id != "" && strings.EqualFold(id, p.cfg.Name)
	case core.ByPath:
		return id != "" && id == p.cfg.Path
	default:
		return false
	}
}

// Attach binds to the application if it is running.
func (p *Provider) Attach(_ context.Context, by core.IdentifierKind, identifier string) (core.AppRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attaches++
	if err := p.failures["attach"]; err != nil {
		return core.AppRef{}, err
	}
	if !p.identifies(by, identifier) {
		return core.AppRef{}, fmt.Errorf("no application with %s %q", by, identifier)
	}
	if !p.running {
		return core.AppRef{}, fmt.Errorf("application %q is not running", identifier)
	}
	p.bound = true
	return core.AppRef{PID: p.pid, By: by, Identifier: identifier}, nil
}

// Launch starts the application and binds to it.
func (p *Provider) Launch(_ context.Context, by core.IdentifierKind, identifier string, args []string) (core.AppRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures["launch"]; err != nil {
		return core.AppRef{}, err
	}
	if !p.identifies(by, identifier) {
		return core.AppRef{}, fmt.Errorf("no application with %s %q", by, identifier)
	}
	p.launches++
	p.pid++
	p.running = true
	p.bound = true
	p.focused = nil
	p.lastArgs = append([]string(nil), args...)
	return core.AppRef{PID: p.pid, By: by, Identifier: identifier}, nil
}

// Terminate stops the application.
func (p *Provider) Terminate(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures["terminate"]; err != nil {
		return err
	}
	if !p.running {
		return core.ErrProcessGone.WithMessage("mock application is not running")
	}
	p.running = false
	p.bound = false
	p.focused = nil
	return nil
}

func (p *Provider) record(kind string, el core.ElementHandle, mutate func(e *element) error, ev Event) error {
	p.mu.Lock()
	if err := p.checkBound(); err != nil {
		p.mu.Unlock()
		return err
	}
	if err := p.failures[kind]; err != nil {
		p.mu.Unlock()
		return err
	}
	if el != nil {
		e, err := p.live(el)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		if mutate != nil {
			if err := mutate(e); err != nil {
				p.mu.Unlock()
				return err
			}
		}
		ev.Ref = e.path
	}
	ev.Kind = kind
	p.events = append(p.events, ev)
	hook := p.OnEvent
	p.mu.Unlock()

	if hook != nil {
		hook(p, ev)
	}
	return nil
}

func (p *Provider) focus(e *element) error {
	p.focused = e.node
	return nil
}

// Click clicks an element and focuses it.
func (p *Provider) Click(_ context.Context, el core.ElementHandle) error {
	return p.record("click", el, p.focus, Event{})
}

// DoubleClick double-clicks an element.
func (p *Provider) DoubleClick(_ context.Context, el core.ElementHandle) error {
	return p.record("double_click", el, p.focus, Event{})
}

// RightClick right-clicks an element.
func (p *Provider) RightClick(_ context.Context, el core.ElementHandle) error {
	return p.record("right_click", el, nil, Event{})
}

// Clear empties an element's value.
func (p *Provider) Clear(_ context.Context, el core.ElementHandle) error {
	return p.record("clear", el, func(e *element) error {
		if e.node.Disabled {
			return fmt.Errorf("element %s is disabled", e.path)
		}
		e.node.Value = ""
		p.focused = e.node
		return nil
	}, Event{})
}

// TypeText appends text to the element's value.
func (p *Provider) TypeText(_ context.Context, el core.ElementHandle, text string) error {
	return p.record("type", el, func(e *element) error {
		if e.node.Disabled {
			return fmt.Errorf("element %s is disabled", e.path)
		}
		e.node.Value += text
		p.focused = e.node
		return nil
	}, Event{Text: text})
}

// KeyCombo records a key chord.
func (p *Provider) KeyCombo(_ context.Context, keys []string) error {
	return p.record("keys", nil, nil, Event{Keys: append([]string(nil), keys...)})
}

// SelectMenu records a menu selection.
func (p *Provider) SelectMenu(_ context.Context, anchor core.ElementHandle, path []string) error {
	return p.record("menu", anchor, nil, Event{Keys: append([]string(nil), path...)})
}

// DragDrop records a drag from one element to another.
func (p *Provider) DragDrop(_ context.Context, from, to core.ElementHandle) error {
	p.mu.Lock()
	dst, err := p.live(to)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.record("drag", from, nil, Event{To: dst.path})
}

// Screenshot returns a mock PNG image.
func (p *Provider) Screenshot(_ context.Context) ([]byte, error) {
	// Minimal valid PNG (1x1 transparent pixel)
	return []byte{
		0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
		0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
		0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
		0x42, 0x60, 0x82,
	}, nil
}
