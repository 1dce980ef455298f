package core

import (
	"context"
	"time"
)

// ElementHandle is an opaque reference to a node of the accessibility tree.
// It is owned by the provider that returned it and is valid for one
// resolution use; callers must not cache it across steps.
type ElementHandle interface {
	// Ref identifies the element for diagnostics.
	Ref() string
}

// Window describes a top-level window of the target application.
type Window struct {
	Title string `json:"title"`
}

// IdentifierKind says how an application identifier is interpreted.
type IdentifierKind string

const (
	ByBundleID IdentifierKind = "bundle_id"
	ByName     IdentifierKind = "name"
	ByPath     IdentifierKind = "path"
)

// AppRef describes the process a provider is bound to.
type AppRef struct {
	PID        int            `json:"pid,omitempty"`
	By         IdentifierKind `json:"by"`
	Identifier string         `json:"identifier"`
}

// ElementQuerier runs locator queries. Every method returns matches in the
// provider's traversal order; an empty slice means no match.
type ElementQuerier interface {
	FindByID(ctx context.Context, id string) ([]ElementHandle, error)
	FindByRoleLabel(ctx context.Context, role, label string) ([]ElementHandle, error)
	FindByRoleTitle(ctx context.Context, role, title string) ([]ElementHandle, error)
	FindByText(ctx context.Context, substring string) ([]ElementHandle, error)
	FindByPath(ctx context.Context, path string) ([]ElementHandle, error)
	FindAtPoint(ctx context.Context, x, y int) ([]ElementHandle, error)
	Focused(ctx context.Context) (ElementHandle, error)
}

// ElementInspector reads element attributes and state.
type ElementInspector interface {
	ReadText(ctx context.Context, el ElementHandle) (string, error)
	ReadValue(ctx context.Context, el ElementHandle) (string, error)
	ReadRole(ctx context.Context, el ElementHandle) (string, error)
	IsEnabled(ctx context.Context, el ElementHandle) (bool, error)
	IsVisible(ctx context.Context, el ElementHandle) (bool, error)
}

// ProcessController manages the bound application process.
type ProcessController interface {
	ListWindows(ctx context.Context) ([]Window, error)
	IsProcessBound(ctx context.Context) (bool, error)
	Attach(ctx context.Context, by IdentifierKind, identifier string) (AppRef, error)
	Launch(ctx context.Context, by IdentifierKind, identifier string, args []string) (AppRef, error)
	Terminate(ctx context.Context) error
}

// Interactor sends OS-level input events. Each call is one side effect and
// is never retried by the engine.
type Interactor interface {
	Click(ctx context.Context, el ElementHandle) error
	DoubleClick(ctx context.Context, el ElementHandle) error
	RightClick(ctx context.Context, el ElementHandle) error
	Clear(ctx context.Context, el ElementHandle) error
	TypeText(ctx context.Context, el ElementHandle, text string) error
	KeyCombo(ctx context.Context, keys []string) error
	SelectMenu(ctx context.Context, anchor ElementHandle, path []string) error
	DragDrop(ctx context.Context, from, to ElementHandle) error
}

// Provider is the platform accessibility adapter the engine consumes.
// Any method may return an error wrapping ErrProcessGone when the bound
// application has exited.
type Provider interface {
	ElementQuerier
	ElementInspector
	ProcessController
	Interactor
}

// ScreenCapturer is implemented by providers that can capture the screen.
type ScreenCapturer interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// TargetApp identifies the application under test.
type TargetApp struct {
	BundleID   string   `yaml:"bundle_id,omitempty" toml:"bundle_id" json:"bundleId,omitempty"`
	Name       string   `yaml:"name,omitempty" toml:"name" json:"name,omitempty"`
	Path       string   `yaml:"path,omitempty" toml:"path" json:"path,omitempty"`
	LaunchArgs []string `yaml:"launch_args,omitempty" toml:"launch_args" json:"launchArgs,omitempty"`
}

// AppIdentifier is one way of addressing the target application.
type AppIdentifier struct {
	By    IdentifierKind
	Value string
}

// Identifiers returns the configured identifiers in preference order:
// bundle id, then process name, then path.
func (a TargetApp) Identifiers() []AppIdentifier {
	var ids []AppIdentifier
	if a.BundleID != "" {
		ids = append(ids, AppIdentifier{By: ByBundleID, Value: a.BundleID})
	}
	if a.Name != "" {
		ids = append(ids, AppIdentifier{By: ByName, Value: a.Name})
	}
	if a.Path != "" {
		ids = append(ids, AppIdentifier{By: ByPath, Value: a.Path})
	}
	return ids
}

// IsZero reports whether no identifier is configured.
func (a TargetApp) IsZero() bool {
	return a.BundleID == "" && a.Name == "" && a.Path == ""
}

// String returns the most specific identifier.
func (a TargetApp) String() string {
	if ids := a.Identifiers(); len(ids) > 0 {
		return ids[0].Value
	}
	return "<none>"
}

// CommandResult represents the outcome of executing a single step action
type CommandResult struct {
	Success  bool          `json:"success"`
	Error    error         `json:"-"`
	Duration time.Duration `json:"duration"`

	// Human-readable output
	Message string `json:"message,omitempty"`

	// Observed value for assertions and script output
	Actual string `json:"actual,omitempty"`
}

// Ok returns a successful CommandResult.
func Ok(msg string) *CommandResult {
	return &CommandResult{Success: true, Message: msg}
}

// Fail returns a failed CommandResult carrying err.
func Fail(err error) *CommandResult {
	return &CommandResult{Success: false, Error: err, Message: err.Error()}
}
