// Package page defines the narrow controllable-page contract the engine is
// built against, plus a Playwright-backed implementation. The capture,
// vault, replay, and runner packages depend only on the Page interface, not
// on any specific browser driver's full API.
package page

import (
	"context"
	"time"

	"github.com/entrhq/reprise/pkg/types"
)

// EventType identifies the kind of browser event delivered to subscribers.
type EventType string

const (
	EventNavigated EventType = "navigated" // EventNavigated fires when the main frame commits a navigation.
	EventClicked   EventType = "clicked"   // EventClicked fires on a user click.
	EventInput     EventType = "input"     // EventInput fires when an input's value changes.
	EventSelected  EventType = "selected"  // EventSelected fires when a select element changes.
	EventKeyPress  EventType = "keypress"  // EventKeyPress fires on a non-text key press (Enter, Tab, Escape).
	EventScrolled  EventType = "scrolled"  // EventScrolled fires on a settled scroll position change.
	EventConsole   EventType = "console"   // EventConsole carries a console message.
	EventRequest   EventType = "request"   // EventRequest carries an outgoing network request.
)

// Event is one normalized browser event. Detail carries best-effort element
// attributes gathered in the page (id, testId, name, role, classes, tag,
// text, xpath) for selector construction.
type Event struct {
	Type      EventType
	URL       string
	Selector  string
	Value     string
	X, Y      float64
	Timestamp time.Time
	Detail    map[string]any
}

// NavigateOptions bounds a navigation.
type NavigateOptions struct {
	// Timeout bounds the navigation. Zero means the page default.
	Timeout time.Duration

	// WaitUntil specifies when navigation is considered complete:
	// "load", "domcontentloaded", or "networkidle".
	WaitUntil string
}

// ActionOptions bounds a single element interaction.
type ActionOptions struct {
	// Timeout bounds the interaction. Zero means the page default.
	Timeout time.Duration
}

// WaitOptions configures waiting for a selector.
type WaitOptions struct {
	// State to wait for: "attached", "detached", "visible", "hidden".
	State string

	// Timeout bounds the wait. Zero means the page default.
	Timeout time.Duration
}

// Page is the controllable page primitive: navigate, interact, evaluate
// script, read cookies/storage, take screenshots, and subscribe to page
// events. At most one active operation (capture, login, or replay) owns a
// page at a time.
type Page interface {
	// Navigate loads a URL, bounded by opts.Timeout.
	Navigate(ctx context.Context, url string, opts NavigateOptions) error

	// Evaluate runs a script in the page and returns its result.
	Evaluate(ctx context.Context, script string) (any, error)

	// Click clicks the element matched by selector.
	Click(ctx context.Context, selector string, opts ActionOptions) error

	// Fill sets the value of the input matched by selector.
	Fill(ctx context.Context, selector, value string, opts ActionOptions) error

	// SelectOption picks an option of the select matched by selector.
	SelectOption(ctx context.Context, selector, value string, opts ActionOptions) error

	// Hover moves the pointer over the element matched by selector.
	Hover(ctx context.Context, selector string, opts ActionOptions) error

	// Press sends a key press to the element matched by selector.
	Press(ctx context.Context, selector, key string, opts ActionOptions) error

	// Scroll scrolls the page by the given deltas.
	Scroll(ctx context.Context, deltaX, deltaY float64) error

	// WaitForSelector blocks until the selector reaches the requested state.
	WaitForSelector(ctx context.Context, selector string, opts WaitOptions) error

	// QueryCount returns how many elements match the selector.
	QueryCount(ctx context.Context, selector string) (int, error)

	// Highlight visually marks the element matched by selector.
	Highlight(ctx context.Context, selector string) error

	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// Cookies returns the cookies visible to the page's context.
	Cookies(ctx context.Context) ([]types.Cookie, error)

	// SetCookies injects cookies into the page's context.
	SetCookies(ctx context.Context, cookies []types.Cookie) error

	// Storage snapshots localStorage and sessionStorage.
	Storage(ctx context.Context) (local, session map[string]string, err error)

	// ApplyStorage writes localStorage and sessionStorage entries.
	ApplyStorage(ctx context.Context, local, session map[string]string) error

	// UserAgent returns the page's user agent string.
	UserAgent(ctx context.Context) (string, error)

	// Subscribe registers a handler for page events and returns a cancel
	// function that detaches it. Handlers are invoked from browser-driven
	// callbacks and must not block.
	Subscribe(handler func(Event)) (cancel func(), err error)

	// URL returns the current page URL.
	URL() string

	// Close releases the page and its backing resources.
	Close() error
}

// Options configures a new page.
type Options struct {
	// Headless controls whether the browser runs without a visible window.
	Headless bool

	// ViewportWidth and ViewportHeight set the initial viewport size.
	ViewportWidth  int
	ViewportHeight int

	// UserAgent overrides the browser's user agent when non-empty. Used by
	// the vault when restoring a cached session.
	UserAgent string

	// DefaultTimeout applies to operations without an explicit timeout.
	DefaultTimeout time.Duration
}

// Default values for page construction and operations.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultMaxPages       = 5
)
