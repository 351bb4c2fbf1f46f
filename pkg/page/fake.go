package page

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/reprise/pkg/types"
)

// FakePage is an in-memory Page used by the engine tests. Responses are
// scripted through the exported fields; every interaction is recorded in
// Calls in invocation order.
type FakePage struct {
	mu sync.Mutex

	// Calls records each method invocation as "method selector/url".
	Calls []string

	// CurrentURL is updated by Navigate.
	CurrentURL string

	// FailOn maps a method name ("navigate", "click", "fill", "cookies",
	// ...) to the error it should return.
	FailOn map[string]error

	// SelectorCounts maps selector -> match count for QueryCount. Selectors
	// not present count as zero matches.
	SelectorCounts map[string]int

	// CookieJar, Local, Session, and Agent back the state snapshot methods.
	CookieJar []types.Cookie
	Local     map[string]string
	SessionKV map[string]string
	Agent     string

	// EvaluateResult is returned by Evaluate when no failure is scripted.
	EvaluateResult any

	// ScreenshotData is returned by Screenshot.
	ScreenshotData []byte

	handlers      map[int]func(Event)
	nextHandlerID int
	closed        bool
}

// NewFakePage creates a fake page with empty state.
func NewFakePage() *FakePage {
	return &FakePage{
		FailOn:         make(map[string]error),
		SelectorCounts: make(map[string]int),
		Local:          make(map[string]string),
		SessionKV:      make(map[string]string),
		Agent:          "reprise-test-agent",
		ScreenshotData: []byte("png"),
		handlers:       make(map[int]func(Event)),
	}
}

func (f *FakePage) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
	return nil
}

func (f *FakePage) fail(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.FailOn[method]
}

// Emit delivers an event to all subscribed handlers, simulating a
// browser-driven callback.
func (f *FakePage) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	f.mu.Lock()
	handlers := make([]func(Event), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// SubscriberCount reports how many handlers are currently attached.
func (f *FakePage) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *FakePage) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if err := f.fail("navigate"); err != nil {
		return err
	}
	f.record("navigate " + url)
	f.mu.Lock()
	f.CurrentURL = url
	f.mu.Unlock()
	return nil
}

func (f *FakePage) Evaluate(ctx context.Context, script string) (any, error) {
	if err := f.fail("evaluate"); err != nil {
		return nil, err
	}
	f.record("evaluate")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.EvaluateResult, nil
}

func (f *FakePage) Click(ctx context.Context, selector string, opts ActionOptions) error {
	if err := f.fail("click"); err != nil {
		return err
	}
	return f.record("click " + selector)
}

func (f *FakePage) Fill(ctx context.Context, selector, value string, opts ActionOptions) error {
	if err := f.fail("fill"); err != nil {
		return err
	}
	return f.record(fmt.Sprintf("fill %s=%s", selector, value))
}

func (f *FakePage) SelectOption(ctx context.Context, selector, value string, opts ActionOptions) error {
	if err := f.fail("select"); err != nil {
		return err
	}
	return f.record(fmt.Sprintf("select %s=%s", selector, value))
}

func (f *FakePage) Hover(ctx context.Context, selector string, opts ActionOptions) error {
	if err := f.fail("hover"); err != nil {
		return err
	}
	return f.record("hover " + selector)
}

func (f *FakePage) Press(ctx context.Context, selector, key string, opts ActionOptions) error {
	if err := f.fail("press"); err != nil {
		return err
	}
	return f.record(fmt.Sprintf("press %s %s", selector, key))
}

func (f *FakePage) Scroll(ctx context.Context, deltaX, deltaY float64) error {
	if err := f.fail("scroll"); err != nil {
		return err
	}
	return f.record(fmt.Sprintf("scroll %.0f,%.0f", deltaX, deltaY))
}

func (f *FakePage) WaitForSelector(ctx context.Context, selector string, opts WaitOptions) error {
	if err := f.fail("wait"); err != nil {
		return err
	}
	return f.record("wait " + selector)
}

func (f *FakePage) QueryCount(ctx context.Context, selector string) (int, error) {
	if err := f.fail("query"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SelectorCounts[selector], nil
}

func (f *FakePage) Highlight(ctx context.Context, selector string) error {
	if err := f.fail("highlight"); err != nil {
		return err
	}
	return f.record("highlight " + selector)
}

func (f *FakePage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := f.fail("screenshot"); err != nil {
		return nil, err
	}
	f.record("screenshot")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ScreenshotData, nil
}

func (f *FakePage) Cookies(ctx context.Context) ([]types.Cookie, error) {
	if err := f.fail("cookies"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Cookie(nil), f.CookieJar...), nil
}

func (f *FakePage) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	if err := f.fail("setCookies"); err != nil {
		return err
	}
	f.record(fmt.Sprintf("setCookies n=%d", len(cookies)))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CookieJar = append(f.CookieJar, cookies...)
	return nil
}

func (f *FakePage) Storage(ctx context.Context) (map[string]string, map[string]string, error) {
	if err := f.fail("storage"); err != nil {
		return nil, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyMap(f.Local), copyMap(f.SessionKV), nil
}

func (f *FakePage) ApplyStorage(ctx context.Context, local, session map[string]string) error {
	if err := f.fail("applyStorage"); err != nil {
		return err
	}
	f.record("applyStorage")
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range local {
		f.Local[k] = v
	}
	for k, v := range session {
		f.SessionKV[k] = v
	}
	return nil
}

func (f *FakePage) UserAgent(ctx context.Context) (string, error) {
	if err := f.fail("userAgent"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Agent, nil
}

func (f *FakePage) Subscribe(handler func(Event)) (func(), error) {
	if err := f.fail("subscribe"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextHandlerID
	f.nextHandlerID++
	f.handlers[id] = handler
	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}, nil
}

func (f *FakePage) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CurrentURL
}

func (f *FakePage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.handlers = make(map[int]func(Event))
	return nil
}

// Closed reports whether Close has been called.
func (f *FakePage) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Page = (*FakePage)(nil)
