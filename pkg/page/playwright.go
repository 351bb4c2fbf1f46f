package page

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/reprise/pkg/types"
)

// playwrightPage adapts a Playwright page to the Page contract. One
// playwrightPage owns its browser, context, and page triple; closing the
// page tears all three down.
type playwrightPage struct {
	page    playwright.Page
	context playwright.BrowserContext
	browser playwright.Browser

	defaultTimeout time.Duration
	onClose        func()
	closeOnce      sync.Once

	mu                sync.Mutex
	handlers          map[int]func(Event)
	nextHandlerID     int
	recorderInstalled bool
}

func newPlaywrightPage(pg playwright.Page, ctx playwright.BrowserContext, browser playwright.Browser, defaultTimeout time.Duration) *playwrightPage {
	return &playwrightPage{
		page:           pg,
		context:        ctx,
		browser:        browser,
		defaultTimeout: defaultTimeout,
		handlers:       make(map[int]func(Event)),
	}
}

func (p *playwrightPage) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	gotoOpts := playwright.PageGotoOptions{
		Timeout: playwright.Float(waitBudget(opts.Timeout, p.defaultTimeout)),
	}
	if opts.WaitUntil != "" {
		waitUntil := playwright.WaitUntilState(opts.WaitUntil)
		gotoOpts.WaitUntil = &waitUntil
	}

	if _, err := p.page.Goto(url, gotoOpts); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := p.page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	return result, nil
}

func (p *playwrightPage) Click(ctx context.Context, selector string, opts ActionOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.page.Click(selector, playwright.PageClickOptions{
		Timeout: playwright.Float(waitBudget(opts.Timeout, p.defaultTimeout)),
	})
	if err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) Fill(ctx context.Context, selector, value string, opts ActionOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.page.Fill(selector, value, playwright.PageFillOptions{
		Timeout: playwright.Float(waitBudget(opts.Timeout, p.defaultTimeout)),
	})
	if err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) SelectOption(ctx context.Context, selector, value string, opts ActionOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.SelectOption(selector, playwright.SelectOptionValues{
		Values: &[]string{value},
	}, playwright.PageSelectOptionOptions{
		Timeout: playwright.Float(waitBudget(opts.Timeout, p.defaultTimeout)),
	})
	if err != nil {
		return fmt.Errorf("select option failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) Hover(ctx context.Context, selector string, opts ActionOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.page.Hover(selector, playwright.PageHoverOptions{
		Timeout: playwright.Float(waitBudget(opts.Timeout, p.defaultTimeout)),
	})
	if err != nil {
		return fmt.Errorf("hover failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) Press(ctx context.Context, selector, key string, opts ActionOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.page.Press(selector, key, playwright.PagePressOptions{
		Timeout: playwright.Float(waitBudget(opts.Timeout, p.defaultTimeout)),
	})
	if err != nil {
		return fmt.Errorf("press failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) Scroll(ctx context.Context, deltaX, deltaY float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Mouse().Wheel(deltaX, deltaY); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) WaitForSelector(ctx context.Context, selector string, opts WaitOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	waitOpts := playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(waitBudget(opts.Timeout, p.defaultTimeout)),
	}
	if opts.State != "" {
		state := playwright.WaitForSelectorState(opts.State)
		waitOpts.State = &state
	}
	if _, err := p.page.WaitForSelector(selector, waitOpts); err != nil {
		return fmt.Errorf("wait failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) QueryCount(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count, err := p.page.Locator(selector).Count()
	if err != nil {
		return 0, fmt.Errorf("selector query failed: %w", err)
	}
	return count, nil
}

// highlightScript outlines the first element matching the selector so a
// human observer can follow a replay.
const highlightScript = `(selector) => {
	const el = document.querySelector(selector);
	if (!el) return false;
	el.scrollIntoView({block: 'center', behavior: 'instant'});
	el.style.outline = '3px solid #f97316';
	el.style.outlineOffset = '2px';
	setTimeout(() => { el.style.outline = ''; el.style.outlineOffset = ''; }, 1500);
	return true;
}`

func (p *playwrightPage) Highlight(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	found, err := p.page.Evaluate(highlightScript, selector)
	if err != nil {
		return fmt.Errorf("highlight failed: %w", err)
	}
	if ok, _ := found.(bool); !ok {
		return fmt.Errorf("no element found matching selector: %s", selector)
	}
	return nil
}

func (p *playwrightPage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

func (p *playwrightPage) Cookies(ctx context.Context) ([]types.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := p.context.Cookies()
	if err != nil {
		return nil, fmt.Errorf("cookie read failed: %w", err)
	}

	cookies := make([]types.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := types.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

func (p *playwrightPage) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	converted := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Expires != 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		if c.SameSite != "" {
			sameSite := playwright.SameSiteAttribute(c.SameSite)
			oc.SameSite = &sameSite
		}
		converted = append(converted, oc)
	}
	if err := p.context.AddCookies(converted); err != nil {
		return fmt.Errorf("cookie injection failed: %w", err)
	}
	return nil
}

const storageReadScript = `() => {
	const dump = (s) => { const out = {}; for (let i = 0; i < s.length; i++) { const k = s.key(i); out[k] = s.getItem(k); } return out; };
	return { local: dump(window.localStorage), session: dump(window.sessionStorage) };
}`

func (p *playwrightPage) Storage(ctx context.Context) (map[string]string, map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	result, err := p.page.Evaluate(storageReadScript)
	if err != nil {
		return nil, nil, fmt.Errorf("storage read failed: %w", err)
	}

	parsed, ok := result.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("storage read returned unexpected shape %T", result)
	}
	return toStringMap(parsed["local"]), toStringMap(parsed["session"]), nil
}

const storageWriteScript = `(state) => {
	for (const [k, v] of Object.entries(state.local || {})) window.localStorage.setItem(k, v);
	for (const [k, v] of Object.entries(state.session || {})) window.sessionStorage.setItem(k, v);
}`

func (p *playwrightPage) ApplyStorage(ctx context.Context, local, session map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state := map[string]any{"local": local, "session": session}
	if _, err := p.page.Evaluate(storageWriteScript, state); err != nil {
		return fmt.Errorf("storage write failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) UserAgent(ctx context.Context) (string, error) {
	result, err := p.Evaluate(ctx, "() => navigator.userAgent")
	if err != nil {
		return "", err
	}
	ua, _ := result.(string)
	return ua, nil
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

// Subscribe wires browser callbacks into the handler. The first subscription
// installs the in-page recorder (an init script plus an exposed binding) and
// the driver-level listeners; later subscriptions reuse them.
func (p *playwrightPage) Subscribe(handler func(Event)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.recorderInstalled {
		if err := p.installRecorder(); err != nil {
			return nil, err
		}
		p.recorderInstalled = true
	}

	id := p.nextHandlerID
	p.nextHandlerID++
	p.handlers[id] = handler

	cancel := func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
	return cancel, nil
}

func (p *playwrightPage) dispatch(ev Event) {
	p.mu.Lock()
	handlers := make([]func(Event), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// installRecorder is called with p.mu held.
func (p *playwrightPage) installRecorder() error {
	// DOM-level events come from an in-page recorder that forwards them
	// through an exposed binding. Raw JSON keeps the bridge shape-agnostic.
	err := p.page.ExposeBinding("__repriseEmit", func(source *playwright.BindingSource, args ...any) any {
		if len(args) == 0 {
			return nil
		}
		payload, ok := args[0].(string)
		if !ok {
			return nil
		}
		var raw struct {
			Type   string         `json:"type"`
			Value  string         `json:"value"`
			X      float64        `json:"x"`
			Y      float64        `json:"y"`
			Detail map[string]any `json:"detail"`
		}
		if jsonErr := json.Unmarshal([]byte(payload), &raw); jsonErr != nil {
			return nil
		}
		p.dispatch(Event{
			Type:      EventType(raw.Type),
			URL:       p.page.URL(),
			Value:     raw.Value,
			X:         raw.X,
			Y:         raw.Y,
			Timestamp: time.Now(),
			Detail:    raw.Detail,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to expose recorder binding: %w", err)
	}

	if err := p.page.AddInitScript(playwright.Script{Content: playwright.String(recorderScript)}); err != nil {
		return fmt.Errorf("failed to add recorder init script: %w", err)
	}
	// Init scripts only apply from the next navigation; arm the current
	// document too.
	if _, err := p.page.Evaluate(recorderScript); err != nil {
		return fmt.Errorf("failed to arm recorder on current page: %w", err)
	}

	p.page.OnFrameNavigated(func(frame playwright.Frame) {
		if frame.ParentFrame() != nil {
			return // main frame only
		}
		p.dispatch(Event{
			Type:      EventNavigated,
			URL:       frame.URL(),
			Timestamp: time.Now(),
		})
	})
	p.page.OnConsole(func(msg playwright.ConsoleMessage) {
		p.dispatch(Event{
			Type:      EventConsole,
			URL:       p.page.URL(),
			Value:     msg.Text(),
			Timestamp: time.Now(),
			Detail:    map[string]any{"level": msg.Type()},
		})
	})
	p.page.OnRequest(func(req playwright.Request) {
		p.dispatch(Event{
			Type:      EventRequest,
			URL:       req.URL(),
			Timestamp: time.Now(),
			Detail:    map[string]any{"method": req.Method(), "resourceType": req.ResourceType()},
		})
	})
	return nil
}

func (p *playwrightPage) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.handlers = make(map[int]func(Event))
		p.mu.Unlock()

		// Continue teardown past individual failures
		if e := p.page.Close(); e != nil {
			err = e
		}
		if e := p.context.Close(); e != nil && err == nil {
			err = e
		}
		if e := p.browser.Close(); e != nil && err == nil {
			err = e
		}
		if p.onClose != nil {
			p.onClose()
		}
	})
	return err
}

func toStringMap(v any) map[string]string {
	out := make(map[string]string)
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

// recorderScript observes user interactions in the page and forwards them
// through the exposed binding as JSON. Element attributes are gathered
// best-effort for selector construction.
const recorderScript = `(() => {
	if (window.__repriseArmed) return;
	window.__repriseArmed = true;

	const attrs = (el) => {
		if (!el || !el.tagName) return {};
		const xpathOf = (node) => {
			const parts = [];
			while (node && node.nodeType === Node.ELEMENT_NODE) {
				let index = 1;
				let sibling = node.previousElementSibling;
				while (sibling) {
					if (sibling.tagName === node.tagName) index++;
					sibling = sibling.previousElementSibling;
				}
				parts.unshift(node.tagName.toLowerCase() + '[' + index + ']');
				node = node.parentElement;
			}
			return '/' + parts.join('/');
		};
		return {
			tag: el.tagName.toLowerCase(),
			id: el.id || '',
			testId: el.getAttribute('data-testid') || el.getAttribute('data-test-id') || '',
			name: el.getAttribute('name') || '',
			role: el.getAttribute('role') || '',
			classes: (el.className && typeof el.className === 'string') ? el.className.trim() : '',
			text: (el.innerText || '').trim().slice(0, 80),
			xpath: xpathOf(el),
		};
	};

	const emit = (type, el, value, x, y) => {
		if (typeof window.__repriseEmit !== 'function') return;
		window.__repriseEmit(JSON.stringify({type, value: value || '', x: x || 0, y: y || 0, detail: attrs(el)}));
	};

	document.addEventListener('click', (e) => emit('clicked', e.target, '', e.pageX, e.pageY), true);
	document.addEventListener('change', (e) => {
		const el = e.target;
		if (el.tagName === 'SELECT') {
			emit('selected', el, el.value);
		} else {
			emit('input', el, el.value || '');
		}
	}, true);
	document.addEventListener('keydown', (e) => {
		if (['Enter', 'Tab', 'Escape'].includes(e.key)) emit('keypress', e.target, e.key);
	}, true);

	let scrollTimer = null;
	window.addEventListener('scroll', () => {
		clearTimeout(scrollTimer);
		scrollTimer = setTimeout(() => emit('scrolled', document.body, '', window.scrollX, window.scrollY), 200);
	}, true);
})()`
