package page

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// Manager owns the Playwright runtime and every page it launches. It is the
// single place browsers are created and torn down; the engines receive Page
// values and never touch the driver directly.
type Manager struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	pages       map[string]*playwrightPage
	maxPages    int
	initialized bool
}

// NewManager creates a page manager. Initialize must be called before any
// page is requested.
func NewManager() *Manager {
	return &Manager{
		pages:    make(map[string]*playwrightPage),
		maxPages: DefaultMaxPages,
	}
}

// Initialize installs (if needed) and starts the Playwright driver.
// Safe to call more than once.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	// Discard driver output so it cannot interleave with engine logging
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	return nil
}

// NewPage launches a browser and returns a controllable page. The caller
// owns the page until Close; the manager tracks it for shutdown.
func (m *Manager) NewPage(opts Options) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("page manager not initialized")
	}
	if len(m.pages) >= m.maxPages {
		return nil, fmt.Errorf("maximum number of pages (%d) reached", m.maxPages)
	}

	if opts.ViewportWidth == 0 {
		opts.ViewportWidth = DefaultViewportWidth
	}
	if opts.ViewportHeight == 0 {
		opts.ViewportHeight = DefaultViewportHeight
	}
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = DefaultTimeout
	}

	browser, err := m.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
	}
	if opts.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	browserCtx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	pwPage, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	pwPage.SetDefaultTimeout(float64(opts.DefaultTimeout.Milliseconds()))

	id := uuid.New().String()
	pg := newPlaywrightPage(pwPage, browserCtx, browser, opts.DefaultTimeout)
	pg.onClose = func() {
		m.mu.Lock()
		delete(m.pages, id)
		m.mu.Unlock()
	}

	m.pages[id] = pg
	return pg, nil
}

// PageCount returns the number of live pages.
func (m *Manager) PageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// CloseAll closes every live page but leaves the driver running.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	pages := make([]*playwrightPage, 0, len(m.pages))
	for id, pg := range m.pages {
		pages = append(pages, pg)
		delete(m.pages, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, pg := range pages {
		pg.onClose = nil // already removed from the registry
		if err := pg.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing pages: %v", errs)
	}
	return nil
}

// Shutdown closes all pages and stops the Playwright driver. Idempotent and
// safe to call without a prior Initialize.
func (m *Manager) Shutdown() error {
	if err := m.CloseAll(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized && m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		m.initialized = false
	}
	return nil
}

// SetMaxPages sets the maximum number of concurrent pages.
func (m *Manager) SetMaxPages(max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxPages = max
}

// waitBudget converts a duration into Playwright's millisecond timeout,
// substituting the page default for zero.
func waitBudget(d, fallback time.Duration) float64 {
	if d <= 0 {
		d = fallback
	}
	return float64(d.Milliseconds())
}
