package browser

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Manager owns the Playwright driver and the pages opened through it.
// Concurrent workflow runs each get their own page.
type Manager struct {
	mu          sync.RWMutex
	pages       map[string]*PlaywrightPage
	playwright  *playwright.Playwright
	maxPages    int
	initialized bool
}

// NewManager creates a new page manager.
func NewManager() *Manager {
	return &Manager{
		pages:    make(map[string]*PlaywrightPage),
		maxPages: DefaultMaxPages,
	}
}

// Initialize installs and starts Playwright.
// This must be called before opening any pages.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	// Driver output would interleave with the CLI's progress lines
	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
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

// NewPage launches a browser with an isolated context and returns its page.
func (m *Manager) NewPage(name string, opts PageOptions) (*PlaywrightPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pages[name]; exists {
		return nil, fmt.Errorf("page %q already exists", name)
	}
	if len(m.pages) >= m.maxPages {
		return nil, fmt.Errorf("maximum number of pages (%d) reached", m.maxPages)
	}
	if !m.initialized {
		return nil, fmt.Errorf("page manager not initialized")
	}

	if opts.Viewport == nil {
		opts.Viewport = &Viewport{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	browser, err := m.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		_ = context.Close()
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))

	now := time.Now()
	p := &PlaywrightPage{
		Name:           name,
		Browser:        browser,
		Context:        context,
		Page:           page,
		Headless:       opts.Headless,
		CreatedAt:      now,
		defaultTimeout: opts.Timeout,
	}
	m.pages[name] = p
	return p, nil
}

// ClosePage closes and forgets a page.
func (m *Manager) ClosePage(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.pages[name]
	if !exists {
		return fmt.Errorf("page %q not found", name)
	}
	_ = p.close() // continue cleanup regardless
	delete(m.pages, name)
	return nil
}

// Shutdown closes all pages and stops Playwright.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, p := range m.pages {
		_ = p.close()
		delete(m.pages, name)
	}

	if m.initialized && m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		m.initialized = false
	}
	return nil
}

// SetMaxPages sets the maximum number of concurrent pages.
func (m *Manager) SetMaxPages(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxPages = n
}
