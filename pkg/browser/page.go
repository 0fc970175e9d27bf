package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightPage implements Page on top of a Playwright browser page.
// Playwright calls take millisecond timeouts rather than contexts, so each
// call derives its timeout from the context deadline.
type PlaywrightPage struct {
	// Name is the unique identifier for this page within its manager
	Name string

	// Browser is the Playwright browser instance
	Browser playwright.Browser

	// Context is the browser context (isolated session)
	Context playwright.BrowserContext

	// Page is the current active page
	Page playwright.Page

	// Headless indicates if the browser is running in headless mode
	Headless bool

	// CreatedAt is the timestamp when the page was created
	CreatedAt time.Time

	defaultTimeout time.Duration
}

var _ Page = (*PlaywrightPage)(nil)

// touch checks the context before a Playwright call.
func (p *PlaywrightPage) touch(ctx context.Context) error {
	return ctx.Err()
}

// bounded runs a Playwright call that takes no timeout and returns early when
// ctx is done. The call keeps running in the background until Playwright
// returns.
func bounded[T any](ctx context.Context, call func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// timeout converts the context deadline into a Playwright timeout in
// milliseconds, falling back to the page default.
func (p *PlaywrightPage) timeout(ctx context.Context) *float64 {
	d := p.defaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < d || d == 0 {
			d = remaining
		}
	}
	if d <= 0 {
		d = time.Millisecond
	}
	ms := float64(d.Milliseconds())
	return &ms
}

// Ping confirms the page is open and its JavaScript runtime responds.
func (p *PlaywrightPage) Ping(ctx context.Context) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	if p.Page == nil || p.Page.IsClosed() {
		return ErrClosed
	}
	_, err := bounded(ctx, func() (interface{}, error) { return p.Page.Evaluate("1") })
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// URL returns the current page URL.
func (p *PlaywrightPage) URL() string {
	return p.Page.URL()
}

// Title returns the document title.
func (p *PlaywrightPage) Title(ctx context.Context) (string, error) {
	if err := p.touch(ctx); err != nil {
		return "", err
	}
	title, err := bounded(ctx, p.Page.Title)
	if err != nil {
		return "", fmt.Errorf("title failed: %w", err)
	}
	return title, nil
}

// Content returns the serialized DOM.
func (p *PlaywrightPage) Content(ctx context.Context) (string, error) {
	if err := p.touch(ctx); err != nil {
		return "", err
	}
	content, err := bounded(ctx, p.Page.Content)
	if err != nil {
		return "", fmt.Errorf("content failed: %w", err)
	}
	return content, nil
}

// Screenshot captures the viewport (or full page) as PNG or JPEG.
func (p *PlaywrightPage) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if err := p.touch(ctx); err != nil {
		return nil, err
	}

	playwrightOpts := playwright.PageScreenshotOptions{
		Timeout:  p.timeout(ctx),
		FullPage: playwright.Bool(opts.FullPage),
	}
	switch opts.Type {
	case "", ScreenshotPNG:
		playwrightOpts.Type = playwright.ScreenshotTypePng
	case ScreenshotJPEG:
		playwrightOpts.Type = playwright.ScreenshotTypeJpeg
		if opts.Quality > 0 {
			playwrightOpts.Quality = playwright.Int(opts.Quality)
		}
	default:
		return nil, fmt.Errorf("unsupported screenshot type: %s", opts.Type)
	}

	data, err := p.Page.Screenshot(playwrightOpts)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

// Evaluate runs script in the page.
func (p *PlaywrightPage) Evaluate(ctx context.Context, script string, arg interface{}) (interface{}, error) {
	if err := p.touch(ctx); err != nil {
		return nil, err
	}
	result, err := bounded(ctx, func() (interface{}, error) {
		if arg != nil {
			return p.Page.Evaluate(script, arg)
		}
		return p.Page.Evaluate(script)
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	return result, nil
}

// Navigate loads url and waits for the load event.
func (p *PlaywrightPage) Navigate(ctx context.Context, url string) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	waitUntil := playwright.WaitUntilStateLoad
	_, err := p.Page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntil,
		Timeout:   p.timeout(ctx),
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Click clicks the element matching selector.
func (p *PlaywrightPage) Click(ctx context.Context, selector string) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	if err := p.Page.Click(selector, playwright.PageClickOptions{Timeout: p.timeout(ctx)}); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

// Fill types value into the input matching selector.
func (p *PlaywrightPage) Fill(ctx context.Context, selector, value string) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	if err := p.Page.Fill(selector, value, playwright.PageFillOptions{Timeout: p.timeout(ctx)}); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

// Scroll moves the viewport with the mouse wheel.
func (p *PlaywrightPage) Scroll(ctx context.Context, dx, dy float64) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	_, err := bounded(ctx, func() (struct{}, error) { return struct{}{}, p.Page.Mouse().Wheel(dx, dy) })
	if err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

// Reload reloads the current page.
func (p *PlaywrightPage) Reload(ctx context.Context) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	if _, err := p.Page.Reload(playwright.PageReloadOptions{Timeout: p.timeout(ctx)}); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return nil
}

// WaitForSelector waits until selector is visible.
func (p *PlaywrightPage) WaitForSelector(ctx context.Context, selector string) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	_, err := p.Page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: p.timeout(ctx),
	})
	if err != nil {
		return fmt.Errorf("wait failed: %w", err)
	}
	return nil
}

// WaitForSettle waits for network idle.
func (p *PlaywrightPage) WaitForSettle(ctx context.Context) error {
	if err := p.touch(ctx); err != nil {
		return err
	}
	err := p.Page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: p.timeout(ctx),
	})
	if err != nil {
		return fmt.Errorf("settle failed: %w", err)
	}
	return nil
}

// close releases the Playwright resources, ignoring errors so cleanup continues.
func (p *PlaywrightPage) close() []error {
	var errs []error
	if err := p.Page.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.Context.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.Browser.Close(); err != nil {
		errs = append(errs, err)
	}
	return errs
}
