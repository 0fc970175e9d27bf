// Package browsertest provides a scriptable in-memory browser.Page for tests.
package browsertest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"

	"github.com/entrhq/wayfinder/pkg/browser"
)

// ErrNotFound is returned when an action targets a selector with no element.
var ErrNotFound = errors.New("browsertest: element not found")

// Screen is one page the fake can display.
type Screen struct {
	URL   string
	Title string
	HTML  string

	// Visible lists the selectors WaitForSelector finds on this screen
	Visible []string
}

type transitionKey struct {
	url, selector string
}

// Page is a deterministic browser.Page. Screens are addressed by URL and
// clicks or fills move between them along registered transitions.
type Page struct {
	mu          sync.Mutex
	screens     map[string]Screen
	transitions map[transitionKey]string
	failures    map[string]int
	current     string
	unreachable bool
	hangSettle  bool
	layout      interface{}
	evalErr     error
	width       int
	height      int
	calls       []string
	fills       map[string]string
}

var _ browser.Page = (*Page)(nil)

// New creates a fake page showing about:blank.
func New(screens ...Screen) *Page {
	p := &Page{
		screens:     make(map[string]Screen),
		transitions: make(map[transitionKey]string),
		failures:    make(map[string]int),
		fills:       make(map[string]string),
		current:     "about:blank",
		width:       64,
		height:      48,
		layout: map[string]interface{}{
			"tag":      "body",
			"children": []interface{}{map[string]interface{}{"tag": "main"}},
		},
	}
	p.screens["about:blank"] = Screen{URL: "about:blank", HTML: "<html><body></body></html>"}
	for _, s := range screens {
		p.screens[s.URL] = s
	}
	return p
}

// On makes an action on selector while fromURL is shown display toURL.
func (p *Page) On(fromURL, selector, toURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions[transitionKey{url: fromURL, selector: selector}] = toURL
}

// FailNext makes the next n actions on selector fail.
func (p *Page) FailNext(selector string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[selector] = n
}

// SetUnreachable makes Ping fail.
func (p *Page) SetUnreachable(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unreachable = v
}

// SetHangSettle makes WaitForSettle block until its context ends.
func (p *Page) SetHangSettle(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangSettle = v
}

// SetLayout sets the value returned by Evaluate. A non-nil err makes
// Evaluate fail instead.
func (p *Page) SetLayout(v interface{}, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.layout = v
	p.evalErr = err
}

// Calls returns the recorded operations, e.g. "click #buy".
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Filled returns the value typed into selector.
func (p *Page) Filled(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills[selector]
}

func (p *Page) record(format string, args ...interface{}) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *Page) screen() Screen {
	return p.screens[p.current]
}

func (p *Page) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unreachable {
		return browser.ErrClosed
	}
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Page) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screen().Title, nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screen().HTML, nil
}

// Screenshot renders a solid image whose colour is derived from the URL, so
// distinct screens produce distinct bytes.
func (p *Page) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	url, w, h := p.current, p.width, p.height
	p.mu.Unlock()

	f := fnv.New32a()
	_, _ = f.Write([]byte(url))
	sum := f.Sum32()
	c := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	var err error
	switch opts.Type {
	case browser.ScreenshotJPEG:
		q := opts.Quality
		if q <= 0 {
			q = 80
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: q})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Page) Evaluate(ctx context.Context, script string, arg interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.evalErr != nil {
		return nil, p.evalErr
	}
	return p.layout, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate %s", url)
	if _, ok := p.screens[url]; !ok {
		return fmt.Errorf("navigation failed: no screen for %s", url)
	}
	p.current = url
	return nil
}

func (p *Page) act(ctx context.Context, verb, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("%s %s", verb, selector)
	if n := p.failures[selector]; n > 0 {
		p.failures[selector] = n - 1
		return fmt.Errorf("%s failed: %w: %s", verb, ErrNotFound, selector)
	}
	to, ok := p.transitions[transitionKey{url: p.current, selector: selector}]
	if !ok {
		return fmt.Errorf("%s failed: %w: %s", verb, ErrNotFound, selector)
	}
	p.current = to
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.act(ctx, "click", selector)
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := p.act(ctx, "fill", selector); err != nil {
		return err
	}
	p.mu.Lock()
	p.fills[selector] = value
	p.mu.Unlock()
	return nil
}

func (p *Page) Scroll(ctx context.Context, dx, dy float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("scroll %.0f,%.0f", dx, dy)
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("reload")
	return nil
}

func (p *Page) WaitForSelector(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.screen().Visible {
		if s == selector {
			return nil
		}
	}
	return fmt.Errorf("wait failed: %w: %s", ErrNotFound, selector)
}

func (p *Page) WaitForSettle(ctx context.Context) error {
	p.mu.Lock()
	hang := p.hangSettle
	p.mu.Unlock()
	if hang {
		<-ctx.Done()
		return fmt.Errorf("settle failed: %w", ctx.Err())
	}
	return ctx.Err()
}
