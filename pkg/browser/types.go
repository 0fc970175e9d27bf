package browser

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned when the page handle is no longer reachable.
var ErrClosed = errors.New("browser: page closed")

// Page is the automation capability the core drives. Every method blocks
// until the browser reports success or failure, and honours ctx.
type Page interface {
	// Ping confirms the page handle is reachable.
	Ping(ctx context.Context) error

	URL() string
	Title(ctx context.Context) (string, error)

	// Content returns the serialized DOM.
	Content(ctx context.Context) (string, error)

	// Screenshot returns raw image bytes in the requested format.
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)

	// Evaluate runs a script in the page and returns its JSON-compatible result.
	Evaluate(ctx context.Context, script string, arg interface{}) (interface{}, error)

	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Scroll(ctx context.Context, dx, dy float64) error
	Reload(ctx context.Context) error

	// WaitForSelector blocks until selector is visible.
	WaitForSelector(ctx context.Context, selector string) error

	// WaitForSettle blocks until the page reaches network idle.
	WaitForSettle(ctx context.Context) error
}

// ScreenshotType is the raster encoding of a screenshot.
type ScreenshotType string

const (
	ScreenshotPNG  ScreenshotType = "png"
	ScreenshotJPEG ScreenshotType = "jpeg"
)

// ScreenshotOptions configures screenshot capture.
type ScreenshotOptions struct {
	// Type is the raster format (default png)
	Type ScreenshotType

	// Quality is the JPEG quality 0-100 (ignored for png)
	Quality int

	// FullPage captures the full scrollable page
	FullPage bool
}

// PageOptions configures a new browser page.
type PageOptions struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the initial viewport size
	Viewport *Viewport

	// Timeout sets the default timeout for operations
	Timeout time.Duration
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Action types understood by Perform.
const (
	ActionNavigate = "navigate"
	ActionClick    = "click"
	ActionFill     = "fill"
	ActionScroll   = "scroll"
	ActionWait     = "wait"
)

// Action is one step issued against a page.
type Action struct {
	// Type is one of the Action* constants
	Type string

	// Selector is the CSS selector, or the URL for navigate
	Selector string

	// Value is the text typed by fill
	Value string
}

// Default values for various operations
const (
	DefaultTimeout        = 30 * time.Second
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultMaxPages       = 5
	DefaultScrollDelta    = 600
)
