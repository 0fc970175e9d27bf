// Package capture takes structured snapshots of a live page: a screenshot,
// DOM metadata and, optionally, a layout tree, visible text and the page's
// interactive elements.
//
// Screenshot and DOM capture are mandatory. Any other sub-capture that fails
// is logged, omitted from the frame and listed in Frame.Degraded.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for DecodeConfig
	_ "image/png"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/entrhq/wayfinder/pkg/browser"
	"github.com/entrhq/wayfinder/pkg/dedup"
	"github.com/entrhq/wayfinder/pkg/logging"
	"github.com/entrhq/wayfinder/pkg/session"
)

// ErrConnection is returned when the page handle is unreachable. No artifact
// is written for the frame.
var ErrConnection = errors.New("capture: page unreachable")

// DegradationError describes a non-mandatory sub-capture that failed.
type DegradationError struct {
	FrameID int
	Part    string
	Err     error
}

func (e *DegradationError) Error() string {
	return fmt.Sprintf("capture: frame %d: %s degraded: %v", e.FrameID, e.Part, e.Err)
}

func (e *DegradationError) Unwrap() error {
	return e.Err
}

// Sub-capture names used in Frame.Degraded.
const (
	PartHTML     = "html"
	PartText     = "text"
	PartLayout   = "layout"
	PartElements = "elements"
	PartArtifact = "artifact"
)

// Options selects what a frame contains.
type Options struct {
	Format   session.ScreenshotFormat
	Quality  int
	FullPage bool

	// HTML keeps the serialized DOM in the frame and writes it as an artifact.
	HTML bool

	// Hash computes digests of the screenshot, HTML and layout snapshot.
	Hash bool

	// Text extracts visible text from the DOM.
	Text          bool
	MaxTextLength int

	// Layout enables the structured layout snapshot with the given preset.
	// Empty disables it.
	Layout StylePreset

	Elements bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Format:        session.FormatPNG,
		Quality:       80,
		HTML:          true,
		Hash:          true,
		MaxTextLength: 4000,
	}
}

// Engine captures frames for one session. Artifacts are written below the
// session directory given to NewEngine.
type Engine struct {
	artifacts *ArtifactWriter
	logger    *logging.Logger
	now       func() time.Time

	mu           sync.Mutex
	degradations []*DegradationError
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. A nil writer keeps every artifact in memory
// only.
func NewEngine(artifacts *ArtifactWriter, opts ...EngineOption) *Engine {
	e := &Engine{artifacts: artifacts, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrDiscard(e.logger, "capture")
	return e
}

// Degradations returns every degradation recorded so far.
func (e *Engine) Degradations() []*DegradationError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*DegradationError(nil), e.degradations...)
}

func (e *Engine) degrade(f *session.Frame, part string, err error) {
	d := &DegradationError{FrameID: f.ID, Part: part, Err: err}
	e.logger.Warnf("%v", d)
	f.Degraded = append(f.Degraded, part)
	e.mu.Lock()
	e.degradations = append(e.degradations, d)
	e.mu.Unlock()
}

// CaptureFrame snapshots page. It returns ErrConnection, before touching the
// filesystem, when the page does not answer a ping.
func (e *Engine) CaptureFrame(ctx context.Context, page browser.Page, frameID int, elapsedMs int64, opts Options, instruction string, action *session.ActionInfo) (*session.Frame, error) {
	if err := page.Ping(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	f := &session.Frame{
		ID:          frameID,
		Timestamp:   e.now().UTC(),
		ElapsedMs:   elapsedMs,
		Instruction: instruction,
	}
	if action != nil {
		a := *action
		f.Action = &a
	}

	if err := e.captureScreenshot(ctx, page, f, opts); err != nil {
		return nil, err
	}
	content, err := e.captureDOM(ctx, page, f, opts)
	if err != nil {
		return nil, err
	}
	if opts.Layout != "" {
		e.captureLayout(ctx, page, f, opts)
	}
	if opts.Elements && content != "" {
		elements, err := EnumerateElements(content)
		if err != nil {
			e.degrade(f, PartElements, err)
		} else {
			f.Elements = elements
		}
	}

	e.logger.Debugf("captured frame %d url=%s degraded=%v", f.ID, f.DOM.URL, f.Degraded)
	return f, nil
}

func (e *Engine) captureScreenshot(ctx context.Context, page browser.Page, f *session.Frame, opts Options) error {
	format := opts.Format
	if format == "" {
		format = session.FormatPNG
	}
	var shotType browser.ScreenshotType
	switch format {
	case session.FormatPNG:
		shotType = browser.ScreenshotPNG
	case session.FormatJPEG:
		shotType = browser.ScreenshotJPEG
	default:
		return fmt.Errorf("capture: unsupported screenshot format %q", format)
	}

	data, err := page.Screenshot(ctx, browser.ScreenshotOptions{
		Type:     shotType,
		Quality:  opts.Quality,
		FullPage: opts.FullPage,
	})
	if err != nil {
		return fmt.Errorf("capture: screenshot: %w", err)
	}

	mtype := mimetype.Detect(data)
	want := "image/" + string(format)
	if !mtype.Is(want) {
		return fmt.Errorf("capture: screenshot is %s, want %s", mtype.String(), want)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("capture: decode screenshot: %w", err)
	}

	f.Screenshot = session.ScreenshotInfo{
		Format: format,
		MIME:   mtype.String(),
		Width:  cfg.Width,
		Height: cfg.Height,
		Size:   len(data),
	}
	digest := dedup.HashScreenshot(data)
	if opts.Hash {
		f.Screenshot.Hash = digest
	}
	if e.artifacts != nil {
		ext := string(format)
		if format == session.FormatJPEG {
			ext = "jpg"
		}
		path, err := e.artifacts.Write(ArtifactName(f.ID, ext), digest, data, false)
		if err != nil {
			e.degrade(f, PartArtifact, err)
		} else {
			f.Screenshot.Path = path
		}
	}
	return nil
}

// captureDOM records url and title, and the serialized DOM when any option
// needs it. The serialized DOM is returned for element enumeration.
func (e *Engine) captureDOM(ctx context.Context, page browser.Page, f *session.Frame, opts Options) (string, error) {
	title, err := page.Title(ctx)
	if err != nil {
		return "", fmt.Errorf("capture: dom: %w", err)
	}
	f.DOM = session.DOMInfo{URL: page.URL(), Title: title}

	if !opts.HTML && !opts.Hash && !opts.Text && !opts.Elements {
		return "", nil
	}
	content, err := page.Content(ctx)
	if err != nil {
		e.degrade(f, PartHTML, err)
		return "", nil
	}

	f.DOM.Size = len(content)
	digest := dedup.HashHTML(content)
	if opts.Hash {
		f.DOM.Hash = digest
	}
	if opts.HTML {
		f.DOM.HTML = content
		if e.artifacts != nil {
			path, err := e.artifacts.Write(ArtifactName(f.ID, "html"), digest, []byte(content), true)
			if err != nil {
				e.degrade(f, PartArtifact, err)
			} else {
				f.DOM.Path = path
			}
		}
	}
	if opts.Text {
		text, _, err := browser.VisibleText(content, opts.MaxTextLength)
		if err != nil {
			e.degrade(f, PartText, err)
		} else {
			f.DOM.Text = text
		}
	}
	return content, nil
}

func (e *Engine) captureLayout(ctx context.Context, page browser.Page, f *session.Frame, opts Options) {
	props, err := opts.Layout.Properties()
	if err != nil {
		e.degrade(f, PartLayout, err)
		return
	}
	maxText := opts.MaxTextLength
	if maxText <= 0 {
		maxText = 200
	}
	tree, err := page.Evaluate(ctx, layoutScript, map[string]interface{}{
		"props":   props,
		"maxText": maxText,
	})
	if err != nil {
		e.degrade(f, PartLayout, err)
		return
	}
	if tree == nil {
		e.degrade(f, PartLayout, errors.New("empty layout tree"))
		return
	}

	digest, data, err := dedup.HashLayout(tree)
	if err != nil {
		e.degrade(f, PartLayout, err)
		return
	}
	info := &session.LayoutInfo{
		Preset:    string(opts.Layout),
		NodeCount: countNodes(tree),
		Size:      len(data),
	}
	if opts.Hash {
		info.Hash = digest
	}
	if e.artifacts != nil {
		path, err := e.artifacts.Write(ArtifactName(f.ID, "layout.json"), digest, data, true)
		if err != nil {
			e.degrade(f, PartArtifact, err)
		} else {
			info.Path = path
		}
	}
	f.Layout = info
}
