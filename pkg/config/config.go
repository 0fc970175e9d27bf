// Package config loads run configuration and workflow definitions from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/wayfinder/pkg/browser"
	"github.com/entrhq/wayfinder/pkg/capture"
	"github.com/entrhq/wayfinder/pkg/session"
)

// Config represents the configuration for workflow execution
type Config struct {
	// Frame capture settings
	Capture CaptureConfig `yaml:"capture" json:"capture"`

	// Executor timeouts and limits
	Execution ExecutionConfig `yaml:"execution" json:"execution"`

	// Where graphs, sessions and artifacts live
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Browser launch settings
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// CaptureConfig defines what each frame contains
type CaptureConfig struct {
	Format      string `yaml:"format" json:"format"` // png or jpeg
	Quality     int    `yaml:"quality" json:"quality"`
	FullPage    bool   `yaml:"full_page" json:"full_page"`
	HTML        bool   `yaml:"html" json:"html"`
	Hash        bool   `yaml:"hash" json:"hash"`
	Text        bool   `yaml:"text" json:"text"`
	Layout      bool   `yaml:"layout" json:"layout"`
	StylePreset string `yaml:"style_preset" json:"style_preset"` // minimal, balanced or full
	Elements    bool   `yaml:"elements" json:"elements"`
	Compress    bool   `yaml:"compress" json:"compress"`

	// ForceRetain keeps frames the deduplicator would flag as duplicates
	ForceRetain bool `yaml:"force_retain" json:"force_retain"`
}

// ExecutionConfig defines executor timeouts and limits
type ExecutionConfig struct {
	StepTimeout     time.Duration `yaml:"step_timeout" json:"step_timeout"`
	SettleTimeout   time.Duration `yaml:"settle_timeout" json:"settle_timeout"`
	WorkflowTimeout time.Duration `yaml:"workflow_timeout" json:"workflow_timeout"`
	MaxParallel     int           `yaml:"max_parallel" json:"max_parallel"`

	// CycleBound is the iteration bound given to learned edges that close a cycle
	CycleBound int `yaml:"cycle_bound" json:"cycle_bound"`

	// ConflictRetries bounds the optimistic retry loop of graph commits
	ConflictRetries int `yaml:"conflict_retries" json:"conflict_retries"`
}

// StorageConfig defines persistence locations
type StorageConfig struct {
	Root             string `yaml:"root" json:"root"`
	CompressSessions bool   `yaml:"compress_sessions" json:"compress_sessions"`
}

// BrowserConfig defines browser launch settings
type BrowserConfig struct {
	Headless bool             `yaml:"headless" json:"headless"`
	Viewport browser.Viewport `yaml:"viewport" json:"viewport"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Verbosity controls logging level: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity" json:"verbosity"`
}

// DefaultConfig returns a default configuration suitable for most use cases
func DefaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			Format:      string(session.FormatPNG),
			Quality:     80,
			HTML:        true,
			Hash:        true,
			StylePreset: string(capture.PresetBalanced),
		},
		Execution: ExecutionConfig{
			StepTimeout:     30 * time.Second,
			SettleTimeout:   10 * time.Second,
			WorkflowTimeout: 5 * time.Minute,
			MaxParallel:     2,
			CycleBound:      3,
			ConflictRetries: 5,
		},
		Storage: StorageConfig{
			Root: ".wayfinder",
		},
		Browser: BrowserConfig{
			Headless: true,
			Viewport: browser.Viewport{
				Width:  browser.DefaultViewportWidth,
				Height: browser.DefaultViewportHeight,
			},
		},
		Logging: LoggingConfig{
			Verbosity: "normal",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch session.ScreenshotFormat(c.Capture.Format) {
	case session.FormatPNG, session.FormatJPEG:
	default:
		return fmt.Errorf("invalid capture format: %s (must be 'png' or 'jpeg')", c.Capture.Format)
	}
	if c.Capture.Quality < 0 || c.Capture.Quality > 100 {
		return fmt.Errorf("capture quality must be between 0 and 100")
	}
	if c.Capture.Layout {
		if _, err := capture.StylePreset(c.Capture.StylePreset).Properties(); err != nil {
			return fmt.Errorf("invalid style preset: %s (must be 'minimal', 'balanced' or 'full')", c.Capture.StylePreset)
		}
	}

	if c.Execution.StepTimeout <= 0 {
		return fmt.Errorf("step_timeout must be positive")
	}
	if c.Execution.SettleTimeout <= 0 {
		return fmt.Errorf("settle_timeout must be positive")
	}
	if c.Execution.WorkflowTimeout < 0 {
		return fmt.Errorf("workflow_timeout cannot be negative")
	}
	if c.Execution.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1")
	}
	if c.Execution.CycleBound < 1 {
		return fmt.Errorf("cycle_bound must be at least 1")
	}
	if c.Execution.ConflictRetries < 1 {
		return fmt.Errorf("conflict_retries must be at least 1")
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser viewport must be positive")
	}

	// Set default verbosity if not specified
	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}

	validLevels := map[string]bool{
		"quiet":   true,
		"normal":  true,
		"verbose": true,
		"debug":   true,
	}
	if !validLevels[c.Logging.Verbosity] {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Logging.Verbosity)
	}

	return nil
}

// CaptureOptions converts the capture section into engine options.
func (c *Config) CaptureOptions() capture.Options {
	opts := capture.DefaultOptions()
	opts.Format = session.ScreenshotFormat(c.Capture.Format)
	opts.Quality = c.Capture.Quality
	opts.FullPage = c.Capture.FullPage
	opts.HTML = c.Capture.HTML
	opts.Hash = c.Capture.Hash
	opts.Text = c.Capture.Text
	opts.Elements = c.Capture.Elements
	if c.Capture.Layout {
		opts.Layout = capture.StylePreset(c.Capture.StylePreset)
	}
	return opts
}

// Load reads a YAML configuration file on top of the defaults. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}
