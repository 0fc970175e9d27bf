package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/wayfinder/pkg/capture"
	"github.com/entrhq/wayfinder/pkg/session"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Execution.CycleBound)
	assert.True(t, cfg.Browser.Headless)
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("overlays file on defaults", func(t *testing.T) {
		path := writeFile(t, "wayfinder.yaml", `
capture:
  format: jpeg
  quality: 60
  layout: true
  style_preset: minimal
execution:
  step_timeout: 5s
  cycle_bound: 4
browser:
  viewport:
    width: 800
    height: 600
logging:
  verbosity: debug
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())

		assert.Equal(t, "jpeg", cfg.Capture.Format)
		assert.Equal(t, 60, cfg.Capture.Quality)
		assert.Equal(t, 5*time.Second, cfg.Execution.StepTimeout)
		assert.Equal(t, 4, cfg.Execution.CycleBound)
		assert.Equal(t, 800, cfg.Browser.Viewport.Width)
		assert.Equal(t, "debug", cfg.Logging.Verbosity)

		// untouched keys keep their defaults
		assert.Equal(t, 10*time.Second, cfg.Execution.SettleTimeout)
		assert.True(t, cfg.Capture.HTML)
		assert.Equal(t, ".wayfinder", cfg.Storage.Root)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		_, err := Load(writeFile(t, "bad.yaml", "capture: [\n"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad format", func(c *Config) { c.Capture.Format = "gif" }},
		{"bad quality", func(c *Config) { c.Capture.Quality = 101 }},
		{"bad preset", func(c *Config) { c.Capture.Layout = true; c.Capture.StylePreset = "huge" }},
		{"zero step timeout", func(c *Config) { c.Execution.StepTimeout = 0 }},
		{"zero settle timeout", func(c *Config) { c.Execution.SettleTimeout = 0 }},
		{"negative workflow timeout", func(c *Config) { c.Execution.WorkflowTimeout = -time.Second }},
		{"no parallelism", func(c *Config) { c.Execution.MaxParallel = 0 }},
		{"no cycle bound", func(c *Config) { c.Execution.CycleBound = 0 }},
		{"no retries", func(c *Config) { c.Execution.ConflictRetries = 0 }},
		{"no storage root", func(c *Config) { c.Storage.Root = "" }},
		{"empty viewport", func(c *Config) { c.Browser.Viewport.Width = 0 }},
		{"bad verbosity", func(c *Config) { c.Logging.Verbosity = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("empty verbosity defaults to normal", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Logging.Verbosity = ""
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "normal", cfg.Logging.Verbosity)
	})
}

func TestCaptureOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capture.Format = "jpeg"
	cfg.Capture.Text = true
	cfg.Capture.Elements = true

	opts := cfg.CaptureOptions()
	assert.Equal(t, session.FormatJPEG, opts.Format)
	assert.True(t, opts.Text)
	assert.True(t, opts.Elements)
	assert.Equal(t, capture.StylePreset(""), opts.Layout)
	assert.Equal(t, 4000, opts.MaxTextLength)

	cfg.Capture.Layout = true
	assert.Equal(t, capture.PresetBalanced, cfg.CaptureOptions().Layout)
}
