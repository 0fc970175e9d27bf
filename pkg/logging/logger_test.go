package logging

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"
)

// setupTestDir points the log directory at a temp dir and resets global state
func setupTestDir(t *testing.T) {
	t.Helper()

	tempDir := t.TempDir()

	origLogDir := logDir
	origInitErr := initErr
	origRunID := runID

	logDir = tempDir
	initErr = nil
	initOnce = sync.Once{}
	initOnce.Do(func() {}) // directory already exists
	runID = ""
	runIDOnce = sync.Once{}

	t.Cleanup(func() {
		logDir = origLogDir
		initErr = origInitErr
		initOnce = sync.Once{}
		runID = origRunID
		runIDOnce = sync.Once{}
	})
}

func TestNewLogger(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("capture")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.component != "capture" {
		t.Errorf("Expected component 'capture', got %q", logger.component)
	}
	if logger.runID == "" {
		t.Error("Expected non-empty run ID")
	}
	if _, err := os.Stat(logger.LogPath()); os.IsNotExist(err) {
		t.Errorf("Log file does not exist at %s", logger.LogPath())
	}
}

func TestLoggerFormatting(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("executor")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	logger.Debugf("Debug message")
	logger.Infof("Info message %d", 7)
	logger.Warnf("Warning message")
	logger.Errorf("Error message")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	content, err := os.ReadFile(logger.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	for _, pattern := range []string{
		"[executor] [DEBUG] Debug message",
		"[executor] [INFO] Info message 7",
		"[executor] [WARN] Warning message",
		"[executor] [ERROR] Error message",
	} {
		if !strings.Contains(string(content), pattern) {
			t.Errorf("Log content missing expected pattern: %q\nContent:\n%s", pattern, content)
		}
	}
}

func TestWriterLoggerAndWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("learner", &buf)
	logger.Infof("merged %d edges", 3)
	logger.With("store").Warnf("conflict")

	out := buf.String()
	if !strings.Contains(out, "[learner] [INFO] merged 3 edges") {
		t.Errorf("missing learner entry: %s", out)
	}
	if !strings.Contains(out, "[store] [WARN] conflict") {
		t.Errorf("missing derived component entry: %s", out)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard("quiet")
	logger.Errorf("nothing to see")
	if logger.LogPath() != "" {
		t.Errorf("discard logger should have no path")
	}

	if got := OrDiscard(nil, "x"); got == nil || !got.discard {
		t.Error("OrDiscard(nil) should return a discarding logger")
	}
	w := NewWriterLogger("y", &bytes.Buffer{})
	if OrDiscard(w, "y") != w {
		t.Error("OrDiscard should return the given logger")
	}
}

func TestRunIDSharedAcrossLoggers(t *testing.T) {
	setupTestDir(t)

	a := NewWriterLogger("capture", &bytes.Buffer{})
	b := Discard("store")
	if a.RunID() == "" || a.RunID() != b.RunID() || a.With("x").RunID() != a.RunID() {
		t.Errorf("Expected one non-empty run ID, got %q and %q", a.RunID(), b.RunID())
	}
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("executor", &buf)
	logger.SetLevel(LevelWarn)
	child := logger.With("capture")

	logger.Infof("hidden")
	child.Debugf("hidden")
	child.Warnf("degraded")
	logger.Errorf("failed")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("entries below the level were written: %s", out)
	}
	if !strings.Contains(out, "[capture] [WARN] degraded") || !strings.Contains(out, "[executor] [ERROR] failed") {
		t.Errorf("missing entries at or above the level: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		verbosity string
		want      Level
		wantErr   bool
	}{
		{"debug", LevelDebug, false},
		{"verbose", LevelInfo, false},
		{"normal", LevelInfo, false},
		{"", LevelInfo, false},
		{"quiet", LevelWarn, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.verbosity, func(t *testing.T) {
			got, err := ParseLevel(tt.verbosity)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.verbosity, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.verbosity, got, tt.want)
			}
		})
	}
}

func TestLoggerCloseTwice(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}
