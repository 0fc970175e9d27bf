package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the minimum severity a logger writes.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// ParseLevel maps a configured verbosity (quiet, normal, verbose, debug) to
// the level it writes from.
func ParseLevel(verbosity string) (Level, error) {
	switch verbosity {
	case "debug":
		return LevelDebug, nil
	case "", "normal", "verbose":
		return LevelInfo, nil
	case "quiet":
		return LevelWarn, nil
	}
	return LevelInfo, fmt.Errorf("logging: unknown verbosity %q", verbosity)
}

// Logger provides leveled logging for wayfinder components.
// File loggers write to a run-specific file in ~/.wayfinder/logs/.
// New loggers write every level until SetLevel raises the threshold.
type Logger struct {
	runID     string
	component string
	level     Level
	file      *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logPath   string
	closeOnce sync.Once
	discard   bool
}

var (
	// Global run ID for the current process
	runID     string
	runIDOnce sync.Once

	// logDir is the directory where log files are stored
	logDir string

	// initOnce ensures directory initialization happens once
	initOnce sync.Once

	// initErr stores any error from directory initialization
	initErr error
)

// getRunID returns or creates the run ID for this process
func getRunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

// initLogDirectory ensures the log directory exists
func initLogDirectory() error {
	initOnce.Do(func() {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}

		logDir = filepath.Join(homeDir, ".wayfinder", "logs")
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

// NewLogger creates a new logger for a specific component.
// The logger writes to ~/.wayfinder/logs/<run-id>-wayfinder.log
//
// If the log directory cannot be created or the log file cannot be opened,
// it returns a fallback logger that writes to stderr along with the error.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	id := getRunID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-wayfinder.log", id))

	// Append mode: every component of a run shares the file
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return newFallbackLogger(component, fmt.Errorf("failed to open log file: %w", err)), err
	}

	return &Logger{
		runID:     id,
		component: component,
		file:      file,
		logger:    log.New(file, "", 0),
		logPath:   logPath,
	}, nil
}

// NewWriterLogger creates a logger that writes formatted entries to w.
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{
		runID:     getRunID(),
		component: component,
		logger:    log.New(w, "", 0),
	}
}

// Discard returns a logger that drops every entry.
func Discard(component string) *Logger {
	return &Logger{
		runID:     getRunID(),
		component: component,
		logger:    log.New(io.Discard, "", 0),
		discard:   true,
	}
}

// OrDiscard returns l, or a discarding logger for component when l is nil.
func OrDiscard(l *Logger, component string) *Logger {
	if l != nil {
		return l
	}
	return Discard(component)
}

// newFallbackLogger creates a logger that writes to stderr when file logging fails
func newFallbackLogger(component string, err error) *Logger {
	logger := log.New(os.Stderr, "", 0)
	l := &Logger{
		runID:     getRunID(),
		component: component,
		logger:    logger,
	}
	l.Warnf("failed to initialize file logging: %v; falling back to stderr", err)
	return l
}

// formatLogEntry creates a structured log entry with timestamp, component, and level
func (l *Logger) formatLogEntry(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) write(level Level, format string, v ...interface{}) {
	if l.discard || level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logger.Println(l.formatLogEntry(level.String(), fmt.Sprintf(format, v...)))
}

// SetLevel drops entries below level. Call it before the logger is shared.
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write(LevelDebug, format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write(LevelInfo, format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write(LevelWarn, format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write(LevelError, format, v...)
}

// With returns a logger sharing this logger's output and level under a new
// component name.
func (l *Logger) With(component string) *Logger {
	return &Logger{
		runID:     l.runID,
		component: component,
		level:     l.level,
		logger:    l.logger,
		logPath:   l.logPath,
		discard:   l.discard,
	}
}

// RunID returns the current run ID
func (l *Logger) RunID() string {
	return l.runID
}

// LogPath returns the path to the log file
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}
