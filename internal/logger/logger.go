package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	// LevelDebug is the most verbose logging level
	LevelDebug Level = iota
	// LevelInfo logs informational messages
	LevelInfo
	// LevelWarn logs warnings
	LevelWarn
	// LevelError logs errors
	LevelError
	// LevelNone disables all logging
	LevelNone
)

// String returns string representation of log level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "off":
		return LevelNone
	default:
		return LevelInfo
	}
}

// Logger is a leveled, prefix-aware line logger
type Logger struct {
	mu      *sync.RWMutex
	level   *Level
	logger  *log.Logger
	prefix  string
	file    *os.File
	console bool
	// stderr mirrors line output when console is set
	stderr *log.Logger
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// Options configures a Logger
type Options struct {
	Level Level
	// Path is the log file. Empty means no file output.
	Path string
	// Prefix is shown in brackets before every message.
	Prefix string
	// Console mirrors output to stderr.
	Console bool
}

// Init replaces the global logger
func Init(opts Options) error {
	l, err := NewWithOptions(opts)
	if err != nil {
		return err
	}

	globalMu.Lock()
	old := globalLogger
	globalLogger = l
	globalMu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// New creates a new Logger writing to logPath
func New(level Level, logPath string, prefix string) (*Logger, error) {
	return NewWithOptions(Options{Level: level, Path: logPath, Prefix: prefix})
}

// NewWithOptions creates a new Logger from opts
func NewWithOptions(opts Options) (*Logger, error) {
	level := opts.Level
	l := &Logger{
		mu:      &sync.RWMutex{},
		level:   &level,
		prefix:  opts.Prefix,
		console: opts.Console,
	}
	if opts.Console {
		l.stderr = log.New(os.Stderr, "", 0)
	}

	if opts.Level == LevelNone || opts.Path == "" {
		l.logger = log.New(io.Discard, "", 0)
		return l, nil
	}

	// Ensure log directory exists
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l.file = file
	l.logger = log.New(file, "", 0)
	return l, nil
}

// NewWriter creates a Logger that writes lines to w
func NewWriter(level Level, w io.Writer, prefix string) *Logger {
	return &Logger{
		mu:     &sync.RWMutex{},
		level:  &level,
		logger: log.New(w, "", 0),
		prefix: prefix,
	}
}

// Global returns the global logger instance
func Global() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewWriter(LevelNone, io.Discard, "")
	}
	return globalLogger
}

// WithPrefix creates a logger sharing output and level with an additional prefix
func (l *Logger) WithPrefix(prefix string) *Logger {
	newPrefix := prefix
	if l.prefix != "" {
		newPrefix = l.prefix + ":" + prefix
	}

	return &Logger{
		mu:      l.mu,
		level:   l.level,
		logger:  l.logger,
		prefix:  newPrefix,
		file:    l.file,
		console: l.console,
		stderr:  l.stderr,
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return *l.level
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.write(level, fmt.Sprintf(format, args...), true)
}

// write emits one line. Lines from Slog skip the stderr mirror; its own
// console handler prints them.
func (l *Logger) write(level Level, msg string, mirror bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if *l.level == LevelNone || level < *l.level {
		return
	}

	prefix := l.prefix
	if prefix != "" {
		prefix = "[" + prefix + "] "
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("%s [%s] %s%s", timestamp, level, prefix, msg)
	if mirror && l.stderr != nil {
		l.stderr.Printf("[%s] %s%s", level, prefix, msg)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Close closes the underlying file, if any
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Debug logs a debug message using the global logger
func Debug(format string, args ...interface{}) {
	Global().Debug(format, args...)
}

// Info logs an informational message using the global logger
func Info(format string, args ...interface{}) {
	Global().Info(format, args...)
}

// Warn logs a warning message using the global logger
func Warn(format string, args ...interface{}) {
	Global().Warn(format, args...)
}

// Error logs an error message using the global logger
func Error(format string, args ...interface{}) {
	Global().Error(format, args...)
}
