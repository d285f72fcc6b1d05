// Package logger provides structured logging for crashreport and locates the
// component log file that gets attached to diagnostic events.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Logger wraps slog.Logger with the component it logs for
type Logger struct {
	*slog.Logger
	component string
	file      *os.File
}

// Config holds logger configuration
type Config struct {
	Level     string
	Format    string // "json" or "text"
	Output    string // "stdout", "stderr", or file path
	Component string // Component name, also used as the logger name for telemetry filtering

	// Wrap lets callers decorate the handler (e.g. forward errors to telemetry)
	Wrap func(slog.Handler) slog.Handler
}

// ParseLevel maps a config string to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch LogLevel(s) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a new logger instance
func New(cfg Config) (*Logger, error) {
	var (
		writer io.Writer
		file   *os.File
	)
	output := cfg.Output
	if output == "" {
		output = "stdout"
	}

	switch output {
	case "stdout":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writer = f
		file = f
	}

	return NewWithWriter(writer, cfg, file), nil
}

// NewWithWriter builds a logger on an arbitrary writer. file may be nil; when
// set it is synced by Flush and closed by Close.
func NewWithWriter(w io.Writer, cfg Config, file *os.File) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	if cfg.Wrap != nil {
		handler = cfg.Wrap(handler)
	}

	l := slog.New(handler).With(
		"service", "crashreport",
		"component", cfg.Component,
	)

	return &Logger{
		Logger:    l,
		component: cfg.Component,
		file:      file,
	}
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return NewWithWriter(io.Discard, Config{Level: "error"}, nil)
}

// Name returns the component the logger writes for
func (l *Logger) Name() string {
	return l.component
}

// WithComponent returns a new logger with the component name set
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("component", component),
		component: component,
		file:      l.file,
	}
}

// With returns a logger carrying extra attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(args...),
		component: l.component,
		file:      l.file,
	}
}

// Flush syncs the backing log file, if any, so readers see every record
func (l *Logger) Flush() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Sync()
}

// Close closes the backing log file
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ErrorEvent logs an error with its concrete type
func (l *Logger) ErrorEvent(ctx context.Context, message string, err error, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("error_type", fmt.Sprintf("%T", err)),
	}
	l.LogAttrs(ctx, slog.LevelError, message, append(baseAttrs, attrs...)...)
}

// WarnEvent logs a reporting failure at warn level
func (l *Logger) WarnEvent(ctx context.Context, message string, err error, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("error_type", fmt.Sprintf("%T", err)),
	}
	l.LogAttrs(ctx, slog.LevelWarn, message, append(baseAttrs, attrs...)...)
}

// FilePath returns the path of the component's current log file:
// <dir>/user_files/logs/<module>.log. The logs directory is created if needed;
// the file itself may not exist yet.
func FilePath(dir, module string) string {
	logsDir := filepath.Join(dir, "user_files", "logs")
	_ = os.MkdirAll(logsDir, 0755)
	return filepath.Join(logsDir, module+".log")
}

// SetGlobal replaces the process-wide logger
func SetGlobal(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the global logger instance
func Global() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}
	// Fallback to a stderr logger if not initialized
	return NewWithWriter(os.Stderr, Config{Level: "info", Component: "crashreport"}, nil)
}

// Info logs an info message
func Info(msg string, args ...any) {
	Global().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	Global().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	Global().Error(msg, args...)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	Global().Debug(msg, args...)
}
