// Package logging provides structured logging for the Archon daemon.
//
// It wraps the standard library's log/slog for structured, leveled output
// in text or JSON, with context-carried loggers scoped to a controller or
// an in-flight exposure.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

type ctxKey struct{}

var (
	defaultLogger *slog.Logger
	loggerMu      sync.RWMutex
)

func init() {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Config holds the logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level slog.Level
	// Format is the output format ("text" or "json").
	Format string
	// Output is the log output destination.
	Output io.Writer
	// AddSource adds source file information to log entries.
	AddSource bool
}

// NewLogger creates a new structured logger with the given configuration.
func NewLogger(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

// SetDefault sets the default global logger.
func SetDefault(logger *slog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = logger
}

// Default returns the default global logger.
func Default() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// WithController returns a logger scoped to a controller name.
func WithController(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(slog.String("controller", name))
}

// WithExposure returns a logger scoped to an exposure number.
func WithExposure(logger *slog.Logger, no int64) *slog.Logger {
	return logger.With(slog.Int64("exposure_no", no))
}

// ContextWithLogger returns a new context with the logger attached.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext retrieves the logger from context, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return Default()
}

// ParseLevel parses a log level string.
// Valid values: "debug", "info", "warn", "error". Defaults to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Info logs an info message using the default logger.
func Info(msg string, args ...any) { Default().Info(msg, args...) }

// Warn logs a warning message using the default logger.
func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

// Error logs an error message using the default logger.
func Error(msg string, args ...any) { Default().Error(msg, args...) }

// Debug logs a debug message using the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
