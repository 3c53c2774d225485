// Package zklog is the constraint builder's structured logging: log/slog
// underneath, with the level picked once from the ZKWASM_LOG environment
// variable and per-component child loggers carrying a "module" attribute
// (allocator, etable, mtable, jtable, circuit).
package zklog

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger is a slog.Logger scoped to one builder component.
type Logger struct {
	inner *slog.Logger
}

var (
	defaultOnce   sync.Once
	defaultLogger *Logger
)

// Default returns the process-wide logger, built on first use: text
// key=value output to stderr at the level ZKWASM_LOG selects (debug,
// info, warn, error; info when unset or unrecognized).
func Default() *Logger {
	defaultOnce.Do(func() {
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: levelFromEnv(os.Getenv("ZKWASM_LOG")),
		})
		defaultLogger = NewWithHandler(h)
	})
	return defaultLogger
}

// NewWithHandler builds a Logger over the supplied handler, for tests and
// for embedders that route builder logs into their own sink.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// levelFromEnv maps a ZKWASM_LOG value onto a slog level.
func levelFromEnv(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Module returns a child logger tagged with the component name. This is
// how every builder component obtains its contextual logger.
func (l *Logger) Module(name string) *Logger {
	return &Logger{inner: l.inner.With("module", name)}
}

// With returns a child logger carrying additional key-value context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.inner.Info(msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.inner.Warn(msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }
