// Package log provides structured logging for go-armctl.
// It wraps slog with sensible defaults for production use.
package log

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// Init initializes the global logger with the specified level.
// Valid levels: "debug", "info", "warn", "error"
func Init(level string) {
	InitWriter(os.Stderr, level)
}

// InitWriter is Init with an explicit destination. Logs go to stderr by
// default so they stay out of the keyboard source's terminal output.
func InitWriter(w io.Writer, level string) {
	once.Do(func() {
		opts := &slog.HandlerOptions{
			Level: ParseLevel(level),
		}

		// Use JSON in production, text in development
		if os.Getenv("GO_ENV") == "production" {
			logger = slog.New(slog.NewJSONHandler(w, opts))
		} else {
			logger = slog.New(slog.NewTextHandler(w, opts))
		}

		slog.SetDefault(logger)
	})
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
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

// L returns the global logger instance, initializing it at info level if
// Init has not run.
func L() *slog.Logger {
	Init("info")
	return logger
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

// Component returns a logger tagged with a component name.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// Limiter suppresses repeats of a noisy warning. The first event is always
// reported, later ones at most once per interval. It is not safe for
// concurrent use.
type Limiter struct {
	Interval time.Duration

	count uint64
	last  time.Time
}

// Allow records one event and reports whether it should be logged, along
// with the running event count.
func (l *Limiter) Allow(now time.Time) (bool, uint64) {
	l.count++
	interval := l.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if l.last.IsZero() || now.Sub(l.last) > interval {
		l.last = now
		return true, l.count
	}
	return false, l.count
}

// Count returns how many events have been recorded.
func (l *Limiter) Count() uint64 {
	return l.count
}
