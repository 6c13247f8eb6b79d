// Package logging provides the structured logger factory for cascade.
//
// It configures [log/slog] with a JSON or text handler and a configurable
// minimum level.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a [slog.Logger] writing to stderr in the given format and level.
// Format is "json" or "text"; anything else selects JSON.
func New(format, level string) *slog.Logger {
	return NewWithWriter(format, level, os.Stderr)
}

// NewWithWriter creates a [slog.Logger] writing to w.
func NewWithWriter(format, level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a level string to a [slog.Level].
// Returns [slog.LevelInfo] for unrecognised values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s names a level ParseLevel understands.
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithRule returns a logger with the rule name attached.
func WithRule(logger *slog.Logger, rule string) *slog.Logger {
	return logger.With("rule", rule)
}

// WithExecutor returns a logger with the executor id attached.
func WithExecutor(logger *slog.Logger, id string) *slog.Logger {
	return logger.With("executor", id)
}
