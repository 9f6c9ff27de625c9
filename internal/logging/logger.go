// Package logging builds the structured loggers used by kproc.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger creates a structured logger writing to w in the given format.
// Format should be "json" or "text"; anything else falls back to text.
// Verbose lowers the level to debug and adds source locations.
func NewLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(NewHandler(w, format, &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	}))
}

// NewLoggerWithLevel creates a logger filtered at a named level.
// Useful for testing.
func NewLoggerWithLevel(w io.Writer, format, level string) *slog.Logger {
	return slog.New(NewHandler(w, format, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// NewHandler returns the slog handler for format.
func NewHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel converts a string level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// SetDefault sets the default logger for the slog package.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
