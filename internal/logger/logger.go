package logger

import (
	"log/slog"
	"os"
)

// New creates a structured JSON logger at info level
func New() *slog.Logger {
	return NewWithLevel(slog.LevelInfo)
}

// NewWithLevel creates a logger with the specified log level
func NewWithLevel(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// FromFlags picks the log level from the debug toggle
func FromFlags(debug bool) *slog.Logger {
	if debug {
		return NewWithLevel(slog.LevelDebug)
	}
	return New()
}
