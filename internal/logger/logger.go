package logger

import (
	"io"
	"log/slog"
	"strings"
)

// New builds the diagnostic logger. Diagnostics go to w (stderr in the CLI) so that
// stdout carries only the report.
func New(lvl string, addSource bool, environment string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(lvl),
		AddSource: addSource,
	}

	var handler slog.Handler
	if strings.ToLower(environment) == "prod" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("environment", environment),
	)
}

// ParseLevel maps a level name onto slog, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
