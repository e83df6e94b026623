// Package logger builds the slog.Logger used throughout the service and
// provides a couple of small attribute helpers so log lines have a
// consistent shape regardless of which component emits them.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a *slog.Logger configured from the environment.
//
// LOG_LEVEL selects the minimum level: debug, info, warn (or warning), error.
// It is case-insensitive and defaults to info for an unset or unrecognized
// value. GO_ENV=production selects a JSON handler writing to stdout;
// anything else selects a human-readable text handler.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

// Scope tags a logger with the name of the component emitting the record.
// Attach once per component via log.With(logger.Scope("worker")).
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error attaches err under a consistent "error" key. A nil error still
// produces a valid (if useless) attribute so call sites never need a
// conditional.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
