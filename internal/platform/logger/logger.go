package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a structured JSON logger writing to stdout. The level comes
// from EMBLEM_LOG_LEVEL; unset or unrecognized values fall back to info.
func New() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: Level(os.Getenv("EMBLEM_LOG_LEVEL")),
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// Level maps a config string (debug, info, warn, error) to a slog level,
// defaulting to info.
func Level(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
