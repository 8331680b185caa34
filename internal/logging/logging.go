// Package logging sets up Alto's structured logger. Every subsystem takes a
// *slog.Logger rather than reaching for the package-level default, so a
// task's log lines can be tagged with its own fields (task_id, tap, target)
// without cross-talk between concurrently running tasks.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// New builds a JSON-handler logger writing to w at the given level string
// ("debug", "info", "warn", "error" — anything else falls back to "info").
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// ParseLevel maps a config string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// TaskLogger returns a logger with task-scoped fields attached, so every
// line a Provider emits while executing is already tagged.
func TaskLogger(base *slog.Logger, taskID string) *slog.Logger {
	return base.With("task_id", taskID)
}
