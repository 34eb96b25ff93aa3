// Package logging initializes the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the default slog logger with a text handler at the
// given level ("debug", "info", "warn", "error").
func Init(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)
	return log
}
