// Package logging builds the process slog.Logger: JSON lines in production,
// colorized tint output for local development.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"chatrelay/config"
)

// Format names accepted in LogConfig.Format.
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// ParseLevel maps debug, info, warn and error to a slog level. Anything else
// is info.
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

// NewHandler returns the handler selected by cfg writing to w.
func NewHandler(w io.Writer, cfg config.LogConfig) slog.Handler {
	level := ParseLevel(cfg.Level)
	if strings.EqualFold(cfg.Format, FormatPretty) {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// New returns a logger for cfg writing to w.
func New(w io.Writer, cfg config.LogConfig) *slog.Logger {
	return slog.New(NewHandler(w, cfg))
}
