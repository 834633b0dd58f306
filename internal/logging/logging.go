// Package logging builds the slog logger every command shares.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options select the level and format. Zero values mean info and json.
type Options struct {
	Level  string
	Format string
}

// NewLogger writes to stderr; stdout is reserved for reports.
func NewLogger(opts Options) *slog.Logger {
	return New(os.Stderr, opts)
}

func New(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.New(handler).With("app", "schemasync")
}

func parseLevel(level string) slog.Level {
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
