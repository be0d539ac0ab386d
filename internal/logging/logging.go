package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a configured slog.Logger.
//
// level: slog level (DEBUG, INFO, WARN, ERROR)
// format: "text" (human-readable) or "json" (structured)
//
// Output goes to stderr by default (stdout is reserved for program output).
func NewLogger(level slog.Level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to the given writer.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat validates a log format name.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(s); f {
	case "text", "json":
		return f, nil
	case "":
		return "text", nil
	default:
		return "", fmt.Errorf("unknown log format %q (want text or json)", s)
	}
}

// WithTicks returns a logger that stamps every record with the simulated
// timer tick reported by clock.
func WithTicks(logger *slog.Logger, clock func() int64) *slog.Logger {
	return slog.New(&tickHandler{next: logger.Handler(), clock: clock})
}

type tickHandler struct {
	next  slog.Handler
	clock func() int64
}

func (h *tickHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *tickHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.Int64("tick", h.clock()))
	return h.next.Handle(ctx, r)
}

func (h *tickHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &tickHandler{next: h.next.WithAttrs(attrs), clock: h.clock}
}

func (h *tickHandler) WithGroup(name string) slog.Handler {
	return &tickHandler{next: h.next.WithGroup(name), clock: h.clock}
}
