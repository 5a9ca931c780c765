// Package debug carries the debug flag through contexts and builds the
// process logger.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// EnvDebug turns on debug logging without the --debug flag.
const EnvDebug = "SUPPORTSYNC_DEBUG"

type contextKey string

const debugKey contextKey = "debug_enabled"

// WithDebug returns a context with debug mode enabled/disabled.
func WithDebug(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, debugKey, enabled)
}

// IsEnabled returns true if debug mode is enabled in the context.
func IsEnabled(ctx context.Context) bool {
	if v, ok := ctx.Value(debugKey).(bool); ok {
		return v
	}
	return false
}

// EnabledFromEnv reports whether SUPPORTSYNC_DEBUG is set to a true value.
func EnabledFromEnv() bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvDebug)))
	return err == nil && v
}

// NewLogger returns a text logger writing to w. Warn and above by default,
// everything when debugEnabled.
func NewLogger(w io.Writer, debugEnabled bool) *slog.Logger {
	level := slog.LevelWarn
	if debugEnabled {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetupLogger installs a stderr logger as the slog default and returns it.
func SetupLogger(debugEnabled bool) *slog.Logger {
	logger := NewLogger(os.Stderr, debugEnabled)
	slog.SetDefault(logger)
	return logger
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
