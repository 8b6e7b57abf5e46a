// Package logger provides structured logging setup for moon.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Strob0t/moon/internal/config"
)

// asyncQueueSize bounds the records buffered by the async handler.
const asyncQueueSize = 10000

// New creates a *slog.Logger from the given Logging config.
// Records go to stderr so task output on stdout stays clean. The format is
// text on a terminal and JSON otherwise, unless set explicitly.
// When cfg.Async is true, records are buffered through an AsyncHandler
// and the returned Closer must be called on shutdown to flush pending records.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return NewWithWriter(cfg, os.Stderr, isTerminal(os.Stderr))
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg config.Logging, w io.Writer, tty bool) (*slog.Logger, Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch format(cfg.Format, tty) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(handler, asyncQueueSize)
		handler = ah
		closer = ah
	}

	return slog.New(&contextHandler{inner: handler}), closer
}

func format(configured string, tty bool) string {
	if configured != "" {
		return strings.ToLower(configured)
	}
	if tty {
		return "text"
	}
	return "json"
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
