// Package logger provides structured logging setup for Stratos.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/stratos/internal/config"
)

const (
	asyncBuffer  = 4096
	asyncWorkers = 2
)

// level is shared by every logger built by New so SetLevel applies to
// loggers already handed out.
var level slog.LevelVar

// SetLevel changes the minimum level of loggers built by New.
func SetLevel(s string) { level.Set(parseLevel(s)) }

// Level returns the current minimum level.
func Level() slog.Level { return level.Level() }

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record.
// When cfg.Async is set, records are handed to a buffered AsyncHandler and
// the returned Closer flushes it; otherwise the Closer is a no-op.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	SetLevel(cfg.Level)

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	})
	handler = &ContextHandler{inner: handler}

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(handler, asyncBuffer, asyncWorkers)
		handler = ah
		closer = ah
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
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
