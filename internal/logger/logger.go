// Package logger provides structured logging setup for StreamForge.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/Strob0t/StreamForge/internal/config"
)

// level is shared by every logger built by New so SetLevel applies live.
var level = new(slog.LevelVar)

// New creates a *slog.Logger from the given Logging config.
// Format "json" writes JSON to stdout; "text" writes tinted console output,
// coloured only when stdout is a terminal. Every record carries a "service"
// attribute and, when present in the context, "request_id" and "execution_id".
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return newWithWriter(cfg, os.Stdout)
}

func newWithWriter(cfg config.Logging, w io.Writer) (*slog.Logger, Closer) {
	level.Set(parseLevel(cfg.Level))

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = tint.NewHandler(w, &tint.Options{
			NoColor:    !isTerminal(w),
			TimeFormat: time.Kitchen,
			Level:      level,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(handler, 4096, 2)
		handler = ah
		closer = ah
	}
	// Outermost so context values are captured before records are queued.
	handler = &contextHandler{Handler: handler}

	return slog.New(handler).With("service", cfg.Service), closer
}

// SetLevel changes the minimum level of all loggers created by New.
func SetLevel(s string) { level.Set(parseLevel(s)) }

// Level returns the current minimum level.
func Level() slog.Level { return level.Level() }

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
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

// contextHandler adds the request and execution ids stored in ctx to each record.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if id := RequestID(ctx); id != "" {
		rec.AddAttrs(slog.String("request_id", id))
	}
	if id := ExecutionID(ctx); id != "" {
		rec.AddAttrs(slog.String("execution_id", id))
	}
	return h.Handler.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}
