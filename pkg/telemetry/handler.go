package telemetry

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// LogHandler forwards error records of the component logger to telemetry
// while passing every record on to the wrapped handler
type LogHandler struct {
	next    slog.Handler
	client  *Client
	enabled func() bool
	attrs   []slog.Attr
	group   string
}

// NewLogHandler wraps next. Records are only forwarded while enabled returns
// true; a nil enabled always forwards.
func NewLogHandler(next slog.Handler, client *Client, enabled func() bool) *LogHandler {
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &LogHandler{next: next, client: client, enabled: enabled}
}

// Wrap returns a decorator for logger.Config.Wrap
func Wrap(client *Client, enabled func() bool) func(slog.Handler) slog.Handler {
	return func(next slog.Handler) slog.Handler {
		return NewLogHandler(next, client, enabled)
	}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.next.Handle(ctx, r)

	if r.Level >= slog.LevelError && h.client != nil && h.enabled() {
		extra := make(map[string]any, len(h.attrs)+r.NumAttrs())
		for _, a := range h.attrs {
			extra[a.Key] = a.Value.Resolve().Any()
		}
		r.Attrs(func(a slog.Attr) bool {
			extra[h.key(a.Key)] = a.Value.Resolve().Any()
			return true
		})
		h.client.CaptureMessage(sentry.LevelError, r.Message, extra)
	}

	return err
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &clone
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.group = h.key(name)
	return &clone
}

func (h *LogHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}
