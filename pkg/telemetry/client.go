// Package telemetry sends diagnostic events to a Sentry-compatible service.
// Each Client owns its own hub so that a host application using Sentry
// itself is not affected.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/armorclaw/crashreport/pkg/capture"
	"github.com/armorclaw/crashreport/pkg/report"
)

const defaultTimeout = 20 * time.Second

// ErrNotSent indicates the SDK dropped the event before it was queued
var ErrNotSent = errors.New("telemetry event not sent")

// Options configures a Client
type Options struct {
	// DSN of the telemetry project; empty disables delivery
	DSN string

	// Release is the component version
	Release string

	// LoggerName is the component logger; log events from other loggers are dropped
	LoggerName string

	// Timeout bounds each request to the service (default 20s)
	Timeout time.Duration

	// Transport overrides the SDK transport
	Transport sentry.Transport

	Debug bool
}

// Client transmits diagnostic events
type Client struct {
	hub        *sentry.Hub
	loggerName string
}

// NewClient creates a client with its own hub
func NewClient(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	sc, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:        opts.DSN,
		Release:    opts.Release,
		Debug:      opts.Debug,
		HTTPClient: &http.Client{Timeout: timeout},
		Transport:  opts.Transport,
		BeforeSend: FilterForeignLogs(opts.LoggerName),
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		hub:        sentry.NewHub(sc, sentry.NewScope()),
		loggerName: opts.LoggerName,
	}, nil
}

var (
	initMu  sync.Mutex
	initted *Client
)

// Init creates the process-wide client on first call and returns it on every
// later call, ignoring later options
func Init(opts Options) (*Client, error) {
	initMu.Lock()
	defer initMu.Unlock()

	if initted != nil {
		return initted, nil
	}
	c, err := NewClient(opts)
	if err != nil {
		return nil, err
	}
	initted = c
	return c, nil
}

// Default returns the process-wide client, or nil before Init
func Default() *Client {
	initMu.Lock()
	defer initMu.Unlock()
	return initted
}

// FilterForeignLogs returns a before-send hook that drops events raised by
// loggers other than loggerName. Events without a logger pass.
func FilterForeignLogs(loggerName string) func(*sentry.Event, *sentry.EventHint) *sentry.Event {
	return func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
		if event == nil {
			return nil
		}
		if event.Logger != "" && event.Logger != loggerName {
			return nil
		}
		return event
	}
}

// Transmit sends the event for exc and returns the assigned event id
func (c *Client) Transmit(ctx context.Context, exc *capture.Exception, ev *report.DiagnosticEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := c.hub.Clone().CaptureEvent(BuildEvent(exc, ev))
	if id == nil {
		return "", ErrNotSent
	}
	return string(*id), nil
}

// BuildEvent converts a diagnostic event and its exception to the SDK event
func BuildEvent(exc *capture.Exception, ev *report.DiagnosticEvent) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = sentry.Level(ev.Level)
	if event.Level == "" {
		event.Level = sentry.LevelError
	}
	event.Message = exc.Message()

	for k, v := range ev.Tags {
		event.Tags[k] = v
	}
	for k, v := range ev.Contexts {
		event.Contexts[k] = sentry.Context(v)
	}

	event.Exception = []sentry.Exception{{
		Type:       exc.Type,
		Value:      exc.Message(),
		Stacktrace: stacktrace(exc.Trace),
	}}
	return event
}

// stacktrace converts an innermost-first trace to the SDK's
// outermost-first frame order
func stacktrace(trace capture.Trace) *sentry.Stacktrace {
	if len(trace) == 0 {
		return nil
	}
	frames := make([]sentry.Frame, 0, len(trace))
	for i := len(trace) - 1; i >= 0; i-- {
		f := trace[i]
		frames = append(frames, sentry.NewFrame(runtime.Frame{
			Function: f.Function,
			File:     f.File,
			Line:     f.Line,
		}))
	}
	return &sentry.Stacktrace{Frames: frames}
}

// CaptureMessage sends a message event attributed to the component logger
func (c *Client) CaptureMessage(level sentry.Level, message string, extra map[string]any) string {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = message
	event.Logger = c.loggerName
	for k, v := range extra {
		event.Extra[k] = v
	}

	id := c.hub.Clone().CaptureEvent(event)
	if id == nil {
		return ""
	}
	return string(*id)
}

// Flush waits for queued events until ctx is done
func (c *Client) Flush(ctx context.Context) bool {
	timeout := defaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return false
	}
	return c.hub.Flush(timeout)
}
