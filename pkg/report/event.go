package report

import (
	"context"

	"github.com/armorclaw/crashreport/pkg/capture"
)

// Tag and context keys attached to every event
const (
	TagOS                   = "os"
	TagComponent            = "component"
	TagComponentInTraceback = "component_in_traceback"

	ContextComponentVersion = "component version"
	ContextHostVersion      = "host version"
	ContextComponentConfig  = "component config"
	ContextLogs             = "logs"

	LevelError = "error"
)

// LogArtifact references an uploaded copy of the component log
type LogArtifact struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// DiagnosticEvent is the payload handed to the telemetry transport. It is
// built right before transmission and never stored.
type DiagnosticEvent struct {
	Level    string                    `json:"level"`
	Tags     map[string]string         `json:"tags"`
	Contexts map[string]map[string]any `json:"contexts"`
	Logs     *LogArtifact              `json:"logs,omitempty"`
}

// SetTag sets or overrides a tag
func (e *DiagnosticEvent) SetTag(key, value string) {
	if e.Tags == nil {
		e.Tags = make(map[string]string)
	}
	e.Tags[key] = value
}

// SetContext sets or overrides a named context
func (e *DiagnosticEvent) SetContext(key string, value map[string]any) {
	if e.Contexts == nil {
		e.Contexts = make(map[string]map[string]any)
	}
	e.Contexts[key] = value
}

// Transmitter sends an event for an exception and returns the id the
// telemetry service assigned to it
type Transmitter interface {
	Transmit(ctx context.Context, exc *capture.Exception, event *DiagnosticEvent) (string, error)
}

// TransmitterFunc adapts a function to Transmitter
type TransmitterFunc func(ctx context.Context, exc *capture.Exception, event *DiagnosticEvent) (string, error)

// Transmit calls f
func (f TransmitterFunc) Transmit(ctx context.Context, exc *capture.Exception, event *DiagnosticEvent) (string, error) {
	return f(ctx, exc, event)
}
