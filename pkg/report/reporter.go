// Package report builds diagnostic events for captured failures, attaches an
// uploaded copy of the component log and hands the event to the telemetry
// transport. Reporting is depth limited: a failure while uploading logs is
// reported once more without logs, and never beyond that.
package report

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strconv"

	"github.com/armorclaw/crashreport/internal/metrics"
	"github.com/armorclaw/crashreport/pkg/capture"
	"github.com/armorclaw/crashreport/pkg/config"
	"github.com/armorclaw/crashreport/pkg/consts"
	"github.com/armorclaw/crashreport/pkg/dispatch"
	"github.com/armorclaw/crashreport/pkg/gate"
	"github.com/armorclaw/crashreport/pkg/logger"
	"github.com/armorclaw/crashreport/pkg/upload"
)

var (
	// ErrNoLogs is returned by UploadLogs when there is no log file to upload
	ErrNoLogs = errors.New("no log file to upload")

	// ErrNoUploader is returned by UploadLogs when no uploader is configured
	ErrNoUploader = errors.New("no log uploader configured")
)

// Depth is how far a report is from the original failure
type Depth int

const (
	// DepthPrimary reports the captured failure and uploads logs
	DepthPrimary Depth = 0

	// DepthSecondary reports a failure to upload logs; it never uploads
	DepthSecondary Depth = 1
)

func (d Depth) String() string {
	return strconv.Itoa(int(d))
}

// Gate decides whether reports may be sent
type Gate interface {
	Enabled(cfg config.Provider) bool
}

// Config configures a Reporter
type Config struct {
	Consts consts.Consts
	Config config.Provider

	// Gate defaults to gate.New with the installed SDK version
	Gate Gate

	// Uploader stores log artifacts; nil skips log upload
	Uploader upload.Uploader

	Transmitter Transmitter

	// LogPath returns the current log file; defaults to logger.FilePath
	LogPath func() string

	HostVersion string

	// Scanner defaults to one built from Consts.InstallDir() and Consts.Package
	Scanner *capture.Scanner

	// Enrich may add or override event fields before transmission
	Enrich func(*DiagnosticEvent)

	Logger     *logger.Logger
	Metrics    *metrics.Metrics
	Dispatcher *dispatch.Dispatcher
}

// Reporter sends diagnostic events
type Reporter struct {
	consts      consts.Consts
	config      config.Provider
	gate        Gate
	uploader    upload.Uploader
	transmitter Transmitter
	logPath     func() string
	hostVersion string
	scanner     *capture.Scanner
	enrich      func(*DiagnosticEvent)
	logger      *logger.Logger
	metrics     *metrics.Metrics
	dispatcher  *dispatch.Dispatcher
}

// New creates a reporter
func New(cfg Config) *Reporter {
	if cfg.Logger == nil {
		cfg.Logger = logger.Global()
	}
	if cfg.Gate == nil {
		cfg.Gate = gate.New(gate.Options{Logger: cfg.Logger})
	}
	if cfg.LogPath == nil {
		c := cfg.Consts
		cfg.LogPath = func() string {
			if c.Dir == "" {
				return ""
			}
			return logger.FilePath(c.Dir, c.Module)
		}
	}
	if cfg.Scanner == nil {
		cfg.Scanner = capture.NewScanner(cfg.Consts.InstallDir(), cfg.Consts.Package)
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = dispatch.New(dispatch.Config{Logger: cfg.Logger})
	}

	return &Reporter{
		consts:      cfg.Consts,
		config:      cfg.Config,
		gate:        cfg.Gate,
		uploader:    cfg.Uploader,
		transmitter: cfg.Transmitter,
		logPath:     cfg.LogPath,
		hostVersion: cfg.HostVersion,
		scanner:     cfg.Scanner,
		enrich:      cfg.Enrich,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		dispatcher:  cfg.Dispatcher,
	}
}

// ReportAndUploadLogs uploads the current log file and transmits an event
// for exc. extra contexts are merged into the event. It returns the event id,
// or "" when reporting is disabled or transmission failed.
func (r *Reporter) ReportAndUploadLogs(ctx context.Context, exc *capture.Exception, extra map[string]map[string]any) string {
	return r.report(ctx, exc, extra, DepthPrimary)
}

// ReportInBackground runs ReportAndUploadLogs on the dispatcher and calls
// onDone with the event id on the main loop
func (r *Reporter) ReportInBackground(exc *capture.Exception, extra map[string]map[string]any, onDone func(eventID string)) *dispatch.Task[string] {
	r.metrics.ReportStarted()
	return dispatch.Run(r.dispatcher, func(ctx context.Context) string {
		defer r.metrics.ReportFinished()
		return r.ReportAndUploadLogs(ctx, exc, extra)
	}, onDone)
}

// UploadLogs uploads the current log file on request, e.g. for a support
// ticket. An upload failure is reported when reporting is enabled.
func (r *Reporter) UploadLogs(ctx context.Context) (*LogArtifact, error) {
	art, err := r.uploadLogs(ctx)
	if err != nil && !errors.Is(err, ErrNoLogs) && !errors.Is(err, ErrNoUploader) {
		r.logger.WarnEvent(ctx, "log upload failed", err)
		r.report(ctx, capture.New(err, capture.CaptureStack(0)), nil, DepthSecondary)
	}
	return art, err
}

func (r *Reporter) report(ctx context.Context, exc *capture.Exception, extra map[string]map[string]any, depth Depth) (eventID string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("error while reporting exception", "panic", fmt.Sprint(p), "depth", depth.String())
			r.metrics.RecordReport(depth.String(), metrics.ResultFailed)
			eventID = ""
		}
	}()

	if depth > DepthSecondary {
		r.logger.Debug("dropping nested report", "depth", depth.String())
		r.metrics.RecordReport(depth.String(), metrics.ResultDropped)
		return ""
	}
	if !r.gate.Enabled(r.config) {
		r.metrics.RecordReport(depth.String(), metrics.ResultDisabled)
		return ""
	}

	var logs *LogArtifact
	if depth == DepthPrimary {
		art, err := r.uploadLogs(ctx)
		switch {
		case err == nil:
			logs = art
		case errors.Is(err, ErrNoLogs), errors.Is(err, ErrNoUploader):
		default:
			r.logger.WarnEvent(ctx, "log upload failed", err)
			r.report(ctx, capture.New(err, capture.CaptureStack(0)), nil, depth+1)
		}
	}

	event := r.buildEvent(ctx, exc, extra, logs)

	id, err := r.transmit(ctx, exc, event)
	if err != nil {
		r.logger.WarnEvent(ctx, "failed to transmit diagnostic event", err,
			slog.String("exception_id", exc.ID),
			slog.String("depth", depth.String()),
		)
		r.metrics.RecordReport(depth.String(), metrics.ResultFailed)
		return ""
	}

	r.metrics.RecordReport(depth.String(), metrics.ResultSent)
	r.logger.Info("diagnostic event sent", "event_id", id, "exception_id", exc.ID)
	return id
}

func (r *Reporter) uploadLogs(ctx context.Context) (*LogArtifact, error) {
	if r.uploader == nil {
		return nil, ErrNoUploader
	}
	path := r.logPath()
	if path == "" {
		return nil, ErrNoLogs
	}

	if err := r.logger.Flush(); err != nil {
		r.logger.Debug("failed to flush log file", "error", err)
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		r.metrics.RecordUpload(metrics.ResultNoLogs)
		return nil, ErrNoLogs
	}
	if err != nil {
		r.metrics.RecordUpload(metrics.ResultFailed)
		return nil, fmt.Errorf("read log file: %w", err)
	}

	name := upload.ArtifactName(r.consts.Module, content)
	url, err := r.uploader.Upload(ctx, path, name)
	if err != nil {
		r.metrics.RecordUpload(metrics.ResultFailed)
		return nil, fmt.Errorf("upload logs: %w", err)
	}

	r.metrics.RecordUpload(metrics.ResultSent)
	return &LogArtifact{URL: url, Filename: name}, nil
}

func (r *Reporter) buildEvent(ctx context.Context, exc *capture.Exception, extra map[string]map[string]any, logs *LogArtifact) *DiagnosticEvent {
	event := &DiagnosticEvent{Level: LevelError}
	event.SetTag(TagOS, runtime.GOOS)
	event.SetTag(TagComponent, r.consts.Module)
	event.SetContext(ContextComponentVersion, map[string]any{"version": r.consts.Version})
	event.SetContext(ContextHostVersion, map[string]any{"version": r.hostVersion})
	if r.config != nil {
		event.SetContext(ContextComponentConfig, r.config.Snapshot())
	}

	for key, value := range extra {
		event.SetContext(key, value)
	}

	if len(exc.Trace) > 0 {
		event.SetTag(TagComponentInTraceback, strconv.FormatBool(r.scanner.IsOurs(exc.Trace)))
	} else {
		r.logger.Warn("exception has no trace", "exception_id", exc.ID)
	}

	if logs != nil {
		event.Logs = logs
		event.SetContext(ContextLogs, map[string]any{"url": logs.URL, "filename": logs.Filename})
	}

	if r.enrich != nil {
		r.runEnrich(ctx, event)
	}
	return event
}

func (r *Reporter) runEnrich(ctx context.Context, event *DiagnosticEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.WarnEvent(ctx, "event enrichment failed", fmt.Errorf("panic: %v", p))
		}
	}()
	r.enrich(event)
}

func (r *Reporter) transmit(ctx context.Context, exc *capture.Exception, event *DiagnosticEvent) (id string, err error) {
	if r.transmitter == nil {
		return "", errors.New("no telemetry transmitter configured")
	}
	defer func() {
		if p := recover(); p != nil {
			id, err = "", fmt.Errorf("transmitter panicked: %v", p)
		}
	}()

	id, err = r.transmitter.Transmit(ctx, exc, event)
	if err == nil && id == "" {
		err = errors.New("telemetry service returned no event id")
	}
	return id, err
}

// ReportAndUploadLogs builds a one-off reporter from cfg and reports exc
// synchronously
func ReportAndUploadLogs(ctx context.Context, cfg Config, exc *capture.Exception) string {
	return New(cfg).ReportAndUploadLogs(ctx, exc, nil)
}

// ReportInBackground builds a one-off reporter from cfg and reports exc on
// its dispatcher
func ReportInBackground(cfg Config, exc *capture.Exception, onDone func(eventID string)) *dispatch.Task[string] {
	return New(cfg).ReportInBackground(exc, nil, onDone)
}
