// Package hooks intercepts panics and escaped errors on the primary goroutine
// and on worker goroutines, and routes them through local claim handlers,
// ownership attribution and the diagnostic reporter before falling back to
// the handler that was installed before.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/armorclaw/crashreport/internal/metrics"
	"github.com/armorclaw/crashreport/pkg/capture"
	"github.com/armorclaw/crashreport/pkg/config"
	"github.com/armorclaw/crashreport/pkg/consts"
	"github.com/armorclaw/crashreport/pkg/dispatch"
	"github.com/armorclaw/crashreport/pkg/gate"
	"github.com/armorclaw/crashreport/pkg/logger"
	"github.com/armorclaw/crashreport/pkg/report"
	"github.com/armorclaw/crashreport/pkg/telemetry"
	"github.com/armorclaw/crashreport/pkg/upload"
)

// ErrMissingModule is returned when the component has no module name
var ErrMissingModule = errors.New("component module name required")

// Config configures an installation
type Config struct {
	Consts consts.Consts
	Config config.Provider
	Logger *logger.Logger

	// DSN of the telemetry project; overrides Settings.Reporting.DSN
	DSN string

	// OnHandled replaces the previous hook for the component's own failures.
	// It runs on the main loop with the event id, or "" when nothing was sent.
	OnHandled func(exc *capture.Exception, eventID string)

	// OnEvent may add or override event fields before transmission
	OnEvent func(*report.DiagnosticEvent)

	HostVersion string

	// Settings default to config.DefaultSettings()
	Settings *config.Settings

	// Optional collaborators; defaults are built from Settings
	Uploader    upload.Uploader
	Transmitter report.Transmitter
	Gate        report.Gate
	Registry    *capture.Registry
	Main        dispatch.MainLoop
	Dispatcher  *dispatch.Dispatcher
	Registerer  prometheus.Registerer

	// Sites to install on; default Process and Worker
	ProcessSite *Site
	WorkerSite  *Site
}

// Installer is an installed capture pipeline. It stays installed for the
// lifetime of the process.
type Installer struct {
	consts     consts.Consts
	config     config.Provider
	logger     *logger.Logger
	onHandled  func(*capture.Exception, string)
	registry   *capture.Registry
	scanner    *capture.Scanner
	gate       report.Gate
	sampler    *Sampler
	reporter   *report.Reporter
	dispatcher *dispatch.Dispatcher
	main       dispatch.MainLoop
	metrics    *metrics.Metrics

	flushTimeout time.Duration

	transmitter report.Transmitter
	clientOpts  telemetry.Options
	clientMu    sync.Mutex
	client      *telemetry.Client
}

// Install wraps the process and worker hook sites. If reporting is enabled
// right now, the telemetry client is initialised immediately; otherwise on
// first use.
//
// Frames are attributed to the component by Consts.Package. When it is empty,
// the module containing the package that calls Install is used.
func Install(cfg Config) (*Installer, error) {
	if cfg.Consts.Module == "" {
		return nil, ErrMissingModule
	}
	if cfg.Consts.Package == "" {
		cfg.Consts.Package = capture.ModuleOf(capture.CallerPackage(1))
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global()
	}
	if cfg.Settings == nil {
		cfg.Settings = config.DefaultSettings()
	}
	if cfg.Gate == nil {
		cfg.Gate = gate.New(gate.Options{
			MinSDKVersion: cfg.Settings.Reporting.MinSDKVersion,
			Logger:        cfg.Logger,
		})
	}
	if cfg.Registry == nil {
		cfg.Registry = capture.DefaultRegistry()
	}
	if cfg.Main == nil {
		cfg.Main = dispatch.Inline{}
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = dispatch.New(dispatch.Config{
			Main:    cfg.Main,
			Workers: cfg.Settings.Reporting.Workers,
			Logger:  cfg.Logger,
		})
	}
	if cfg.Uploader == nil {
		cfg.Uploader = upload.NewHTTPUploader(upload.Options{
			APIURL:   cfg.Settings.Reporting.UploadURL,
			Token:    cfg.Settings.Reporting.UploadToken,
			FolderID: cfg.Settings.Reporting.UploadFolder,
			Direct:   cfg.Settings.Reporting.UploadDirect,
			Client:   &http.Client{Timeout: cfg.Settings.Timeout()},
		})
	}
	if cfg.ProcessSite == nil {
		cfg.ProcessSite = Process
	}
	if cfg.WorkerSite == nil {
		cfg.WorkerSite = Worker
	}

	m := metrics.New(cfg.Consts.Module)
	if cfg.Registerer != nil {
		if err := metrics.Register(cfg.Registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	dsn := cfg.DSN
	if dsn == "" {
		dsn = cfg.Settings.Reporting.DSN
	}

	i := &Installer{
		consts:      cfg.Consts,
		config:      cfg.Config,
		logger:      cfg.Logger,
		onHandled:   cfg.OnHandled,
		registry:    cfg.Registry,
		scanner:     capture.NewScanner(cfg.Consts.InstallDir(), cfg.Consts.Package),
		gate:        cfg.Gate,
		dispatcher:  cfg.Dispatcher,
		main:        cfg.Dispatcher.Main(),
		metrics:     m,
		transmitter: cfg.Transmitter,
		clientOpts: telemetry.Options{
			DSN:        dsn,
			Release:    cfg.Consts.Version,
			LoggerName: cfg.Logger.Name(),
			Timeout:    cfg.Settings.Timeout(),
		},
		sampler: NewSampler(SamplerConfig{
			Window:    cfg.Settings.Dedupe(),
			PerMinute: cfg.Settings.Reporting.MaxReportsPerMinute,
		}),
		flushTimeout: cfg.Settings.Timeout(),
	}

	if c, ok := i.transmitter.(*telemetry.Client); ok {
		i.client = c
	}
	if i.transmitter == nil {
		i.transmitter = report.TransmitterFunc(i.transmitLazily)
		if i.gate.Enabled(i.config) {
			if _, err := i.telemetryClient(); err != nil {
				return nil, fmt.Errorf("initialise telemetry: %w", err)
			}
		}
	}

	var logPath func() string
	if f := cfg.Settings.Logging.File; f != "" {
		logPath = func() string { return f }
	}

	i.reporter = report.New(report.Config{
		Consts:      cfg.Consts,
		Config:      cfg.Config,
		Gate:        cfg.Gate,
		Uploader:    cfg.Uploader,
		Transmitter: i.transmitter,
		LogPath:     logPath,
		HostVersion: cfg.HostVersion,
		Scanner:     i.scanner,
		Enrich:      cfg.OnEvent,
		Logger:      cfg.Logger,
		Metrics:     m,
		Dispatcher:  cfg.Dispatcher,
	})

	cfg.ProcessSite.Wrap(i.wrap(cfg.ProcessSite.Name(), false))
	cfg.WorkerSite.Wrap(i.wrap(cfg.WorkerSite.Name(), true))

	register(i)

	i.logger.Info("error handler installed",
		"module", cfg.Consts.Module,
		"package", cfg.Consts.Package,
		"version", cfg.Consts.Version,
		"marker", i.scanner.Pattern(),
	)
	return i, nil
}

// Reporter returns the reporter used for captured failures
func (i *Installer) Reporter() *report.Reporter {
	return i.reporter
}

// Metrics returns the pipeline counters
func (i *Installer) Metrics() *metrics.Metrics {
	return i.metrics
}

// UploadLogs uploads the current log file for a support request
func (i *Installer) UploadLogs(ctx context.Context) (*report.LogArtifact, error) {
	return i.reporter.UploadLogs(ctx)
}

// Flush waits for in-flight reports and queued telemetry until ctx is done
func (i *Installer) Flush(ctx context.Context) error {
	if err := i.dispatcher.Wait(ctx); err != nil {
		return err
	}

	i.clientMu.Lock()
	client := i.client
	i.clientMu.Unlock()

	if client != nil && !client.Flush(ctx) {
		return errors.New("telemetry flush timed out")
	}
	return nil
}

func (i *Installer) wrap(site string, worker bool) func(prev Handler) Handler {
	return func(prev Handler) Handler {
		return func(exc *capture.Exception) {
			if exc == nil || (worker && exc.Value == nil) {
				i.delegate(prev, exc)
				return
			}
			i.handle(site, exc, prev)
		}
	}
}

// handle runs one capture through the pipeline. Nothing raised in here is
// re-raised; the previous handler still runs unless the failure was claimed
// or OnHandled took over.
func (i *Installer) handle(site string, exc *capture.Exception, prev Handler) {
	delegated := false
	finished := false
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("the exception handler panicked",
				"site", site,
				"panic", fmt.Sprint(r),
				"stack", capture.CaptureStack(1).Format(),
			)
			i.metrics.RecordCapture(site, metrics.OutcomeHandlerError)
		}
		if !finished && !delegated {
			i.delegate(prev, exc)
		}
	}()

	i.logger.Info("captured exception", "site", site, "exception_id", exc.ID, "exception", exc.String())

	if i.claim(site, exc) {
		i.metrics.RecordCapture(site, metrics.OutcomeClaimed)
		finished = true
		return
	}

	if !i.scanner.IsOurs(exc.Trace) {
		i.metrics.RecordCapture(site, metrics.OutcomeForeign)
		delegated = true
		i.delegate(prev, exc)
		return
	}

	reported := i.maybeReport(site, exc)

	if i.onHandled != nil {
		finished = true
		if !reported {
			i.main.Post(func() { i.callOnHandled(exc, "") })
		}
		return
	}

	delegated = true
	i.delegate(prev, exc)
}

// claim runs the registry. A panicking claim handler counts as no claim.
func (i *Installer) claim(site string, exc *capture.Exception) (claimed bool) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("a claim handler panicked", "site", site, "panic", fmt.Sprint(r))
			i.metrics.RecordCapture(site, metrics.OutcomeHandlerError)
			claimed = false
		}
	}()
	return i.registry.TryHandle(exc)
}

// maybeReport dispatches a background report when the gate and sampler
// allow it, and reports whether one was dispatched
func (i *Installer) maybeReport(site string, exc *capture.Exception) (dispatched bool) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Warn("error while reporting exception", "site", site, "panic", fmt.Sprint(r))
			dispatched = false
		}
	}()

	if !i.gate.Enabled(i.config) {
		i.metrics.RecordCapture(site, metrics.OutcomeDisabled)
		return false
	}
	if !i.sampler.Allow(exc) {
		i.logger.Info("report suppressed", "exception_id", exc.ID, "seen", i.sampler.Count(exc))
		i.metrics.RecordCapture(site, metrics.OutcomeSuppressed)
		return false
	}

	i.metrics.RecordCapture(site, metrics.OutcomeReported)
	i.reporter.ReportInBackground(exc, nil, func(eventID string) {
		if i.onHandled != nil {
			i.callOnHandled(exc, eventID)
		}
	})
	return true
}

func (i *Installer) callOnHandled(exc *capture.Exception, eventID string) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("OnHandled callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	i.onHandled(exc, eventID)
}

func (i *Installer) delegate(prev Handler, exc *capture.Exception) {
	if prev == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("previous exception handler panicked", "panic", fmt.Sprint(r))
		}
	}()
	prev(exc)
}

func (i *Installer) telemetryClient() (*telemetry.Client, error) {
	i.clientMu.Lock()
	defer i.clientMu.Unlock()

	if i.client != nil {
		return i.client, nil
	}
	c, err := telemetry.Init(i.clientOpts)
	if err != nil {
		return nil, err
	}
	i.client = c
	return c, nil
}

func (i *Installer) transmitLazily(ctx context.Context, exc *capture.Exception, ev *report.DiagnosticEvent) (string, error) {
	c, err := i.telemetryClient()
	if err != nil {
		return "", err
	}
	return c.Transmit(ctx, exc, ev)
}
