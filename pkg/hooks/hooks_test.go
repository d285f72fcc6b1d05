package hooks

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/crashreport/internal/metrics"
	"github.com/armorclaw/crashreport/pkg/capture"
	"github.com/armorclaw/crashreport/pkg/config"
	"github.com/armorclaw/crashreport/pkg/consts"
	"github.com/armorclaw/crashreport/pkg/dispatch"
	"github.com/armorclaw/crashreport/pkg/gate"
	"github.com/armorclaw/crashreport/pkg/logger"
	"github.com/armorclaw/crashreport/pkg/report"
)

// ValueError is a claimable failure shape
type ValueError struct{ Msg string }

func (e *ValueError) Error() string { return e.Msg }

type countingGate struct {
	calls atomic.Int32
	open  bool
}

func (g *countingGate) Enabled(config.Provider) bool {
	g.calls.Add(1)
	return g.open
}

type mockUploader struct {
	calls atomic.Int32
}

func (m *mockUploader) Upload(ctx context.Context, path, name string) (string, error) {
	m.calls.Add(1)
	return "https://files.example/d/" + name, nil
}

type mockTransmitter struct {
	mu     sync.Mutex
	events []*report.DiagnosticEvent
}

func (m *mockTransmitter) Transmit(ctx context.Context, exc *capture.Exception, ev *report.DiagnosticEvent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return "evt-1", nil
}

func (m *mockTransmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type prevRecorder struct {
	mu    sync.Mutex
	calls []*capture.Exception
}

func (p *prevRecorder) handle(exc *capture.Exception) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, exc)
}

func (p *prevRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type harness struct {
	dir         string
	process     *Site
	worker      *Site
	processPrev *prevRecorder
	workerPrev  *prevRecorder
	gate        *countingGate
	uploader    *mockUploader
	transmitter *mockTransmitter
	registry    *capture.Registry
	store       *config.Store
}

func newHarness(t *testing.T, open bool) *harness {
	t.Helper()
	h := &harness{
		dir:         filepath.Join(t.TempDir(), "addons21", "myaddon"),
		processPrev: &prevRecorder{},
		workerPrev:  &prevRecorder{},
		gate:        &countingGate{open: open},
		uploader:    &mockUploader{},
		transmitter: &mockTransmitter{},
		registry:    capture.NewRegistry(),
		store:       config.NewStore(map[string]any{config.ReportErrorsKey: open}),
	}
	h.process = NewSite("process", h.processPrev.handle)
	h.worker = NewSite("worker", h.workerPrev.handle)
	return h
}

func (h *harness) config(onHandled func(*capture.Exception, string)) Config {
	return Config{
		Consts:      consts.Consts{Name: "My Addon", Module: "myaddon", Dir: h.dir, Version: "1.2.3"},
		Config:      h.store,
		Logger:      logger.Nop(),
		OnHandled:   onHandled,
		HostVersion: "24.06",
		Uploader:    h.uploader,
		Transmitter: h.transmitter,
		Gate:        h.gate,
		Registry:    h.registry,
		ProcessSite: h.process,
		WorkerSite:  h.worker,
	}
}

func (h *harness) install(t *testing.T, onHandled func(*capture.Exception, string)) *Installer {
	t.Helper()
	inst, err := Install(h.config(onHandled))
	require.NoError(t, err)
	return inst
}

func (h *harness) ownException(value any) *capture.Exception {
	return capture.New(value, capture.Trace{
		{Function: "myaddon/sync.Run", File: filepath.Join(h.dir, "sync", "run.go"), Line: 12},
	})
}

func foreignException() *capture.Exception {
	return capture.New(errors.New("elsewhere"), capture.Trace{
		{Function: "other/lib.Do", File: "/addons21/otheraddon/lib.go", Line: 3},
	})
}

func flush(t *testing.T, inst *Installer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, inst.Flush(ctx))
}

func TestInstall_RequiresModule(t *testing.T) {
	_, err := Install(Config{})
	assert.ErrorIs(t, err, ErrMissingModule)
}

func TestCapture_OwnReportedThenPrevious(t *testing.T) {
	h := newHarness(t, true)
	inst := h.install(t, nil)

	h.process.Fire(h.ownException(errors.New("boom")))
	flush(t, inst)

	assert.Equal(t, 1, h.transmitter.count())
	assert.Equal(t, 1, h.processPrev.count(), "without OnHandled the previous hook still runs")
	assert.Equal(t, int64(1), inst.Metrics().Snapshot()["capture_reported"])
}

func TestScenario_ReportedWithOnHandled(t *testing.T) {
	h := newHarness(t, true)

	var mu sync.Mutex
	var ids []string
	inst := h.install(t, func(exc *capture.Exception, id string) {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, id)
	})

	h.worker.Fire(h.ownException(errors.New("boom")))
	flush(t, inst)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"evt-1"}, ids)
	assert.Zero(t, h.workerPrev.count(), "OnHandled replaces the previous hook")
}

func TestScenario_DisabledMakesNoNetworkCalls(t *testing.T) {
	h := newHarness(t, false)

	var handled []string
	inst := h.install(t, func(exc *capture.Exception, id string) { handled = append(handled, id) })

	h.process.Fire(h.ownException(errors.New("boom")))
	flush(t, inst)

	assert.Zero(t, h.uploader.calls.Load())
	assert.Zero(t, h.transmitter.count())
	assert.Equal(t, []string{""}, handled, "OnHandled runs once with no event id")
	assert.Equal(t, int64(1), inst.Metrics().Snapshot()["capture_disabled"])
}

func TestScenario_DisabledByConfigWithRealGate(t *testing.T) {
	h := newHarness(t, false)
	cfg := h.config(nil)
	cfg.Gate = gate.New(gate.Options{SDKVersion: "0.31.1", Getenv: func(string) string { return "" }, Logger: logger.Nop()})

	inst, err := Install(cfg)
	require.NoError(t, err)

	h.process.Fire(h.ownException(errors.New("boom")))
	flush(t, inst)

	assert.Zero(t, h.uploader.calls.Load())
	assert.Zero(t, h.transmitter.count())
	assert.Equal(t, 1, h.processPrev.count())
}

func TestScenario_ForeignDelegatesOnce(t *testing.T) {
	h := newHarness(t, true)
	called := false
	inst := h.install(t, func(*capture.Exception, string) { called = true })

	exc := foreignException()
	h.process.Fire(exc)
	flush(t, inst)

	require.Equal(t, 1, h.processPrev.count())
	assert.Same(t, exc, h.processPrev.calls[0])
	assert.Zero(t, h.transmitter.count())
	assert.Zero(t, h.gate.calls.Load(), "foreign failures never consult the gate")
	assert.False(t, called, "OnHandled is only for the component's own failures")
}

func TestScenario_ClaimedNeverReachesGate(t *testing.T) {
	h := newHarness(t, true)
	h.registry.Register(func(typ string, value any, trace capture.Trace) bool {
		_, ok := value.(*ValueError)
		return ok
	})
	inst := h.install(t, nil)
	installChecks := h.gate.calls.Load()

	h.process.Fire(h.ownException(&ValueError{Msg: "bad value"}))
	h.worker.Fire(h.ownException(&ValueError{Msg: "bad value"}))
	flush(t, inst)

	assert.Equal(t, installChecks, h.gate.calls.Load())
	assert.Zero(t, h.processPrev.count())
	assert.Zero(t, h.workerPrev.count())
	assert.Zero(t, h.uploader.calls.Load())
	assert.Zero(t, h.transmitter.count())
	assert.Equal(t, int64(2), inst.Metrics().Snapshot()["capture_claimed"])
}

func TestWorker_NilValueDelegatesImmediately(t *testing.T) {
	h := newHarness(t, true)
	claimCalls := 0
	h.registry.Register(func(string, any, capture.Trace) bool { claimCalls++; return true })
	inst := h.install(t, nil)
	installChecks := h.gate.calls.Load()

	h.worker.Fire(capture.New(nil, nil))
	h.worker.Fire(nil)
	flush(t, inst)

	assert.Equal(t, 2, h.workerPrev.count())
	assert.Zero(t, claimCalls)
	assert.Equal(t, installChecks, h.gate.calls.Load())
}

func TestCapture_PanickingClaimHandlerStillReports(t *testing.T) {
	h := newHarness(t, true)
	h.registry.Register(func(string, any, capture.Trace) bool { panic("claim exploded") })
	inst := h.install(t, nil)

	h.process.Fire(h.ownException(errors.New("boom")))
	flush(t, inst)

	assert.Equal(t, 1, h.transmitter.count())
	assert.Equal(t, 1, h.processPrev.count())
	assert.Equal(t, int64(1), inst.Metrics().Snapshot()["capture_"+metrics.OutcomeHandlerError])
}

func TestCapture_PanickingOnHandledIsContained(t *testing.T) {
	h := newHarness(t, false)
	inst := h.install(t, func(*capture.Exception, string) { panic("dialog exploded") })

	assert.NotPanics(t, func() { h.process.Fire(h.ownException(errors.New("boom"))) })
	flush(t, inst)
}

func TestCapture_PanickingPreviousHookIsContained(t *testing.T) {
	h := newHarness(t, false)
	h.process = NewSite("process", func(*capture.Exception) { panic("host handler exploded") })
	h.install(t, nil)

	assert.NotPanics(t, func() { h.process.Fire(foreignException()) })
}

func TestInstall_ChainsMultipleInstallations(t *testing.T) {
	h := newHarness(t, true)
	first := h.install(t, nil)

	other := h.config(nil)
	other.Consts = consts.Consts{Module: "otheraddon", Dir: "/addons21/otheraddon", Version: "9.9.9"}
	second, err := Install(other)
	require.NoError(t, err)

	h.process.Fire(foreignException())
	flush(t, first)
	flush(t, second)

	assert.Equal(t, 1, h.transmitter.count(), "the other installation reports its own failure")
	assert.Equal(t, 1, h.processPrev.count(), "both installations chain down to the base handler")
}

func TestInstall_RegistersMetrics(t *testing.T) {
	h := newHarness(t, true)
	cfg := h.config(nil)
	cfg.Registerer = prometheus.NewRegistry()

	_, err := Install(cfg)
	require.NoError(t, err)
}

func TestCapture_RepeatsAreSuppressed(t *testing.T) {
	h := newHarness(t, true)
	inst := h.install(t, nil)

	for i := 0; i < 3; i++ {
		h.process.Fire(capture.New(errors.New("same"), capture.Trace{
			{Function: "myaddon.Fn", File: filepath.Join(h.dir, "fn.go"), Line: 1},
		}))
	}
	flush(t, inst)

	assert.Equal(t, 1, h.transmitter.count())
	assert.Equal(t, 3, h.processPrev.count(), "suppressed captures still reach the previous hook")
	assert.Equal(t, int64(2), inst.Metrics().Snapshot()["capture_suppressed"])
}

func TestOnHandledRunsOnMainLoop(t *testing.T) {
	h := newHarness(t, true)
	q := dispatch.NewQueue()
	cfg := h.config(nil)
	var ran atomic.Bool
	cfg.OnHandled = func(*capture.Exception, string) { ran.Store(true) }
	cfg.Main = q

	inst, err := Install(cfg)
	require.NoError(t, err)

	h.process.Fire(h.ownException(errors.New("boom")))
	flush(t, inst)

	assert.False(t, ran.Load())
	assert.Equal(t, 1, q.Drain())
	assert.True(t, ran.Load())
}

func TestUploadLogs(t *testing.T) {
	h := newHarness(t, true)
	inst := h.install(t, nil)

	logPath := logger.FilePath(h.dir, "myaddon")
	require.NoError(t, writeFile(logPath, "support\n"))

	art, err := inst.UploadLogs(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(art.Filename, "myaddon_"))
	assert.Equal(t, int32(1), h.uploader.calls.Load())
}

func TestSiteHelpers(t *testing.T) {
	t.Run("recover", func(t *testing.T) {
		rec := &prevRecorder{}
		site := NewSite("process", rec.handle)

		func() {
			defer site.Recover()
			panic("boom")
		}()

		require.Equal(t, 1, rec.count())
		assert.Equal(t, "boom", rec.calls[0].Message())
		assert.Contains(t, rec.calls[0].Trace.Format(), "hooks_test.go")
	})

	t.Run("go", func(t *testing.T) {
		done := make(chan *capture.Exception, 1)
		site := NewSite("worker", func(exc *capture.Exception) { done <- exc })

		site.Go(func() { panic("worker boom") })

		select {
		case exc := <-done:
			assert.Equal(t, "worker boom", exc.Message())
		case <-time.After(5 * time.Second):
			t.Fatal("worker panic was not captured")
		}
	})

	t.Run("go err", func(t *testing.T) {
		done := make(chan *capture.Exception, 1)
		site := NewSite("worker", func(exc *capture.Exception) { done <- exc })

		site.GoErr(returnsError)

		select {
		case exc := <-done:
			assert.Equal(t, "returned", exc.Message())
			assert.True(t, strings.HasSuffix(exc.Trace.Top().Function, ".returnsError"))
		case <-time.After(5 * time.Second):
			t.Fatal("worker error was not captured")
		}
	})

	t.Run("go err nil", func(t *testing.T) {
		fired := make(chan struct{}, 1)
		site := NewSite("worker", func(*capture.Exception) { fired <- struct{}{} })
		finished := make(chan struct{})

		site.GoErr(func() error { defer close(finished); return nil })
		<-finished

		select {
		case <-fired:
			t.Fatal("nil error must not fire")
		case <-time.After(20 * time.Millisecond):
		}
	})
}

func returnsError() error { return errors.New("returned") }

func TestDefaultHandlers(t *testing.T) {
	var out bytes.Buffer
	var code int
	origExit, origStderr := exit, stderr
	exit = func(c int) { code = c }
	stderr = &out
	defer func() { exit, stderr = origExit, origStderr }()

	DefaultWorkerHandler(capture.New("worker failure", nil))
	assert.Contains(t, out.String(), "worker failure")
	assert.Zero(t, code)

	DefaultProcessHandler(capture.New("fatal failure", nil))
	assert.Contains(t, out.String(), "panic: fatal failure")
	assert.Equal(t, 2, code)
}
