package hooks

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/armorclaw/crashreport/pkg/capture"
)

// Handler receives an intercepted failure
type Handler func(exc *capture.Exception)

// Site is a hook point for unhandled failures. It holds exactly one handler;
// installing wraps the current one, and the wrapper decides when to chain to
// the handler it replaced.
type Site struct {
	name    string
	mu      sync.RWMutex
	current Handler
}

// NewSite creates a hook site with base as its innermost handler
func NewSite(name string, base Handler) *Site {
	return &Site{name: name, current: base}
}

// Name returns the site name used in logs and metrics
func (s *Site) Name() string {
	return s.name
}

// Current returns the outermost handler
func (s *Site) Current() Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Wrap replaces the handler with wrap(previous) atomically
func (s *Site) Wrap(wrap func(prev Handler) Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = wrap(s.current)
}

// Fire hands exc to the current handler
func (s *Site) Fire(exc *capture.Exception) {
	if h := s.Current(); h != nil {
		h(exc)
	}
}

// Recover fires the site with a recovered panic. It must be deferred
// directly: defer site.Recover()
func (s *Site) Recover() {
	if r := recover(); r != nil {
		s.Fire(capture.FromPanic(r, 1))
	}
}

// Go runs fn on a new goroutine whose panics are fired on the site
func (s *Site) Go(fn func()) {
	go func() {
		defer s.Recover()
		fn()
	}()
}

// GoErr runs fn on a new goroutine; a returned error or a panic is fired on
// the site
func (s *Site) GoErr(fn func() error) {
	go func() {
		defer s.Recover()
		if err := fn(); err != nil {
			// fn has returned, so name it as the innermost frame
			trace := append(capture.Trace{capture.FuncFrame(fn)}, capture.CaptureStack(0)...)
			s.Fire(capture.New(err, trace))
		}
	}()
}

var (
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

var (
	installedMu sync.Mutex
	installed   []*Installer
)

func register(i *Installer) {
	installedMu.Lock()
	defer installedMu.Unlock()
	installed = append(installed, i)
}

// FlushInstalled waits, in parallel, for every installed pipeline to deliver
// its in-flight reports, each bounded by its request timeout. It returns the
// first error.
func FlushInstalled() error {
	installedMu.Lock()
	list := append([]*Installer(nil), installed...)
	installedMu.Unlock()

	var g errgroup.Group
	for _, inst := range list {
		inst := inst
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), inst.flushTimeout)
			defer cancel()
			return inst.Flush(ctx)
		})
	}
	return g.Wait()
}

// DefaultProcessHandler prints the failure and exits with status 2, the way
// an unrecovered panic ends a Go program. Installed pipelines get their
// request timeout to deliver pending reports first.
func DefaultProcessHandler(exc *capture.Exception) {
	if exc != nil {
		fmt.Fprintf(stderr, "panic: %s\n\n%s", exc.Message(), exc.Trace.Format())
	}
	if err := FlushInstalled(); err != nil {
		fmt.Fprintf(stderr, "crash report not delivered: %v\n", err)
	}
	exit(2)
}

// DefaultWorkerHandler prints the failure and lets the process continue
func DefaultWorkerHandler(exc *capture.Exception) {
	if exc == nil {
		return
	}
	fmt.Fprintf(stderr, "unhandled failure in goroutine: %s\n\n%s", exc.Message(), exc.Trace.Format())
}

var (
	// Process is the hook site for failures on the primary goroutine
	Process = NewSite("process", DefaultProcessHandler)

	// Worker is the hook site for failures on worker goroutines
	Worker = NewSite("worker", DefaultWorkerHandler)
)

// Recover fires Process with a recovered panic. Defer it at the top of the
// primary goroutine: defer hooks.Recover()
func Recover() {
	if r := recover(); r != nil {
		Process.Fire(capture.FromPanic(r, 1))
	}
}

// RecoverWorker fires Worker with a recovered panic. Defer it at the top of
// worker goroutines not started with Go or GoErr.
func RecoverWorker() {
	if r := recover(); r != nil {
		Worker.Fire(capture.FromPanic(r, 1))
	}
}

// Go runs fn on a goroutine watched by the Worker site
func Go(fn func()) {
	Worker.Go(fn)
}

// GoErr runs fn on a goroutine watched by the Worker site, firing it for a
// returned error as well as a panic
func GoErr(fn func() error) {
	Worker.GoErr(fn)
}
