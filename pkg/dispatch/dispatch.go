package dispatch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/armorclaw/crashreport/pkg/capture"
	"github.com/armorclaw/crashreport/pkg/logger"
)

// DefaultWorkers is the number of units of work allowed to run at once
const DefaultWorkers = 2

// Config configures a Dispatcher
type Config struct {
	// Main receives completion callbacks (default Inline)
	Main MainLoop

	// Workers bounds concurrent work (default DefaultWorkers)
	Workers int

	// Context is handed to every unit of work (default Background)
	Context context.Context

	Logger *logger.Logger
}

// Dispatcher runs units of work on background goroutines. A panic inside
// work is recovered and logged; it never reaches the capture hooks.
type Dispatcher struct {
	main   MainLoop
	sem    *semaphore.Weighted
	ctx    context.Context
	logger *logger.Logger

	mu       sync.Mutex
	inflight int
	idle     chan struct{} // closed when inflight drops to zero
}

// New creates a dispatcher
func New(cfg Config) *Dispatcher {
	if cfg.Main == nil {
		cfg.Main = Inline{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global()
	}
	idle := make(chan struct{})
	close(idle)
	return &Dispatcher{
		idle:   idle,
		main:   cfg.Main,
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:    cfg.Context,
		logger: cfg.Logger.WithComponent("dispatch"),
	}
}

// Main returns the loop completion callbacks are posted to
func (d *Dispatcher) Main() MainLoop {
	return d.main
}

// Wait blocks until all dispatched work has finished and posted its callback
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	default:
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inflight returns the number of dispatched units that have not completed
func (d *Dispatcher) Inflight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight
}

func (d *Dispatcher) begin() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight == 0 {
		d.idle = make(chan struct{})
	}
	d.inflight++
}

func (d *Dispatcher) end() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight--
	if d.inflight == 0 {
		close(d.idle)
	}
}

// Run executes work on a background goroutine, then posts onDone(result) to
// the main loop. The returned task completes once onDone has been handed to
// the main loop; with an Inline loop onDone has already run by then.
func Run[T any](d *Dispatcher, work func(ctx context.Context) T, onDone func(T)) *Task[T] {
	task := newTask[T]()
	d.begin()

	go func() {
		defer d.end()

		var result T
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			d.logger.Warn("dispatch abandoned", "error", err)
		} else {
			result = runGuarded(d, work)
			d.sem.Release(1)
		}

		if onDone != nil {
			d.main.Post(func() {
				defer d.recoverCallback()
				onDone(result)
			})
		}
		task.complete(result)
	}()

	return task
}

func runGuarded[T any](d *Dispatcher, work func(ctx context.Context) T) (result T) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("background work panicked",
				"panic", fmt.Sprint(r),
				"stack", capture.CaptureStack(1).Format(),
			)
		}
	}()
	return work(d.ctx)
}

func (d *Dispatcher) recoverCallback() {
	if r := recover(); r != nil {
		d.logger.Error("completion callback panicked",
			"panic", fmt.Sprint(r),
			"stack", capture.CaptureStack(1).Format(),
		)
	}
}
