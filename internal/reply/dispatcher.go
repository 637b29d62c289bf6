package reply

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"webhook-receiver/internal/event"
)

type Runner interface {
	Run(ctx context.Context, ev event.Event) Outcome
}

type Mode string

const (
	ModeAsync Mode = "async"
	ModeSync  Mode = "sync"
)

type DispatcherOptions struct {
	Mode      Mode
	Workers   int
	QueueSize int
	// Timeout bounds a single pipeline run; zero means no limit.
	Timeout time.Duration
}

// Dispatcher hands events to the reply pipeline either inline or through a worker pool.
// Dispatch never returns an error and never blocks on a full queue.
type Dispatcher struct {
	runner  Runner
	mode    Mode
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	jobs    chan event.Event
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewDispatcher(r Runner, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{runner: r, mode: opts.Mode, timeout: opts.Timeout}
	if d.mode != ModeSync {
		d.mode = ModeAsync
		workers := opts.Workers
		if workers <= 0 {
			workers = 1
		}
		size := opts.QueueSize
		if size < 0 {
			size = 0
		}
		d.jobs = make(chan event.Event, size)
		for i := 0; i < workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	}
	return d
}

func (d *Dispatcher) Mode() Mode { return d.mode }

// Dropped reports how many events were not handed to the pipeline because the queue was full or closed.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

func (d *Dispatcher) Dispatch(ev event.Event) {
	if d.mode == ModeSync {
		d.run(ev)
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		log.Printf("reply dropped for event %s: dispatcher closed", ev.EventID)
		return
	}
	select {
	case d.jobs <- ev:
	default:
		d.dropped.Add(1)
		log.Printf("⚠️ reply dropped for event %s: queue full", ev.EventID)
	}
}

// Close stops accepting events and waits for queued ones to finish or ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d.mode == ModeSync {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.jobs {
		d.run(ev)
	}
}

func (d *Dispatcher) run(ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ reply pipeline panic for event %s: %v", ev.EventID, r)
		}
	}()
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	out := d.runner.Run(ctx, ev)
	log.Printf("reply pipeline finished for event %s: %s", ev.EventID, out.State)
}
