package reply

import (
	"context"
	"sync"
	"testing"
	"time"

	"webhook-receiver/internal/event"
)

type recordingRunner struct {
	mu      sync.Mutex
	seen    []string
	release chan struct{}
	panics  bool
}

func (r *recordingRunner) Run(ctx context.Context, ev event.Event) Outcome {
	if r.release != nil {
		<-r.release
	}
	if r.panics {
		panic("boom")
	}
	r.mu.Lock()
	r.seen = append(r.seen, ev.EventID)
	r.mu.Unlock()
	return Outcome{State: StateReplied}
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestDispatcher_SyncRunsInline(t *testing.T) {
	r := &recordingRunner{}
	d := NewDispatcher(r, DispatcherOptions{Mode: ModeSync})
	d.Dispatch(event.Event{EventID: "a"})
	if r.count() != 1 {
		t.Fatalf("sync dispatch must run before returning")
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDispatcher_SyncRecoversPanic(t *testing.T) {
	d := NewDispatcher(&recordingRunner{panics: true}, DispatcherOptions{Mode: ModeSync})
	d.Dispatch(event.Event{EventID: "a"})
}

func TestDispatcher_AsyncDoesNotBlockAndDrains(t *testing.T) {
	r := &recordingRunner{release: make(chan struct{})}
	d := NewDispatcher(r, DispatcherOptions{Mode: ModeAsync, Workers: 2, QueueSize: 8, Timeout: time.Second})

	done := make(chan struct{})
	go func() {
		for _, id := range []string{"a", "b", "c"} {
			d.Dispatch(event.Event{EventID: id})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("async dispatch blocked on the pipeline")
	}
	if r.count() != 0 {
		t.Fatalf("runner must still be blocked")
	}

	close(r.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if r.count() != 3 {
		t.Fatalf("want 3 runs after drain, got %d", r.count())
	}
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	r := &recordingRunner{release: make(chan struct{})}
	d := NewDispatcher(r, DispatcherOptions{Mode: ModeAsync, Workers: 1, QueueSize: 1})

	// One event occupies the worker, one fills the queue, the rest are dropped.
	for _, id := range []string{"a", "b", "c", "d"} {
		d.Dispatch(event.Event{EventID: id})
		time.Sleep(10 * time.Millisecond)
	}
	if d.Dropped() != 2 {
		t.Fatalf("want 2 dropped, got %d", d.Dropped())
	}
	close(r.release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	d.Dispatch(event.Event{EventID: "late"})
	if d.Dropped() != 3 {
		t.Fatalf("dispatch after close must be dropped, got %d", d.Dropped())
	}
}

func TestDispatcher_DefaultsToAsync(t *testing.T) {
	d := NewDispatcher(&recordingRunner{}, DispatcherOptions{})
	if d.Mode() != ModeAsync {
		t.Fatalf("want async default, got %s", d.Mode())
	}
	_ = d.Close(context.Background())
}
