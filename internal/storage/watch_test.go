package storage

import (
	"sync"
	"testing"
	"time"
)

// collector gathers delivered batches behind a mutex.
type collector struct {
	mu      sync.Mutex
	batches [][]Event
}

func (c *collector) fn(events []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, events)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *collector) batch(i int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[i]
}

func TestWatchHub_BatchesWithinDebounceWindow(t *testing.T) {
	hub := NewWatchHub()
	defer hub.Close()

	var c collector
	hub.Subscribe("/tasks", c.fn, WatchOptions{Recursive: true, Debounce: 30 * time.Millisecond})

	hub.Publish(Event{Path: "/tasks/a.md", Op: OpCreate})
	hub.Publish(Event{Path: "/tasks/b.md", Op: OpModify})
	hub.Publish(Event{Path: "/tasks/a.md", Op: OpModify})

	deadline := time.Now().Add(time.Second)
	for c.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := c.count(); got != 1 {
		t.Fatalf("batches delivered = %d, want 1", got)
	}
	batch := c.batch(0)
	if len(batch) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batch))
	}
	// Arrival order within one window is preserved.
	wantPaths := []string{"/tasks/a.md", "/tasks/b.md", "/tasks/a.md"}
	for i, e := range batch {
		if e.Path != wantPaths[i] {
			t.Errorf("batch[%d].Path = %q, want %q", i, e.Path, wantPaths[i])
		}
	}
}

func TestWatchHub_NonRecursiveMatchesExactPathOnly(t *testing.T) {
	hub := NewWatchHub()
	defer hub.Close()

	var c collector
	hub.Subscribe("/notes/n.md", c.fn, WatchOptions{Debounce: 10 * time.Millisecond})

	hub.Publish(Event{Path: "/notes/other.md", Op: OpModify})
	hub.Publish(Event{Path: "/notes/n.md", Op: OpModify})

	time.Sleep(60 * time.Millisecond)

	if got := c.count(); got != 1 {
		t.Fatalf("batches delivered = %d, want 1", got)
	}
	batch := c.batch(0)
	if len(batch) != 1 || batch[0].Path != "/notes/n.md" {
		t.Errorf("batch = %+v, want single /notes/n.md event", batch)
	}
}

func TestWatchHub_UnsubscribeClearsPendingTimer(t *testing.T) {
	hub := NewWatchHub()
	defer hub.Close()

	var c collector
	unsub := hub.Subscribe("/", c.fn, WatchOptions{Recursive: true, Debounce: 20 * time.Millisecond})

	hub.Publish(Event{Path: "/a.md", Op: OpCreate})
	unsub()

	time.Sleep(80 * time.Millisecond)
	if got := c.count(); got != 0 {
		t.Errorf("batches after unsubscribe = %d, want 0", got)
	}
}

func TestWatchHub_TimerResetsOnNewEvent(t *testing.T) {
	hub := NewWatchHub()
	defer hub.Close()

	var c collector
	hub.Subscribe("/", c.fn, WatchOptions{Recursive: true, Debounce: 50 * time.Millisecond})

	// Keep the stream busy at intervals shorter than the window; nothing
	// should flush until it goes quiet.
	for i := 0; i < 4; i++ {
		hub.Publish(Event{Path: "/busy.md", Op: OpModify})
		time.Sleep(20 * time.Millisecond)
	}
	if got := c.count(); got != 0 {
		t.Fatalf("flushed mid-stream: batches = %d, want 0", got)
	}

	time.Sleep(120 * time.Millisecond)
	if got := c.count(); got != 1 {
		t.Fatalf("batches after quiet period = %d, want 1", got)
	}
	if got := len(c.batch(0)); got != 4 {
		t.Errorf("batch size = %d, want 4", got)
	}
}

func TestWatchHub_CallbackPanicIsContained(t *testing.T) {
	hub := NewWatchHub()
	defer hub.Close()

	hub.Subscribe("/", func([]Event) { panic("listener bug") },
		WatchOptions{Recursive: true, Debounce: 10 * time.Millisecond})

	var c collector
	hub.Subscribe("/", c.fn, WatchOptions{Recursive: true, Debounce: 10 * time.Millisecond})

	hub.Publish(Event{Path: "/a.md", Op: OpCreate})

	deadline := time.Now().Add(time.Second)
	for c.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := c.count(); got != 1 {
		t.Errorf("healthy subscriber batches = %d, want 1", got)
	}
}
