// Package events provides the typed in-process event bus shared by the
// sync engine, the conflict engine and the persistence coordinator.
//
// Two delivery styles hang off one bus: callback listeners for components
// that react to specific event names, and buffered channel subscribers for
// streaming consumers such as the dashboard. Channel fan-out is
// non-blocking and drops events for slow consumers. Listener panics are
// recovered and logged so one bad handler cannot take down a publisher.
package events

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Event names published across the system.
const (
	ModeChanged        = "mode-changed"
	SyncStarted        = "sync-started"
	SyncProgress       = "sync-progress"
	SyncCompleted      = "sync-completed"
	SyncError          = "sync-error"
	ConnectionChanged  = "connection-changed"
	ConflictDetected   = "conflict-detected"
	ConflictResolved   = "conflict-resolved"
	DetectionStarted   = "detection-started"
	DetectionCompleted = "detection-completed"
	PermissionRequest  = "permission-request"
	Error              = "error"
)

// Event is a named payload with a publish timestamp.
type Event struct {
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Listener handles a single event. It runs synchronously on the
// publisher's goroutine; keep it fast.
type Listener func(Event)

// Bus fans events out to named listeners and channel subscribers.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]listenerEntry
	channels  map[chan Event]struct{}
	nextID    uint64
	closed    bool
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		listeners: make(map[string][]listenerEntry),
		channels:  make(map[chan Event]struct{}),
	}
}

// On registers fn for events with the given name. The returned function
// removes the registration and is safe to call more than once.
func (b *Bus) On(name string, fn Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[name] = append(b.listeners[name], listenerEntry{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.listeners[name]
		for i, e := range entries {
			if e.id == id {
				b.listeners[name] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Subscribe returns a buffered channel receiving every event published on
// the bus. The caller must call Unsubscribe when done.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	if !b.closed {
		b.channels[ch] = struct{}{}
	} else {
		close(ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.channels[ch]; ok {
		delete(b.channels, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers the event to every listener registered for its name,
// then to every channel subscriber. Channel sends never block; a full
// subscriber buffer drops the event.
func (b *Bus) Publish(name string, payload map[string]any) {
	ev := Event{Name: name, Payload: payload, Timestamp: time.Now()}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	entries := b.listeners[name]
	fns := make([]Listener, len(entries))
	for i, e := range entries {
		fns[i] = e.fn
	}
	chans := make([]chan Event, 0, len(b.channels))
	for ch := range b.channels {
		chans = append(chans, ch)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		safeCall(name, fn, ev)
	}
	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close drops all registrations and closes subscriber channels. Publish
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.listeners = make(map[string][]listenerEntry)
	for ch := range b.channels {
		close(ch)
	}
	b.channels = make(map[chan Event]struct{})
}

func safeCall(name string, fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			slog.Error("event listener panic",
				"event", name,
				"panic", r,
				"stack", string(buf[:n]),
			)
		}
	}()
	fn(ev)
}
