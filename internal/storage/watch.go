package storage

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// WatchHub implements the debounced watch fan-out shared by the adapters.
//
// Each subscription owns its own coalescing buffer and flush timer: events
// matching the subscription (path equality, or prefix when recursive) are
// buffered, and the timer is reset on every new match. When the debounce
// window elapses the buffered events are delivered as one batched callback.
// Unsubscribing clears any pending timer, so no callback fires after it
// returns observable effects to the subscriber.
type WatchHub struct {
	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

type subscription struct {
	hub       *WatchHub
	id        uint64
	path      string
	recursive bool
	debounce  time.Duration
	fn        WatchFunc

	// guarded by hub.mu
	buffer []Event
	timer  *time.Timer
	dead   bool
}

// NewWatchHub returns an empty hub ready for subscriptions.
func NewWatchHub() *WatchHub {
	return &WatchHub{subs: make(map[uint64]*subscription)}
}

// Subscribe registers fn for events at path. The returned function removes
// the subscription and cancels any pending flush.
func (h *WatchHub) Subscribe(path string, fn WatchFunc, opts WatchOptions) UnsubscribeFunc {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &subscription{
		hub:       h,
		id:        h.nextID,
		path:      NormalizePath(path),
		recursive: opts.Recursive,
		debounce:  debounce,
		fn:        fn,
	}
	if !h.closed {
		h.subs[sub.id] = sub
	}

	return func() { h.remove(sub) }
}

// Publish routes one event to every matching subscription. It never blocks
// on subscriber callbacks; delivery happens on timer goroutines.
func (h *WatchHub) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	evt.Path = NormalizePath(evt.Path)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	for _, sub := range h.subs {
		if !sub.matches(evt.Path) {
			continue
		}
		sub.buffer = append(sub.buffer, evt)
		// Reset the window: the batch flushes only after the stream
		// has been quiet for the full debounce interval.
		if sub.timer != nil {
			sub.timer.Stop()
		}
		s := sub
		sub.timer = time.AfterFunc(sub.debounce, func() { s.flush() })
	}
}

// Close removes every subscription and cancels pending timers. The hub
// rejects further publishes.
func (h *WatchHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		sub.dead = true
		if sub.timer != nil {
			sub.timer.Stop()
			sub.timer = nil
		}
		delete(h.subs, id)
	}
}

func (h *WatchHub) remove(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub.dead = true
	if sub.timer != nil {
		sub.timer.Stop()
		sub.timer = nil
	}
	sub.buffer = nil
	delete(h.subs, sub.id)
}

func (s *subscription) matches(path string) bool {
	if path == s.path {
		return true
	}
	if !s.recursive {
		return false
	}
	return IsPathUnder(path, s.path)
}

// flush delivers the buffered batch. Runs on the timer goroutine.
func (s *subscription) flush() {
	s.hub.mu.Lock()
	if s.dead || len(s.buffer) == 0 {
		s.hub.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = nil
	s.timer = nil
	s.hub.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			buf = buf[:runtime.Stack(buf, false)]
			slog.Error("watch callback panicked",
				"path", s.path,
				"panic", r,
				"stack", string(buf),
			)
		}
	}()
	s.fn(batch)
}
