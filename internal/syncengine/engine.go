// Package syncengine moves file content between the durable local store
// and an attached external adapter.
//
// The engine is a small state machine:
//
//	Disconnected --Attach--> Idle --run--> Syncing --ok--> Idle
//	                                          \--fail--> Error
//	      ^------------------Detach-------------------------/
//
// At most one run is in flight at a time; a concurrent Push or Pull fails
// immediately with storage.ErrSyncInProgress instead of queueing. Every
// run produces a Result with ordered per-path outcomes, and failures are
// always per item: the engine itself never panics outward.
package syncengine

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nvoss/trellis/internal/events"
	"github.com/nvoss/trellis/internal/storage"
	"github.com/nvoss/trellis/internal/storage/durable"
)

// DefaultExtension is the content extension tracked when none is
// configured.
const DefaultExtension = ".md"

// State is the engine's connection/run state.
type State int

const (
	Disconnected State = iota
	Idle
	Syncing
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// LocalStore is the slice of the durable store the engine needs.
type LocalStore interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	DirtyFiles(ctx context.Context) ([]string, error)
	MarkSynced(ctx context.Context, path string) error
	GetRecord(ctx context.Context, path string) (*durable.FileRecord, error)
}

// HandleToucher records that a sync completed against the stored external
// handle. The coordinator implements it; failures are logged and dropped,
// never surfaced into the run result.
type HandleToucher interface {
	TouchSynced(ctx context.Context) error
}

// PushOptions controls a durable-to-external run.
type PushOptions struct {
	// Paths restricts the run to the given paths. Empty means every
	// dirty file.
	Paths []string
	// ContinueOnError keeps going past per-item failures instead of
	// stopping at the first one.
	ContinueOnError bool
}

// PullOptions controls an external-to-durable run.
type PullOptions struct {
	// SkipUnchanged skips paths that are clean locally, not flagged as
	// externally modified, and already present in the durable store.
	SkipUnchanged bool
	// SkipConflicted skips paths that are dirty locally and flagged as
	// externally modified. Those paths have diverged on both sides and
	// belong to conflict resolution; pulling them would overwrite the
	// local edits.
	SkipConflicted bool
	// ContinueOnError keeps going past per-item failures.
	ContinueOnError bool
}

// ItemResult is the outcome for a single path in a run.
type ItemResult struct {
	Path string `json:"path"`
	// Error is the normalized failure message, empty on success.
	Error string `json:"error,omitempty"`
}

// Result summarizes one Push or Pull run.
type Result struct {
	Mode        string       `json:"mode"`
	Items       []ItemResult `json:"items"`
	Synced      int          `json:"synced"`
	Failed      int          `json:"failed"`
	Skipped     int          `json:"skipped"`
	Success     bool         `json:"success"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
}

// Engine coordinates sync runs between the durable store and an attached
// external adapter.
type Engine struct {
	local     LocalStore
	bus       *events.Bus
	extension string
	toucher   HandleToucher

	inFlight atomic.Bool

	mu       sync.RWMutex
	external storage.Adapter
	state    State
	lastRes  *Result
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension sets the tracked content extension for Pull listings.
func WithExtension(ext string) Option {
	return func(e *Engine) {
		if ext != "" {
			e.extension = ext
		}
	}
}

// WithHandleToucher sets the post-run handle callback.
func WithHandleToucher(t HandleToucher) Option {
	return func(e *Engine) { e.toucher = t }
}

// New creates an engine in the Disconnected state.
func New(local LocalStore, bus *events.Bus, opts ...Option) *Engine {
	e := &Engine{
		local:     local,
		bus:       bus,
		extension: DefaultExtension,
		state:     Disconnected,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Attach connects an external adapter and moves the engine to Idle.
func (e *Engine) Attach(external storage.Adapter) {
	e.mu.Lock()
	e.external = external
	e.state = Idle
	e.mu.Unlock()
	e.bus.Publish(events.ModeChanged, map[string]any{"state": Idle.String()})
}

// Detach drops the external adapter and returns to Disconnected. A run in
// flight keeps its adapter reference until it finishes.
func (e *Engine) Detach() {
	e.mu.Lock()
	e.external = nil
	e.state = Disconnected
	e.mu.Unlock()
	e.bus.Publish(events.ModeChanged, map[string]any{"state": Disconnected.String()})
}

// State reports the engine's current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// LastResult returns the result of the most recent run, or nil.
func (e *Engine) LastResult() *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRes
}

// Push writes dirty durable content out to the external adapter. Each
// successfully written path is marked synced.
func (e *Engine) Push(ctx context.Context, opts PushOptions) (*Result, error) {
	external, err := e.begin()
	if err != nil {
		return nil, err
	}
	res := &Result{Mode: "push", StartedAt: time.Now()}
	defer e.finish(res)

	e.bus.Publish(events.SyncStarted, map[string]any{"mode": res.Mode})

	paths, err := e.pushPaths(ctx, opts.Paths)
	if err != nil {
		res.Failed++
		return nil, err
	}

	total := len(paths)
	for i, p := range paths {
		e.bus.Publish(events.SyncProgress, map[string]any{
			"mode":    res.Mode,
			"current": i + 1,
			"total":   total,
			"path":    p,
		})
		if err := e.pushOne(ctx, external, p); err != nil {
			res.Items = append(res.Items, ItemResult{Path: p, Error: err.Error()})
			res.Failed++
			if !opts.ContinueOnError {
				break
			}
			continue
		}
		res.Items = append(res.Items, ItemResult{Path: p})
		res.Synced++
	}
	return res, nil
}

// pushPaths enumerates the dirty set, optionally restricted to an explicit
// path filter, in stable order.
func (e *Engine) pushPaths(ctx context.Context, filter []string) ([]string, error) {
	dirty, err := e.local.DirtyFiles(ctx)
	if err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		sort.Strings(dirty)
		return dirty, nil
	}
	want := make(map[string]bool, len(filter))
	for _, p := range filter {
		want[storage.NormalizePath(p)] = true
	}
	var paths []string
	for _, p := range dirty {
		if want[p] {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// pushOne syncs a single path out. The path stays dirty unless every step
// succeeds.
func (e *Engine) pushOne(ctx context.Context, external storage.Adapter, path string) error {
	content, err := e.local.ReadFile(ctx, path)
	if err != nil {
		return err
	}
	if err := external.WriteFile(ctx, path, content); err != nil {
		return err
	}
	return e.local.MarkSynced(ctx, path)
}

// Pull reads the external tree into the durable store.
func (e *Engine) Pull(ctx context.Context, opts PullOptions) (*Result, error) {
	external, err := e.begin()
	if err != nil {
		return nil, err
	}
	res := &Result{Mode: "pull", StartedAt: time.Now()}
	defer e.finish(res)

	e.bus.Publish(events.SyncStarted, map[string]any{"mode": res.Mode})

	entries, err := external.ListDirectory(ctx, "/", storage.ListOptions{
		Recursive: true,
		Extension: e.extension,
	})
	if err != nil {
		res.Failed++
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		paths = append(paths, entry.Path)
	}
	sort.Strings(paths)

	total := len(paths)
	for i, p := range paths {
		e.bus.Publish(events.SyncProgress, map[string]any{
			"mode":    res.Mode,
			"current": i + 1,
			"total":   total,
			"path":    p,
		})
		if opts.SkipUnchanged || opts.SkipConflicted {
			if e.skipOnPull(ctx, p, opts) {
				res.Skipped++
				continue
			}
		}
		if err := e.pullOne(ctx, external, p); err != nil {
			res.Items = append(res.Items, ItemResult{Path: p, Error: err.Error()})
			res.Failed++
			if !opts.ContinueOnError {
				break
			}
			continue
		}
		res.Items = append(res.Items, ItemResult{Path: p})
		res.Synced++
	}
	return res, nil
}

// skipOnPull reports whether a path should be left alone on pull. A path
// unknown to the store is always pulled; a known one is skipped when it is
// unchanged locally (SkipUnchanged) or has diverged on both sides
// (SkipConflicted).
func (e *Engine) skipOnPull(ctx context.Context, path string, opts PullOptions) bool {
	rec, err := e.local.GetRecord(ctx, path)
	if err != nil {
		return false
	}
	if opts.SkipConflicted && rec.Dirty() && rec.ExternallyModified {
		return true
	}
	return opts.SkipUnchanged && !rec.Dirty() && !rec.ExternallyModified
}

func (e *Engine) pullOne(ctx context.Context, external storage.Adapter, path string) error {
	content, err := external.ReadFile(ctx, path)
	if err != nil {
		return err
	}
	if err := e.local.WriteFile(ctx, path, content); err != nil {
		return err
	}
	return e.local.MarkSynced(ctx, path)
}

// begin claims the single run slot and snapshots the external adapter.
func (e *Engine) begin() (storage.Adapter, error) {
	e.mu.RLock()
	external := e.external
	e.mu.RUnlock()
	if external == nil {
		return nil, storage.ErrNotConnected
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, storage.ErrSyncInProgress
	}
	e.mu.Lock()
	e.state = Syncing
	e.mu.Unlock()
	return external, nil
}

// finish releases the run slot, records the result, and publishes the
// terminal event.
func (e *Engine) finish(res *Result) {
	res.CompletedAt = time.Now()
	res.Success = res.Failed == 0

	e.mu.Lock()
	if res.Success {
		e.state = Idle
	} else {
		e.state = Errored
	}
	e.lastRes = res
	e.mu.Unlock()
	e.inFlight.Store(false)

	if res.Success {
		e.bus.Publish(events.SyncCompleted, map[string]any{
			"mode":    res.Mode,
			"synced":  res.Synced,
			"skipped": res.Skipped,
		})
	} else {
		var failed []string
		for _, it := range res.Items {
			if it.Error != "" {
				failed = append(failed, it.Path+": "+it.Error)
			}
		}
		e.bus.Publish(events.SyncError, map[string]any{
			"mode":   res.Mode,
			"failed": res.Failed,
			"errors": strings.Join(failed, "; "),
		})
	}

	// Any run that moved at least one item stamps the stored handle, even
	// when other items failed.
	if res.Synced > 0 && e.toucher != nil {
		if err := e.toucher.TouchSynced(context.Background()); err != nil {
			slog.Warn("handle touch after sync failed", "error", err)
		}
	}
}
