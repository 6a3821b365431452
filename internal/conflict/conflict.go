// Package conflict detects and resolves divergence between the durable
// local store and the attached external adapter.
//
// A conflict exists for a path only when all three hold: the local copy is
// dirty, the path is flagged as externally modified, and the two sides'
// content actually differs. The flags alone are never enough; a detection
// pass that finds identical content reports nothing, and the flags stay
// put until an explicit sync or resolution clears them.
//
// Detection is read-only. Resolution re-reads both sides at resolution
// time, applies the chosen strategy, and moves the conflict from the
// pending set into an append-only history.
//
// Merge resolutions carry the final content as a plain string, so empty
// merged content is indistinguishable from missing content and is
// rejected. To end up with an empty file, empty one side first and
// resolve with KeepLocal or KeepExternal.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvoss/trellis/internal/events"
	"github.com/nvoss/trellis/internal/storage"
)

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	// KeepLocal writes the local content out to external storage.
	KeepLocal Strategy = "keep-local"
	// KeepExternal writes the external content into the durable store.
	KeepExternal Strategy = "keep-external"
	// Merge writes caller-supplied final content to both sides.
	Merge Strategy = "merge"
	// Skipped marks a conflict the user dismissed without writing.
	Skipped Strategy = "skipped"
)

// Conflict is a pending divergence on one path.
type Conflict struct {
	ID              string    `json:"id"`
	Path            string    `json:"path"`
	LocalContent    string    `json:"local_content"`
	ExternalContent string    `json:"external_content"`
	DetectedAt      time.Time `json:"detected_at"`
}

// Resolution is a history record of a settled conflict.
type Resolution struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Strategy   Strategy  `json:"strategy"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Outcome is the per-item result of a bulk resolution.
type Outcome struct {
	ID   string
	Path string
	Err  error
}

// LocalStore is the slice of the durable store the engine needs.
type LocalStore interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	MarkSynced(ctx context.Context, path string) error
	DirtyFiles(ctx context.Context) ([]string, error)
	ExternallyModifiedFiles(ctx context.Context) ([]string, error)
}

// Engine tracks pending conflicts for one project.
type Engine struct {
	local LocalStore
	bus   *events.Bus

	mu       sync.RWMutex
	external storage.Adapter
	pending  map[string]*Conflict
	history  []Resolution
}

// New creates an engine with no attached external adapter.
func New(local LocalStore, bus *events.Bus) *Engine {
	return &Engine{
		local:   local,
		bus:     bus,
		pending: make(map[string]*Conflict),
	}
}

// Attach sets the external adapter used for detection and resolution.
func (e *Engine) Attach(external storage.Adapter) {
	e.mu.Lock()
	e.external = external
	e.mu.Unlock()
}

// Detach drops the external adapter. Pending conflicts survive a detach so
// they can be resolved after a reconnect.
func (e *Engine) Detach() {
	e.mu.Lock()
	e.external = nil
	e.mu.Unlock()
}

// Detect scans for conflicts, optionally restricted to the given paths.
// It never mutates store flags; a path whose two sides match is simply not
// a conflict. A path that cannot be read is recorded as a failure and the
// scan moves on, so one bad path never hides the rest; the joined per-path
// errors come back alongside whatever was found.
func (e *Engine) Detect(ctx context.Context, paths ...string) ([]*Conflict, error) {
	external := e.adapter()
	if external == nil {
		return nil, storage.ErrNotConnected
	}

	e.bus.Publish(events.DetectionStarted, nil)

	var found []*Conflict
	var errs []error
	defer func() {
		e.bus.Publish(events.DetectionCompleted, map[string]any{
			"conflicts": len(found),
			"failed":    len(errs),
		})
	}()

	candidates, err := e.candidates(ctx, paths)
	if err != nil {
		errs = append(errs, err)
		return nil, err
	}

	for _, p := range candidates {
		local, err := e.local.ReadFile(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("detect %s: %w", p, err))
			continue
		}
		// A file deleted externally is a content conflict against the
		// empty string, not an error.
		remote, err := external.ReadFile(ctx, p)
		if err != nil {
			if !storage.IsNotFound(err) {
				errs = append(errs, fmt.Errorf("detect %s: %w", p, err))
				continue
			}
			remote = ""
		}
		if local == remote {
			continue
		}
		found = append(found, e.record(p, local, remote))
	}

	return found, errors.Join(errs...)
}

// candidates intersects the dirty set with the externally-modified set.
func (e *Engine) candidates(ctx context.Context, filter []string) ([]string, error) {
	dirty, err := e.local.DirtyFiles(ctx)
	if err != nil {
		return nil, err
	}
	modified, err := e.local.ExternallyModifiedFiles(ctx)
	if err != nil {
		return nil, err
	}

	dirtySet := make(map[string]bool, len(dirty))
	for _, p := range dirty {
		dirtySet[p] = true
	}
	var want map[string]bool
	if len(filter) > 0 {
		want = make(map[string]bool, len(filter))
		for _, p := range filter {
			want[storage.NormalizePath(p)] = true
		}
	}

	var out []string
	for _, p := range modified {
		if !dirtySet[p] {
			continue
		}
		if want != nil && !want[p] {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// record registers a detected conflict, reusing the pending entry's ID
// when the path already has one so repeated detection stays stable.
func (e *Engine) record(path, local, remote string) *Conflict {
	e.mu.Lock()
	for _, c := range e.pending {
		if c.Path == path {
			c.LocalContent = local
			c.ExternalContent = remote
			c.DetectedAt = time.Now()
			e.mu.Unlock()
			return c
		}
	}
	c := &Conflict{
		ID:              uuid.New().String(),
		Path:            path,
		LocalContent:    local,
		ExternalContent: remote,
		DetectedAt:      time.Now(),
	}
	e.pending[c.ID] = c
	e.mu.Unlock()

	e.bus.Publish(events.ConflictDetected, map[string]any{
		"id":   c.ID,
		"path": c.Path,
	})
	return c
}

// Resolve settles one pending conflict. Content is re-read at resolution
// time so a resolution applies to what is on disk now, not what detection
// saw. Merge requires the caller's final content; without it the conflict
// stays pending.
func (e *Engine) Resolve(ctx context.Context, id string, strategy Strategy, merged string) error {
	external := e.adapter()
	if external == nil {
		return storage.ErrNotConnected
	}

	e.mu.RLock()
	c, ok := e.pending[id]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("resolve %s: %w", id, storage.ErrConflictNotFound)
	}

	switch strategy {
	case KeepLocal:
		content, err := e.local.ReadFile(ctx, c.Path)
		if err != nil {
			return err
		}
		if err := external.WriteFile(ctx, c.Path, content); err != nil {
			return err
		}
	case KeepExternal:
		content, err := external.ReadFile(ctx, c.Path)
		if err != nil {
			if !storage.IsNotFound(err) {
				return err
			}
			content = ""
		}
		if err := e.local.WriteFile(ctx, c.Path, content); err != nil {
			return err
		}
	case Merge:
		if merged == "" {
			return fmt.Errorf("resolve %s: %w", c.Path, storage.ErrMergeContentRequired)
		}
		if err := e.local.WriteFile(ctx, c.Path, merged); err != nil {
			return err
		}
		if err := external.WriteFile(ctx, c.Path, merged); err != nil {
			return err
		}
	default:
		return fmt.Errorf("resolve %s: unknown strategy %q: %w", c.Path, strategy, storage.ErrInvalidOperation)
	}

	if err := e.local.MarkSynced(ctx, c.Path); err != nil {
		return err
	}
	e.settle(c, strategy)
	return nil
}

// ResolveAll resolves every pending conflict with one strategy, each item
// independently. Merge cannot be applied in bulk: every item fails with
// storage.ErrBulkMergeUnsupported and stays pending.
func (e *Engine) ResolveAll(ctx context.Context, strategy Strategy) []Outcome {
	snapshot := e.Pending()

	outcomes := make([]Outcome, 0, len(snapshot))
	for _, c := range snapshot {
		out := Outcome{ID: c.ID, Path: c.Path}
		if strategy == Merge {
			out.Err = fmt.Errorf("resolve %s: %w", c.Path, storage.ErrBulkMergeUnsupported)
		} else {
			out.Err = e.Resolve(ctx, c.ID, strategy, "")
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Skip dismisses a pending conflict without touching either side. Flags
// are untouched, so a later detection pass may surface the path again.
func (e *Engine) Skip(id string) error {
	e.mu.RLock()
	c, ok := e.pending[id]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("skip %s: %w", id, storage.ErrConflictNotFound)
	}
	e.settle(c, Skipped)
	return nil
}

// settle moves a conflict from pending to history and announces it.
func (e *Engine) settle(c *Conflict, strategy Strategy) {
	rec := Resolution{
		ID:         c.ID,
		Path:       c.Path,
		Strategy:   strategy,
		ResolvedAt: time.Now(),
	}
	e.mu.Lock()
	delete(e.pending, c.ID)
	e.history = append(e.history, rec)
	e.mu.Unlock()

	e.bus.Publish(events.ConflictResolved, map[string]any{
		"id":       c.ID,
		"path":     c.Path,
		"strategy": string(strategy),
	})
}

// Pending returns the pending conflicts ordered by path.
func (e *Engine) Pending() []*Conflict {
	e.mu.RLock()
	out := make([]*Conflict, 0, len(e.pending))
	for _, c := range e.pending {
		out = append(out, c)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Get returns a pending conflict by ID.
func (e *Engine) Get(id string) (*Conflict, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.pending[id]
	return c, ok
}

// History returns resolution records in the order they were settled. The
// log is append-only for the life of the engine.
func (e *Engine) History() []Resolution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Resolution, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) adapter() storage.Adapter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.external
}
