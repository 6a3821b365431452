// Package coordinator owns the connection lifecycle between the durable
// local store and external storage.
//
// It decides which adapter the rest of the system talks to: the durable
// store while disconnected, the external adapter while connected. Connects
// happen two ways: a fresh gesture carrying a new directory handle, or a
// startup reconnect that replays the handle persisted from a previous
// session. Reconnect never fails hard; any problem using the stored handle
// degrades to the PermissionNeeded state, where the handle is surfaced so
// the user can re-grant access with a gesture.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nvoss/trellis/internal/events"
	"github.com/nvoss/trellis/internal/storage"
	"github.com/nvoss/trellis/internal/storage/durable"
	"github.com/nvoss/trellis/internal/storage/external"
)

// State is the coordinator's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Reconnecting
	Connected
	PermissionNeeded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Reconnecting:
		return "reconnecting"
	case Connected:
		return "connected"
	case PermissionNeeded:
		return "permission-needed"
	default:
		return "unknown"
	}
}

// Attacher is anything that follows the active external adapter; the sync
// and conflict engines both satisfy it.
type Attacher interface {
	Attach(storage.Adapter)
	Detach()
}

// Coordinator manages the durable/external adapter pair for one project.
type Coordinator struct {
	project   string
	store     *durable.Store
	handles   *HandleStore
	bus       *events.Bus
	extOpts   external.Options
	attachers []Attacher

	mu       sync.RWMutex
	state    State
	external *external.Adapter
	// pendingHandle is the restored handle awaiting a re-grant while in
	// PermissionNeeded.
	pendingHandle external.Handle
}

// New creates a coordinator in the Disconnected state.
func New(project string, store *durable.Store, handles *HandleStore, bus *events.Bus, extOpts external.Options) *Coordinator {
	return &Coordinator{
		project: project,
		store:   store,
		handles: handles,
		bus:     bus,
		extOpts: extOpts,
		state:   Disconnected,
	}
}

// AddAttacher registers a component to receive Attach/Detach as the
// connection changes. Register before Connect or Reconnect.
func (c *Coordinator) AddAttacher(a Attacher) {
	c.attachers = append(c.attachers, a)
}

// State reports the current connection state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Adapter returns the storage the system should use right now: the
// external adapter while connected, the durable store otherwise.
func (c *Coordinator) Adapter() storage.Adapter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == Connected && c.external != nil {
		return c.external
	}
	return c.store
}

// External returns the connected external adapter, or nil.
func (c *Coordinator) External() *external.Adapter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.external
}

// Connect establishes a fresh connection from a user gesture carrying a
// directory handle.
func (c *Coordinator) Connect(ctx context.Context, h external.Handle) error {
	c.setState(Connecting)

	perm := h.Permission(ctx)
	if perm == external.PermissionPrompt {
		var err error
		perm, err = h.RequestPermission(ctx)
		if err != nil {
			c.setState(Disconnected)
			c.publishError("permission request failed", err)
			return fmt.Errorf("connect %s: %w", h.Name(), err)
		}
	}
	if perm != external.PermissionGranted {
		c.setState(Disconnected)
		err := storage.NewPathError("connect", "/", storage.ErrPermissionDenied)
		c.publishError("connect refused", err)
		return err
	}

	return c.activate(ctx, h)
}

// Reconnect replays the stored handle from a previous session. No stored
// handle leaves the coordinator Disconnected; a handle that cannot be used
// leaves it in PermissionNeeded. Neither case is an error.
func (c *Coordinator) Reconnect(ctx context.Context) error {
	rec, err := c.handles.Get(c.project)
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	if rec == nil {
		c.setState(Disconnected)
		return nil
	}

	c.setState(Reconnecting)
	h := external.RestoreDirectoryHandle(rec.ID, rec.Name, rec.Root)

	perm, err := h.RequestPermission(ctx)
	if err != nil || perm != external.PermissionGranted {
		if err != nil {
			slog.Warn("stored handle could not be reused", "project", c.project, "error", err)
		}
		c.needPermission(h, rec)
		return nil
	}

	return c.activate(ctx, h)
}

// RequestStoredPermission retries the pending handle after a user gesture
// while in PermissionNeeded.
func (c *Coordinator) RequestStoredPermission(ctx context.Context) error {
	c.mu.RLock()
	h := c.pendingHandle
	state := c.state
	c.mu.RUnlock()
	if state != PermissionNeeded || h == nil {
		return fmt.Errorf("request permission: %w", storage.ErrInvalidOperation)
	}

	perm, err := h.RequestPermission(ctx)
	if err != nil {
		c.publishError("permission re-request failed", err)
		return err
	}
	if perm != external.PermissionGranted {
		err := storage.NewPathError("connect", "/", storage.ErrPermissionDenied)
		c.publishError("permission re-request refused", err)
		return err
	}
	return c.activate(ctx, h)
}

// activate builds the external adapter for a granted handle, persists the
// handle record, and fans the adapter out to the attached engines.
func (c *Coordinator) activate(ctx context.Context, h external.Handle) error {
	rec := &HandleRecord{
		ID:          h.ID(),
		Name:        h.Name(),
		Root:        h.RootDir(),
		ProjectPath: h.RootDir(),
		StoredAt:    time.Now(),
	}
	if err := c.handles.Put(c.project, rec); err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("store handle: %w", err)
	}
	if err := c.store.SetProjectHandleRef(ctx, h.ID()); err != nil {
		slog.Warn("project handle ref not recorded", "project", c.project, "error", err)
	}

	adapter := external.New(h, c.extOpts)

	c.mu.Lock()
	prev := c.external
	c.external = adapter
	c.pendingHandle = nil
	c.state = Connected
	c.mu.Unlock()

	// A repeat Connect replaces the adapter; the old one's poller must
	// not keep running.
	if prev != nil {
		prev.Close()
	}

	for _, a := range c.attachers {
		a.Attach(adapter)
	}
	c.bus.Publish(events.ConnectionChanged, map[string]any{
		"state": Connected.String(),
		"root":  h.RootDir(),
	})
	return nil
}

// needPermission parks the coordinator in PermissionNeeded with the
// restored handle ready for a gesture-driven retry.
func (c *Coordinator) needPermission(h external.Handle, rec *HandleRecord) {
	c.mu.Lock()
	c.pendingHandle = h
	c.state = PermissionNeeded
	c.mu.Unlock()

	c.bus.Publish(events.PermissionRequest, map[string]any{
		"handle": rec.ID,
		"name":   rec.Name,
		"root":   rec.Root,
	})
	c.bus.Publish(events.ConnectionChanged, map[string]any{
		"state": PermissionNeeded.String(),
	})
}

// Disconnect detaches the engines and drops the external adapter.
// clearStoredHandle distinguishes forgetting the directory from merely
// pausing: a cleared handle will not be offered for reconnect.
func (c *Coordinator) Disconnect(clearStoredHandle bool) error {
	c.mu.Lock()
	adapter := c.external
	c.external = nil
	c.pendingHandle = nil
	c.state = Disconnected
	c.mu.Unlock()

	for _, a := range c.attachers {
		a.Detach()
	}
	if adapter != nil {
		adapter.Close()
	}

	if clearStoredHandle {
		if err := c.handles.Delete(c.project); err != nil {
			return fmt.Errorf("forget handle: %w", err)
		}
	}
	c.bus.Publish(events.ConnectionChanged, map[string]any{
		"state":  Disconnected.String(),
		"forgot": clearStoredHandle,
	})
	return nil
}

// StoredHandle returns the persisted handle record for this project, or
// nil when none is stored.
func (c *Coordinator) StoredHandle() (*HandleRecord, error) {
	return c.handles.Get(c.project)
}

// TouchSynced stamps the stored handle after a successful sync run.
func (c *Coordinator) TouchSynced(ctx context.Context) error {
	return c.handles.TouchSynced(c.project, time.Now())
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) publishError(msg string, err error) {
	slog.Error(msg, "project", c.project, "error", err)
	c.bus.Publish(events.Error, map[string]any{
		"message": msg,
		"error":   err.Error(),
	})
}
