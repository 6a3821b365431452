// Package daemon provides the auto-sync daemon that watches a connected
// external directory and keeps the durable store's bookkeeping current.
//
// The daemon:
//  1. Watches the external root (and subdirectories) with fsnotify
//  2. Debounces rapid changes through a change queue
//  3. Marks affected tracked paths externally modified in the durable store
//  4. Triggers conflict detection for those paths
//  5. Periodically pulls the external tree on an interval
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nvoss/trellis/internal/conflict"
	"github.com/nvoss/trellis/internal/storage"
	"github.com/nvoss/trellis/internal/syncengine"
)

// Config holds daemon tuning knobs.
type Config struct {
	// PullInterval is how often the daemon runs a full pull.
	PullInterval time.Duration

	// DebounceInterval is how long a change must sit in the queue before
	// it is processed, batching rapid updates together.
	DebounceInterval time.Duration

	// Extension is the tracked content extension.
	Extension string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PullInterval:     30 * time.Second,
		DebounceInterval: 200 * time.Millisecond,
		Extension:        syncengine.DefaultExtension,
	}
}

// Store is the slice of the durable store the daemon needs.
type Store interface {
	Exists(ctx context.Context, path string) (bool, error)
	MarkExternallyModified(ctx context.Context, path string) error
}

// Detector runs conflict detection for changed paths.
type Detector interface {
	Detect(ctx context.Context, paths ...string) ([]*conflict.Conflict, error)
}

// Puller runs periodic pulls.
type Puller interface {
	Pull(ctx context.Context, opts syncengine.PullOptions) (*syncengine.Result, error)
}

// Daemon watches an external directory and feeds changes back into the
// durable store's bookkeeping.
type Daemon struct {
	root     string
	store    Store
	detector Detector
	puller   Puller
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // external path -> queued at
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon watching root, the host directory behind the
// connected external adapter.
func New(root string, store Store, detector Detector, puller Puller, config *Config) (*Daemon, error) {
	if root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		root:        root,
		store:       store,
		detector:    detector,
		puller:      puller,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins watching and blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("starting auto-sync daemon", "root", d.root)

	if err := d.addWatchTree(d.root); err != nil {
		return fmt.Errorf("failed to watch root: %w", err)
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()
	if d.puller != nil && d.config.PullInterval > 0 {
		d.wg.Add(1)
		go d.periodicPull()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts the daemon down.
func (d *Daemon) Stop() error {
	d.cancel()
	if err := d.watcher.Close(); err != nil {
		slog.Warn("error closing watcher", "error", err)
	}
	d.wg.Wait()
	slog.Info("auto-sync daemon stopped")
	return nil
}

// addWatchTree registers root and every subdirectory with the watcher.
// fsnotify watches are not recursive, so each directory needs its own.
func (d *Daemon) addWatchTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		return d.watcher.Add(path)
	})
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(event)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

func (d *Daemon) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// New directories need their own watch before events inside them
	// can be seen.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := d.watcher.Add(event.Name); err != nil {
				slog.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	if filepath.Ext(event.Name) != d.config.Extension {
		return
	}

	slog.Debug("file event", "op", event.Op.String(), "path", event.Name)
	d.changeQueueMu.Lock()
	d.changeQueue[event.Name] = time.Now()
	d.changeQueueMu.Unlock()
}

// processChangeQueue drains the queue on a debounce tick.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges flags paths that have settled, then triggers one
// detection pass over all of them.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var settled []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		settled = append(settled, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	if len(settled) == 0 {
		return
	}

	var changed []string
	for _, hostPath := range settled {
		p, ok := d.adapterPath(hostPath)
		if !ok {
			continue
		}
		// Only paths the store tracks get flagged; an unknown external
		// file is picked up by the next pull instead.
		exists, err := d.store.Exists(d.ctx, p)
		if err != nil || !exists {
			continue
		}
		if err := d.store.MarkExternallyModified(d.ctx, p); err != nil {
			slog.Warn("failed to flag external change", "path", p, "error", err)
			continue
		}
		changed = append(changed, p)
	}

	if len(changed) == 0 || d.detector == nil {
		return
	}
	if _, err := d.detector.Detect(d.ctx, changed...); err != nil &&
		!errors.Is(err, storage.ErrNotConnected) && !errors.Is(err, context.Canceled) {
		slog.Warn("conflict detection failed", "error", err)
	}
}

// adapterPath converts a host filesystem path to the adapter's rooted
// form.
func (d *Daemon) adapterPath(hostPath string) (string, bool) {
	rel, err := filepath.Rel(d.root, hostPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return storage.NormalizePath(filepath.ToSlash(rel)), true
}

// periodicPull runs a full pull on the configured interval.
func (d *Daemon) periodicPull() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			// Conflicted paths are left to the conflict engine;
			// pulling them would clobber unsynced local edits.
			res, err := d.puller.Pull(d.ctx, syncengine.PullOptions{
				SkipUnchanged:   true,
				SkipConflicted:  true,
				ContinueOnError: true,
			})
			switch {
			case errors.Is(err, storage.ErrSyncInProgress):
				slog.Debug("pull skipped, sync already running")
			case err != nil:
				slog.Warn("periodic pull failed", "error", err)
			default:
				slog.Debug("periodic pull complete", "synced", res.Synced, "skipped", res.Skipped)
			}
		}
	}
}
