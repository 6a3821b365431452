package external

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/nvoss/trellis/internal/storage"
)

// DefaultPollInterval is the change-detection polling cadence when Options
// leaves PollInterval unset.
const DefaultPollInterval = time.Second

// Options configures the adapter.
type Options struct {
	// CacheTTL bounds the directory listing cache. Zero means
	// DefaultCacheTTL.
	CacheTTL time.Duration
	// PollInterval is the watch polling cadence. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration
}

// Adapter serves the storage contract against the directory a Handle scopes
// to. Every operation re-checks the handle's permission state first.
type Adapter struct {
	handle Handle
	opts   Options
	cache  *listingCache
	hub    *storage.WatchHub
	poller *poller
}

// New wraps handle in an adapter. The handle may still be in the prompt
// state; the first operation will trigger a permission request.
func New(handle Handle, opts Options) *Adapter {
	a := &Adapter{
		handle: handle,
		opts:   opts,
		cache:  newListingCache(opts.CacheTTL),
		hub:    storage.NewWatchHub(),
	}
	a.poller = newPoller(a, opts.PollInterval)
	return a
}

// Handle returns the capability token backing this adapter.
func (a *Adapter) Handle() Handle { return a.handle }

// Root implements storage.Adapter.
func (a *Adapter) Root() string { return "/" }

// Close stops polling and cancels watch subscriptions.
func (a *Adapter) Close() {
	a.poller.stop()
	a.hub.Close()
}

// checkAccess enforces the permission gate: granted proceeds, prompt
// triggers a request, and denial (or a failed request) is a typed error,
// never a silent no-op.
func (a *Adapter) checkAccess(ctx context.Context, op, path string) (string, error) {
	perm := a.handle.Permission(ctx)
	if perm == PermissionPrompt {
		requested, err := a.handle.RequestPermission(ctx)
		if err != nil {
			return "", storage.NewPathError(op, path, storage.ErrPermissionDenied)
		}
		perm = requested
	}
	if perm != PermissionGranted {
		return "", storage.NewPathError(op, path, storage.ErrPermissionDenied)
	}
	root := a.handle.RootDir()
	if root == "" {
		return "", storage.NewPathError(op, path, storage.ErrPermissionDenied)
	}
	return root, nil
}

// hostPath maps a normalized adapter path onto the handle's directory.
// NormalizePath never escapes the root, so the join stays inside it.
func hostPath(root, path string) string {
	p := storage.NormalizePath(path)
	if p == "/" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(p[1:]))
}

// mapError converts an OS error into the shared taxonomy.
func mapError(op, path string, err error, missing error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return storage.NewPathError(op, path, missing)
	case errors.Is(err, fs.ErrPermission):
		return storage.NewPathError(op, path, storage.ErrPermissionDenied)
	case errors.Is(err, syscall.ENOSPC):
		return storage.NewPathError(op, path, storage.ErrQuotaExceeded)
	default:
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
}

// ReadFile implements storage.Adapter.
func (a *Adapter) ReadFile(ctx context.Context, path string) (string, error) {
	p := storage.NormalizePath(path)
	root, err := a.checkAccess(ctx, "read", p)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(hostPath(root, p))
	if err != nil {
		return "", mapError("read", p, err, storage.ErrFileNotFound)
	}
	return string(data), nil
}

// WriteFile implements storage.Adapter. Parent directories are created
// implicitly and the affected cache subtree is invalidated.
func (a *Adapter) WriteFile(ctx context.Context, path, content string) error {
	p := storage.NormalizePath(path)
	if p == "/" {
		return storage.NewPathError("write", p, storage.ErrInvalidOperation)
	}
	root, err := a.checkAccess(ctx, "write", p)
	if err != nil {
		return err
	}

	host := hostPath(root, p)
	if info, err := os.Stat(host); err == nil && info.IsDir() {
		return storage.NewPathError("write", p, storage.ErrPathExists)
	}

	if err := os.MkdirAll(filepath.Dir(host), 0755); err != nil {
		return mapError("write", p, err, storage.ErrDirectoryNotFound)
	}

	op := storage.OpModify
	if _, err := os.Stat(host); errors.Is(err, fs.ErrNotExist) {
		op = storage.OpCreate
	}

	if err := os.WriteFile(host, []byte(content), 0644); err != nil {
		return mapError("write", p, err, storage.ErrFileNotFound)
	}

	a.cache.invalidateSubtree(p)
	a.poller.noteLocalWrite(p)
	a.hub.Publish(storage.Event{Path: p, Op: op, At: time.Now()})
	return nil
}

// ListDirectory implements storage.Adapter. Results are cached with a
// bounded TTL keyed by the relative path and options.
func (a *Adapter) ListDirectory(ctx context.Context, path string, opts storage.ListOptions) ([]storage.Entry, error) {
	p := storage.NormalizePath(path)
	root, err := a.checkAccess(ctx, "list", p)
	if err != nil {
		return nil, err
	}

	if cached, ok := a.cache.get(p, opts); ok {
		return cached, nil
	}

	host := hostPath(root, p)
	info, err := os.Stat(host)
	if err != nil {
		return nil, mapError("list", p, err, storage.ErrDirectoryNotFound)
	}
	if !info.IsDir() {
		return nil, storage.NewPathError("list", p, storage.ErrDirectoryNotFound)
	}

	var entries []storage.Entry
	if opts.Recursive {
		err = filepath.WalkDir(host, func(walked string, d fs.DirEntry, werr error) error {
			if werr != nil {
				return werr
			}
			if walked == host {
				return nil
			}
			rel, rerr := filepath.Rel(root, walked)
			if rerr != nil {
				return rerr
			}
			entry, ok := toEntry("/"+filepath.ToSlash(rel), d, opts)
			if ok {
				entries = append(entries, entry)
			}
			return nil
		})
	} else {
		var dirEntries []fs.DirEntry
		dirEntries, err = os.ReadDir(host)
		if err == nil {
			for _, d := range dirEntries {
				childPath := p + "/" + d.Name()
				if p == "/" {
					childPath = "/" + d.Name()
				}
				if entry, ok := toEntry(childPath, d, opts); ok {
					entries = append(entries, entry)
				}
			}
		}
	}
	if err != nil {
		return nil, mapError("list", p, err, storage.ErrDirectoryNotFound)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	a.cache.put(p, opts, entries)
	return entries, nil
}

// toEntry converts a directory entry, applying the extension filter to
// files only.
func toEntry(path string, d fs.DirEntry, opts storage.ListOptions) (storage.Entry, bool) {
	if !d.IsDir() && opts.Extension != "" && !strings.HasSuffix(d.Name(), opts.Extension) {
		return storage.Entry{}, false
	}
	entry := storage.Entry{
		Path:  path,
		Name:  d.Name(),
		IsDir: d.IsDir(),
	}
	if info, err := d.Info(); err == nil {
		entry.ModTime = info.ModTime()
		if !d.IsDir() {
			entry.Size = info.Size()
		}
	}
	return entry, true
}

// Exists implements storage.Adapter.
func (a *Adapter) Exists(ctx context.Context, path string) (bool, error) {
	p := storage.NormalizePath(path)
	root, err := a.checkAccess(ctx, "exists", p)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(hostPath(root, p))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, mapError("exists", p, err, storage.ErrFileNotFound)
	}
	return true, nil
}

// Stat implements the optional storage.Stat extension.
func (a *Adapter) Stat(ctx context.Context, path string) (*storage.Entry, error) {
	p := storage.NormalizePath(path)
	root, err := a.checkAccess(ctx, "stat", p)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(hostPath(root, p))
	if err != nil {
		return nil, mapError("stat", p, err, storage.ErrFileNotFound)
	}
	entry := &storage.Entry{
		Path:    p,
		Name:    storage.BaseName(p),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
	}
	if !info.IsDir() {
		entry.Size = info.Size()
	}
	return entry, nil
}

// Mkdir implements storage.Adapter.
func (a *Adapter) Mkdir(ctx context.Context, path string) error {
	p := storage.NormalizePath(path)
	if p == "/" {
		return nil
	}
	root, err := a.checkAccess(ctx, "mkdir", p)
	if err != nil {
		return err
	}

	host := hostPath(root, p)
	if info, err := os.Stat(host); err == nil {
		if info.IsDir() {
			return nil
		}
		return storage.NewPathError("mkdir", p, storage.ErrPathExists)
	}

	if err := os.MkdirAll(host, 0755); err != nil {
		return mapError("mkdir", p, err, storage.ErrDirectoryNotFound)
	}

	a.cache.invalidateSubtree(p)
	a.hub.Publish(storage.Event{Path: p, Op: storage.OpCreate, At: time.Now()})
	return nil
}

// Delete implements storage.Adapter. The cache for the affected subtree is
// invalidated.
func (a *Adapter) Delete(ctx context.Context, path string, recursive bool) error {
	p := storage.NormalizePath(path)
	if p == "/" {
		return storage.NewPathError("delete", p, storage.ErrInvalidOperation)
	}
	root, err := a.checkAccess(ctx, "delete", p)
	if err != nil {
		return err
	}

	host := hostPath(root, p)
	info, err := os.Stat(host)
	if err != nil {
		return mapError("delete", p, err, storage.ErrFileNotFound)
	}

	if info.IsDir() {
		if !recursive {
			children, err := os.ReadDir(host)
			if err != nil {
				return mapError("delete", p, err, storage.ErrDirectoryNotFound)
			}
			if len(children) > 0 {
				return storage.NewPathError("delete", p, storage.ErrDirectoryNotEmpty)
			}
		}
		if err := os.RemoveAll(host); err != nil {
			return mapError("delete", p, err, storage.ErrDirectoryNotFound)
		}
	} else {
		if err := os.Remove(host); err != nil {
			return mapError("delete", p, err, storage.ErrFileNotFound)
		}
	}

	a.cache.invalidateSubtree(p)
	a.poller.noteLocalDelete(p)
	a.hub.Publish(storage.Event{Path: p, Op: storage.OpDelete, At: time.Now()})
	return nil
}

// Watch implements storage.Adapter. Recursive subscriptions start the
// polling change detector; events synthesized by polling flow through the
// same debounce pipeline as the adapter's own writes.
func (a *Adapter) Watch(path string, fn storage.WatchFunc, opts storage.WatchOptions) (storage.UnsubscribeFunc, error) {
	unsub := a.hub.Subscribe(path, fn, opts)
	a.poller.start()
	return unsub, nil
}
