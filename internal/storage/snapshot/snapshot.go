// Package snapshot provides the read-mostly fallback adapter: a one-shot,
// in-memory mirror of an externally selected directory tree.
//
// It exists for hosts that can hand over a directory's contents once but
// cannot retain a capability handle to it. All reads serve from the
// captured snapshot; writes succeed in memory only and are logged as
// non-persistent, and Watch is a true no-op because the adapter has no way
// to observe real external changes and must not claim a guarantee it
// cannot honor.
package snapshot

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/nvoss/trellis/internal/storage"
	"github.com/nvoss/trellis/internal/storage/memory"
)

// Adapter mirrors a captured tree in memory.
type Adapter struct {
	mem  *memory.Adapter
	name string
}

// Capture copies every file reachable through src into a new snapshot.
// One-shot: the snapshot never refreshes.
func Capture(ctx context.Context, name string, src storage.Adapter) (*Adapter, error) {
	a := &Adapter{mem: memory.New(), name: name}

	entries, err := src.ListDirectory(ctx, "/", storage.ListOptions{Recursive: true})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir {
			if err := a.mem.Mkdir(ctx, e.Path); err != nil {
				return nil, err
			}
			continue
		}
		content, err := src.ReadFile(ctx, e.Path)
		if err != nil {
			return nil, err
		}
		if err := a.mem.WriteFile(ctx, e.Path, content); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// CaptureFS builds a snapshot from an fs.FS, the shape host file pickers
// hand over.
func CaptureFS(ctx context.Context, name string, fsys fs.FS) (*Adapter, error) {
	a := &Adapter{mem: memory.New(), name: name}

	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "." {
			return nil
		}
		p := "/" + filepath.ToSlash(path)
		if d.IsDir() {
			return a.mem.Mkdir(ctx, p)
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		return a.mem.WriteFile(ctx, p, string(data))
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Root implements storage.Adapter.
func (a *Adapter) Root() string { return "/" }

// Name returns the label of the captured selection.
func (a *Adapter) Name() string { return a.name }

// ReadFile implements storage.Adapter.
func (a *Adapter) ReadFile(ctx context.Context, path string) (string, error) {
	return a.mem.ReadFile(ctx, path)
}

// WriteFile implements storage.Adapter. The write lands in memory only and
// will not survive the session; that is a warning-level side effect, not an
// error.
func (a *Adapter) WriteFile(ctx context.Context, path, content string) error {
	if err := a.mem.WriteFile(ctx, path, content); err != nil {
		return err
	}
	slog.Warn("snapshot adapter write is not persisted to external storage",
		"path", storage.NormalizePath(path),
		"snapshot", a.name,
	)
	return nil
}

// ListDirectory implements storage.Adapter.
func (a *Adapter) ListDirectory(ctx context.Context, path string, opts storage.ListOptions) ([]storage.Entry, error) {
	return a.mem.ListDirectory(ctx, path, opts)
}

// Exists implements storage.Adapter.
func (a *Adapter) Exists(ctx context.Context, path string) (bool, error) {
	return a.mem.Exists(ctx, path)
}

// Stat implements the optional storage.Stat extension.
func (a *Adapter) Stat(ctx context.Context, path string) (*storage.Entry, error) {
	return a.mem.Stat(ctx, path)
}

// Mkdir implements storage.Adapter (in memory only).
func (a *Adapter) Mkdir(ctx context.Context, path string) error {
	return a.mem.Mkdir(ctx, path)
}

// Delete implements storage.Adapter (in memory only).
func (a *Adapter) Delete(ctx context.Context, path string, recursive bool) error {
	return a.mem.Delete(ctx, path, recursive)
}

// Watch implements storage.Adapter as a true no-op: the returned
// unsubscribe is valid, but fn is never invoked.
func (a *Adapter) Watch(path string, fn storage.WatchFunc, opts storage.WatchOptions) (storage.UnsubscribeFunc, error) {
	return func() {}, nil
}
