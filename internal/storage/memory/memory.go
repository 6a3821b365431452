// Package memory provides the in-memory reference implementation of the
// storage adapter contract.
//
// The adapter keeps a tree of directory and file nodes and implements the
// exact same operation set and error semantics as the durable and external
// backends. It is the canonical target of the shared contract test suite and
// the default collaborator in sync and conflict engine tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nvoss/trellis/internal/storage"
)

type node struct {
	name     string
	isDir    bool
	content  string
	modTime  time.Time
	children map[string]*node
}

func newDirNode(name string, at time.Time) *node {
	return &node{name: name, isDir: true, modTime: at, children: make(map[string]*node)}
}

// Adapter is a thread-safe in-memory file tree.
type Adapter struct {
	mu   sync.RWMutex
	root *node
	hub  *storage.WatchHub
}

// New returns an empty adapter containing only the root directory.
func New() *Adapter {
	return &Adapter{
		root: newDirNode("/", time.Now()),
		hub:  storage.NewWatchHub(),
	}
}

// Root implements storage.Adapter.
func (a *Adapter) Root() string { return "/" }

// lookup walks the tree to path. Returns nil when any segment is missing or
// traverses through a file.
func (a *Adapter) lookup(path string) *node {
	p := storage.NormalizePath(path)
	if p == "/" {
		return a.root
	}
	cur := a.root
	for _, seg := range strings.Split(p[1:], "/") {
		if !cur.isDir {
			return nil
		}
		next, ok := cur.children[seg]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// ensureDirs creates directory nodes for every segment of path, returning
// the deepest one. A file occupying an intermediate segment fails.
func (a *Adapter) ensureDirs(path string, at time.Time) (*node, error) {
	p := storage.NormalizePath(path)
	cur := a.root
	if p == "/" {
		return cur, nil
	}
	walked := ""
	for _, seg := range strings.Split(p[1:], "/") {
		walked += "/" + seg
		next, ok := cur.children[seg]
		if !ok {
			next = newDirNode(seg, at)
			cur.children[seg] = next
		} else if !next.isDir {
			return nil, storage.NewPathError("mkdir", walked, storage.ErrPathExists)
		}
		cur = next
	}
	return cur, nil
}

// ReadFile implements storage.Adapter.
func (a *Adapter) ReadFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := a.lookup(path)
	if n == nil || n.isDir {
		return "", storage.NewPathError("read", storage.NormalizePath(path), storage.ErrFileNotFound)
	}
	return n.content, nil
}

// WriteFile implements storage.Adapter. Parent directories are created
// implicitly.
func (a *Adapter) WriteFile(ctx context.Context, path, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := storage.NormalizePath(path)
	if p == "/" {
		return storage.NewPathError("write", p, storage.ErrInvalidOperation)
	}

	a.mu.Lock()
	now := time.Now()
	parent, err := a.ensureDirs(storage.ParentPath(p), now)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	name := storage.BaseName(p)
	existing, ok := parent.children[name]
	if ok && existing.isDir {
		a.mu.Unlock()
		return storage.NewPathError("write", p, storage.ErrPathExists)
	}
	op := storage.OpModify
	if !ok {
		op = storage.OpCreate
	}
	parent.children[name] = &node{name: name, content: content, modTime: now}
	a.mu.Unlock()

	a.hub.Publish(storage.Event{Path: p, Op: op, At: now})
	return nil
}

// ListDirectory implements storage.Adapter.
func (a *Adapter) ListDirectory(ctx context.Context, path string, opts storage.ListOptions) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	p := storage.NormalizePath(path)
	n := a.lookup(p)
	if n == nil || !n.isDir {
		return nil, storage.NewPathError("list", p, storage.ErrDirectoryNotFound)
	}

	var entries []storage.Entry
	a.collect(n, p, opts, &entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (a *Adapter) collect(dir *node, dirPath string, opts storage.ListOptions, out *[]storage.Entry) {
	for name, child := range dir.children {
		childPath := dirPath + "/" + name
		if dirPath == "/" {
			childPath = "/" + name
		}
		if child.isDir {
			*out = append(*out, storage.Entry{Path: childPath, Name: name, IsDir: true, ModTime: child.modTime})
			if opts.Recursive {
				a.collect(child, childPath, opts, out)
			}
			continue
		}
		if opts.Extension != "" && !strings.HasSuffix(name, opts.Extension) {
			continue
		}
		*out = append(*out, storage.Entry{
			Path:    childPath,
			Name:    name,
			Size:    int64(len(child.content)),
			ModTime: child.modTime,
		})
	}
}

// Exists implements storage.Adapter.
func (a *Adapter) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lookup(path) != nil, nil
}

// Stat implements the optional storage.Stat extension.
func (a *Adapter) Stat(ctx context.Context, path string) (*storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	p := storage.NormalizePath(path)
	n := a.lookup(p)
	if n == nil {
		return nil, storage.NewPathError("stat", p, storage.ErrFileNotFound)
	}
	e := &storage.Entry{Path: p, Name: n.name, IsDir: n.isDir, ModTime: n.modTime}
	if !n.isDir {
		e.Size = int64(len(n.content))
	}
	return e, nil
}

// Mkdir implements storage.Adapter. Idempotent for existing directories.
func (a *Adapter) Mkdir(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := storage.NormalizePath(path)

	a.mu.Lock()
	now := time.Now()
	if existing := a.lookup(p); existing != nil {
		a.mu.Unlock()
		if existing.isDir {
			return nil
		}
		return storage.NewPathError("mkdir", p, storage.ErrPathExists)
	}
	if _, err := a.ensureDirs(p, now); err != nil {
		a.mu.Unlock()
		return err
	}
	a.mu.Unlock()

	a.hub.Publish(storage.Event{Path: p, Op: storage.OpCreate, At: now})
	return nil
}

// Delete implements storage.Adapter.
func (a *Adapter) Delete(ctx context.Context, path string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := storage.NormalizePath(path)
	if p == "/" {
		return storage.NewPathError("delete", p, storage.ErrInvalidOperation)
	}

	a.mu.Lock()
	parent := a.lookup(storage.ParentPath(p))
	name := storage.BaseName(p)
	if parent == nil || !parent.isDir {
		a.mu.Unlock()
		return storage.NewPathError("delete", p, storage.ErrFileNotFound)
	}
	target, ok := parent.children[name]
	if !ok {
		a.mu.Unlock()
		return storage.NewPathError("delete", p, storage.ErrFileNotFound)
	}
	if target.isDir && len(target.children) > 0 && !recursive {
		a.mu.Unlock()
		return storage.NewPathError("delete", p, storage.ErrDirectoryNotEmpty)
	}
	delete(parent.children, name)
	a.mu.Unlock()

	a.hub.Publish(storage.Event{Path: p, Op: storage.OpDelete, At: time.Now()})
	return nil
}

// Watch implements storage.Adapter via the shared debounce hub.
func (a *Adapter) Watch(path string, fn storage.WatchFunc, opts storage.WatchOptions) (storage.UnsubscribeFunc, error) {
	return a.hub.Subscribe(path, fn, opts), nil
}

// Close cancels every watch subscription.
func (a *Adapter) Close() {
	a.hub.Close()
}
