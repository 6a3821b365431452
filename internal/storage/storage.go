// Package storage defines the adapter contract shared by every persistence
// backend in trellis.
//
// The application keeps artifact content in two independently-mutable
// substrates: an always-available embedded durable store and an optional,
// permission-gated external directory. Both (plus the in-memory reference
// implementation and the read-only snapshot fallback) implement the same
// Adapter interface and the same error taxonomy, so the sync and conflict
// engines can branch on error identity instead of adapter identity.
//
// Architecture:
//
//	Coordinator ── selects ──► Adapter
//	                             ├── durable.Store   (SQLite, offline-first)
//	                             ├── external.Adapter (capability handle)
//	                             ├── snapshot.Adapter (one-shot mirror)
//	                             └── memory.Adapter   (reference/tests)
//
// Content strings are opaque to this layer; the frontmatter/wiki-link parser
// that produces them lives outside this subsystem.
package storage

import (
	"context"
	"time"
)

// DefaultDebounce is the watch debounce window applied when WatchOptions
// leaves Debounce unset.
const DefaultDebounce = 100 * time.Millisecond

// Entry describes a single file or directory returned by ListDirectory.
type Entry struct {
	// Path is the normalized absolute path of the entry.
	Path string
	// Name is the final path segment.
	Name string
	// IsDir reports whether the entry is a directory.
	IsDir bool
	// Size is the content length in bytes (0 for directories).
	Size int64
	// ModTime is the last modification time, when the backend tracks one.
	ModTime time.Time
}

// ListOptions configures ListDirectory.
type ListOptions struct {
	// Recursive lists the whole subtree instead of direct children.
	Recursive bool
	// Extension filters file entries to a suffix such as ".md".
	// Directories are never filtered out.
	Extension string
}

// EventOp is the kind of change reported by a watch subscription.
type EventOp int

const (
	// OpCreate indicates a file or directory appeared.
	OpCreate EventOp = iota
	// OpModify indicates file content changed.
	OpModify
	// OpDelete indicates a file or directory was removed.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a single change notification delivered to watch callbacks.
type Event struct {
	Path string
	Op   EventOp
	At   time.Time
}

// WatchFunc receives one debounced batch of events. Events within a batch
// are ordered by arrival; batches for different subtrees carry no relative
// ordering guarantee.
type WatchFunc func(events []Event)

// WatchOptions configures Watch.
type WatchOptions struct {
	// Recursive matches every path under the watched one, not just the
	// exact path.
	Recursive bool
	// Debounce is the quiet window before buffered events are flushed as
	// one batch. Zero means DefaultDebounce.
	Debounce time.Duration
}

// UnsubscribeFunc stops future callback delivery and clears any pending
// flush timer. Safe to call more than once.
type UnsubscribeFunc func()

// Adapter is the uniform operation set implemented by every storage backend.
//
// All paths are interpreted through NormalizePath, so callers may pass
// denormalized input ("//a//b/../c.md") and adapters must agree on the
// canonical form. Implementations return the sentinel errors from this
// package for the conditions they name.
type Adapter interface {
	// ReadFile returns the content stored at path.
	ReadFile(ctx context.Context, path string) (string, error)

	// WriteFile stores content at path, creating missing parent
	// directories implicitly. Writing to the root is invalid.
	WriteFile(ctx context.Context, path, content string) error

	// ListDirectory returns the entries under path.
	ListDirectory(ctx context.Context, path string, opts ListOptions) ([]Entry, error)

	// Exists reports whether a file or directory is present at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Mkdir creates a directory (and missing ancestors). Creating an
	// existing directory is a no-op; a file occupying the path fails.
	Mkdir(ctx context.Context, path string) error

	// Delete removes the file or directory at path. Deleting a non-empty
	// directory requires recursive.
	Delete(ctx context.Context, path string, recursive bool) error

	// Watch subscribes fn to changes at (or, recursively, under) path.
	// Delivery is debounced and batched per subscription.
	Watch(path string, fn WatchFunc, opts WatchOptions) (UnsubscribeFunc, error)

	// Root returns the adapter's root path, for logging and display.
	Root() string
}

// Stat is an optional extension returning entry metadata for a single path.
// The durable store and external adapter implement it; the sync engine falls
// back to Exists when it is absent.
type Stat interface {
	Stat(ctx context.Context, path string) (*Entry, error)
}
