package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every adapter.
//
// These can be checked using errors.Is() regardless of which backend raised
// them:
//
//	if errors.Is(err, storage.ErrFileNotFound) {
//	    // missing external copy, treat as deleted
//	}
var (
	// ErrFileNotFound is returned when reading or deleting a file that
	// does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrDirectoryNotFound is returned when listing or deleting a
	// directory that does not exist.
	ErrDirectoryNotFound = errors.New("directory not found")

	// ErrPermissionDenied is returned when the backend's permission state
	// forbids the operation. It is never swallowed into a silent no-op.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrPathExists is returned when a path is occupied by an entry of
	// the other kind (a file where a directory is wanted, or vice versa).
	ErrPathExists = errors.New("path already exists")

	// ErrInvalidPath is returned for paths that cannot be normalized into
	// the adapter's namespace.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidOperation is returned for structurally invalid requests,
	// such as writing file content to the root directory.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrDirectoryNotEmpty is returned when deleting a non-empty
	// directory without the recursive flag.
	ErrDirectoryNotEmpty = errors.New("directory not empty")

	// ErrQuotaExceeded is returned when the backend runs out of space.
	// It is distinct so callers can surface an actionable message.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// Engine-level errors raised above the adapter boundary.
var (
	// ErrNotConnected is returned when a sync operation requires a
	// connected external adapter but none is selected.
	ErrNotConnected = errors.New("not connected to external storage")

	// ErrSyncInProgress is returned when a sync run is requested while
	// another run is in flight. Runs are never queued.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrConflictNotFound is returned when resolving or skipping a
	// conflict id that is not pending.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrMergeContentRequired is returned when a merge resolution is
	// requested without merged content. The conflict remains pending.
	ErrMergeContentRequired = errors.New("merge resolution requires merged content")

	// ErrBulkMergeUnsupported is returned when resolve-all is invoked
	// with the merge strategy; there is no per-item content to apply.
	ErrBulkMergeUnsupported = errors.New("merge strategy not supported for bulk resolution")
)

// PathError wraps a sentinel error with the operation and path that raised
// it, mirroring the shape of os.PathError so logs stay greppable.
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying sentinel so errors.Is keeps working.
func (e *PathError) Unwrap() error { return e.Err }

// NewPathError builds a PathError for op and path around a sentinel.
func NewPathError(op, path string, err error) *PathError {
	return &PathError{Op: op, Path: path, Err: err}
}

// IsNotFound reports whether err is either of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrDirectoryNotFound)
}
