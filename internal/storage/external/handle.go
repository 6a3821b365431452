// Package external provides the capability-gated adapter over a real
// directory selected by the user.
//
// Access flows through an opaque Handle: a capability token the coordinator
// stores and re-presents across sessions. Every operation checks the
// handle's permission state before touching the directory; a handle in the
// prompt state triggers a permission request, and denial always surfaces as
// ErrPermissionDenied rather than a silent no-op. Because the handle offers
// no native change notification, recursive watches are served by a polling
// snapshot differ feeding the shared debounce pipeline.
package external

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Permission is the tri-state access level of a handle.
type Permission int

const (
	// PermissionPrompt means access has not been decided; a request
	// (normally tied to a user gesture) is required.
	PermissionPrompt Permission = iota
	// PermissionGranted means operations may proceed.
	PermissionGranted
	// PermissionDenied means the user or host refused access.
	PermissionDenied
)

// String returns a human-readable representation of the permission state.
func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "prompt"
	}
}

// Handle is an opaque capability token granting scoped access to one
// external directory.
//
// Implementations must treat any probe failure as a permission problem, not
// a fatal error: the coordinator degrades an unusable handle to the
// permission-needed state and re-prompts.
type Handle interface {
	// ID identifies the handle in the coordinator's handle store.
	ID() string

	// Name is a human-readable label for the granted directory.
	Name() string

	// RootDir is the host filesystem path the handle scopes to, or ""
	// when the host offers no real directory (stub handles).
	RootDir() string

	// Permission reports the current access state without prompting.
	Permission(ctx context.Context) Permission

	// RequestPermission asks the host for access. Expected to require an
	// active user gesture in hosts that mediate consent.
	RequestPermission(ctx context.Context) (Permission, error)
}

// DirectoryHandle is a Handle backed by a real OS directory. Permission is
// derived by probing the directory: a handle whose directory has vanished
// or become unreadable degrades to denied on the next check.
type DirectoryHandle struct {
	id   string
	name string
	dir  string

	// mu guards the permission decision; the watch poller re-checks
	// Permission concurrently with foreground operations.
	mu      sync.Mutex
	decided bool
	granted bool
}

// NewDirectoryHandle wraps dir in a fresh handle in the prompt state.
func NewDirectoryHandle(dir string) *DirectoryHandle {
	return &DirectoryHandle{
		id:   uuid.NewString(),
		name: dir,
		dir:  dir,
	}
}

// RestoreDirectoryHandle rebuilds a previously stored handle. It starts in
// the prompt state; the coordinator re-requests permission on reconnect.
func RestoreDirectoryHandle(id, name, dir string) *DirectoryHandle {
	return &DirectoryHandle{id: id, name: name, dir: dir}
}

// ID implements Handle.
func (h *DirectoryHandle) ID() string { return h.id }

// Name implements Handle.
func (h *DirectoryHandle) Name() string { return h.name }

// RootDir implements Handle.
func (h *DirectoryHandle) RootDir() string { return h.dir }

// Permission implements Handle. A previously granted handle is re-verified
// with a cheap probe so revocation is noticed.
func (h *DirectoryHandle) Permission(ctx context.Context) Permission {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.decided {
		return PermissionPrompt
	}
	if !h.granted {
		return PermissionDenied
	}
	if err := h.probe(); err != nil {
		h.granted = false
		return PermissionDenied
	}
	return PermissionGranted
}

// RequestPermission implements Handle by probing the directory.
func (h *DirectoryHandle) RequestPermission(ctx context.Context) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return PermissionPrompt, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decided = true
	if err := h.probe(); err != nil {
		h.granted = false
		return PermissionDenied, nil
	}
	h.granted = true
	return PermissionGranted, nil
}

// probe checks that the directory exists and is listable.
func (h *DirectoryHandle) probe() error {
	info, err := os.Stat(h.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return os.ErrInvalid
	}
	f, err := os.Open(h.dir)
	if err != nil {
		return err
	}
	defer f.Close()
	// An empty directory returns io.EOF, which is fine.
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// StubHandle is a Handle for hosts without native directory support. It has
// no backing directory and holds a fixed permission decision, making the
// permission flow testable without touching the OS.
type StubHandle struct {
	HandleID   string
	Label      string
	Dir        string
	State      Permission
	// RequestResult is returned by RequestPermission; when it grants,
	// State is updated accordingly.
	RequestResult Permission
}

// ID implements Handle.
func (h *StubHandle) ID() string {
	if h.HandleID == "" {
		h.HandleID = uuid.NewString()
	}
	return h.HandleID
}

// Name implements Handle.
func (h *StubHandle) Name() string { return h.Label }

// RootDir implements Handle.
func (h *StubHandle) RootDir() string { return h.Dir }

// Permission implements Handle.
func (h *StubHandle) Permission(ctx context.Context) Permission { return h.State }

// RequestPermission implements Handle.
func (h *StubHandle) RequestPermission(ctx context.Context) (Permission, error) {
	h.State = h.RequestResult
	return h.State, nil
}
