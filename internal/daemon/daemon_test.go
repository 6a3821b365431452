package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nvoss/trellis/internal/conflict"
	"github.com/nvoss/trellis/internal/syncengine"
)

type fakeStore struct {
	mu      sync.Mutex
	known   map[string]bool
	flagged []string
}

func (f *fakeStore) Exists(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.known[path], nil
}

func (f *fakeStore) MarkExternallyModified(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagged = append(f.flagged, path)
	return nil
}

func (f *fakeStore) flaggedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.flagged...)
}

type fakeDetector struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fakeDetector) Detect(ctx context.Context, paths ...string) ([]*conflict.Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, paths)
	return nil, nil
}

func (f *fakeDetector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePuller struct {
	mu    sync.Mutex
	pulls int
	opts  []syncengine.PullOptions
}

func (f *fakePuller) Pull(ctx context.Context, opts syncengine.PullOptions) (*syncengine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	f.opts = append(f.opts, opts)
	return &syncengine.Result{Mode: "pull", Success: true}, nil
}

func (f *fakePuller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulls
}

func (f *fakePuller) lastOpts() syncengine.PullOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opts) == 0 {
		return syncengine.PullOptions{}
	}
	return f.opts[len(f.opts)-1]
}

func startDaemon(t *testing.T, root string, store Store, det Detector, pull Puller, cfg *Config) {
	t.Helper()
	d, err := New(root, store, det, pull, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.Start(ctx); err != nil {
			t.Errorf("Start: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Give the watcher a beat to register before the test writes files.
	time.Sleep(50 * time.Millisecond)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestFlagsTrackedFileAndTriggersDetection(t *testing.T) {
	root := t.TempDir()
	store := &fakeStore{known: map[string]bool{"/notes/a.md": true}}
	det := &fakeDetector{}
	cfg := &Config{DebounceInterval: 20 * time.Millisecond, Extension: ".md"}

	if err := os.MkdirAll(filepath.Join(root, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}
	startDaemon(t, root, store, det, nil, cfg)

	if err := os.WriteFile(filepath.Join(root, "notes", "a.md"), []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return det.callCount() > 0 }) {
		t.Fatal("detection never triggered")
	}
	flagged := store.flaggedPaths()
	if len(flagged) != 1 || flagged[0] != "/notes/a.md" {
		t.Errorf("flagged = %v, want [/notes/a.md]", flagged)
	}
}

func TestIgnoresUntrackedExtension(t *testing.T) {
	root := t.TempDir()
	store := &fakeStore{known: map[string]bool{"/a.txt": true}}
	det := &fakeDetector{}
	cfg := &Config{DebounceInterval: 20 * time.Millisecond, Extension: ".md"}

	startDaemon(t, root, store, det, nil, cfg)

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)
	if len(store.flaggedPaths()) != 0 {
		t.Errorf("flagged = %v, want none for untracked extension", store.flaggedPaths())
	}
}

func TestUnknownFileLeftForPull(t *testing.T) {
	root := t.TempDir()
	store := &fakeStore{known: map[string]bool{}}
	det := &fakeDetector{}
	cfg := &Config{DebounceInterval: 20 * time.Millisecond, Extension: ".md"}

	startDaemon(t, root, store, det, nil, cfg)

	if err := os.WriteFile(filepath.Join(root, "new.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)
	if len(store.flaggedPaths()) != 0 {
		t.Error("untracked file was flagged")
	}
	if det.callCount() != 0 {
		t.Error("detection ran with nothing flagged")
	}
}

func TestPeriodicPull(t *testing.T) {
	root := t.TempDir()
	store := &fakeStore{known: map[string]bool{}}
	pull := &fakePuller{}
	cfg := &Config{
		PullInterval:     30 * time.Millisecond,
		DebounceInterval: 20 * time.Millisecond,
		Extension:        ".md",
	}

	startDaemon(t, root, store, nil, pull, cfg)

	if !waitFor(t, 2*time.Second, func() bool { return pull.count() >= 2 }) {
		t.Errorf("pulls = %d, want at least 2", pull.count())
	}

	// The background pull must leave diverged paths to conflict
	// resolution instead of overwriting local edits.
	opts := pull.lastOpts()
	if !opts.SkipUnchanged || !opts.SkipConflicted || !opts.ContinueOnError {
		t.Errorf("pull options = %+v, want unchanged and conflicted paths skipped", opts)
	}
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New("", &fakeStore{}, nil, nil, nil); err == nil {
		t.Error("empty root accepted")
	}
	if _, err := New(t.TempDir(), nil, nil, nil, nil); err == nil {
		t.Error("nil store accepted")
	}
}
