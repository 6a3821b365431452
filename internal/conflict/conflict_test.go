package conflict

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvoss/trellis/internal/events"
	"github.com/nvoss/trellis/internal/storage"
	"github.com/nvoss/trellis/internal/storage/durable"
	"github.com/nvoss/trellis/internal/storage/memory"
)

func newTestEngine(t *testing.T) (*Engine, *durable.Store, *memory.Adapter, *events.Bus) {
	t.Helper()
	store, err := durable.Open(filepath.Join(t.TempDir(), "trellis.db"), "test-project")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	external := memory.New()
	eng := New(store, bus)
	eng.Attach(external)
	return eng, store, external, bus
}

func TestDetectRequiresBothFlagsAndDifferingContent(t *testing.T) {
	ctx := context.Background()
	eng, store, external, _ := newTestEngine(t)

	// Local-only edit: dirty but not externally modified.
	if err := store.WriteFile(ctx, "/tasks/t1.md", "A"); err != nil {
		t.Fatal(err)
	}
	found, err := eng.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("conflicts = %d, want 0 before the external side changes", len(found))
	}

	// Now the external side diverges.
	if err := store.MarkExternallyModified(ctx, "/tasks/t1.md"); err != nil {
		t.Fatal(err)
	}
	if err := external.WriteFile(ctx, "/tasks/t1.md", "B"); err != nil {
		t.Fatal(err)
	}

	found, err = eng.Detect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(found))
	}
	c := found[0]
	if c.LocalContent != "A" || c.ExternalContent != "B" {
		t.Errorf("contents = %q/%q, want A/B", c.LocalContent, c.ExternalContent)
	}
	if c.ID == "" {
		t.Error("conflict has no ID")
	}
}

// failReadStore rejects local reads for one path.
type failReadStore struct {
	LocalStore
	failPath string
}

func (f *failReadStore) ReadFile(ctx context.Context, path string) (string, error) {
	if path == f.failPath {
		return "", errors.New("record unreadable")
	}
	return f.LocalStore.ReadFile(ctx, path)
}

func TestDetectContinuesPastReadFailure(t *testing.T) {
	ctx := context.Background()
	_, store, external, bus := newTestEngine(t)
	eng := New(&failReadStore{LocalStore: store, failPath: "/bad.md"}, bus)
	eng.Attach(external)

	for _, p := range []string{"/bad.md", "/good.md"} {
		if err := store.WriteFile(ctx, p, "local"); err != nil {
			t.Fatal(err)
		}
		if err := store.MarkExternallyModified(ctx, p); err != nil {
			t.Fatal(err)
		}
		if err := external.WriteFile(ctx, p, "external"); err != nil {
			t.Fatal(err)
		}
	}

	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	// One unreadable path must not hide the rest of the scan.
	found, err := eng.Detect(ctx)
	if err == nil {
		t.Error("unreadable path reported no error")
	}
	if len(found) != 1 || found[0].Path != "/good.md" {
		t.Fatalf("found = %+v, want only /good.md", found)
	}
	if len(eng.Pending()) != 1 {
		t.Errorf("pending = %d, want 1", len(eng.Pending()))
	}

	completed := false
	deadline := time.After(time.Second)
	for !completed {
		select {
		case ev := <-ch:
			if ev.Name == events.DetectionCompleted {
				completed = true
			}
		case <-deadline:
			t.Fatal("detection pass never reported completion")
		}
	}
}

func TestDetectIdenticalContentIsNoConflict(t *testing.T) {
	ctx := context.Background()
	eng, store, external, _ := newTestEngine(t)

	if err := store.WriteFile(ctx, "/a.md", "same"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkExternallyModified(ctx, "/a.md"); err != nil {
		t.Fatal(err)
	}
	if err := external.WriteFile(ctx, "/a.md", "same"); err != nil {
		t.Fatal(err)
	}

	found, err := eng.Detect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 0 {
		t.Fatalf("conflicts = %d, want 0 for identical content", len(found))
	}
	// Detection never clears flags.
	mod, err := store.IsExternallyModified(ctx, "/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if !mod {
		t.Error("detection cleared the externally-modified flag")
	}
}

func TestDetectMissingExternalReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	eng, store, _, _ := newTestEngine(t)

	if err := store.WriteFile(ctx, "/gone.md", "still here locally"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkExternallyModified(ctx, "/gone.md"); err != nil {
		t.Fatal(err)
	}

	found, err := eng.Detect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 {
		t.Fatalf("conflicts = %d, want 1 for external deletion", len(found))
	}
	if found[0].ExternalContent != "" {
		t.Errorf("external content = %q, want empty", found[0].ExternalContent)
	}
}

func TestDetectKeepsStableIDAcrossRuns(t *testing.T) {
	ctx := context.Background()
	eng, store, external, _ := newTestEngine(t)

	if err := store.WriteFile(ctx, "/a.md", "A"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkExternallyModified(ctx, "/a.md"); err != nil {
		t.Fatal(err)
	}
	if err := external.WriteFile(ctx, "/a.md", "B"); err != nil {
		t.Fatal(err)
	}

	first, err := eng.Detect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := eng.Detect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first[0].ID != second[0].ID {
		t.Errorf("repeated detection changed the conflict ID: %s vs %s", first[0].ID, second[0].ID)
	}
	if len(eng.Pending()) != 1 {
		t.Errorf("pending = %d, want 1", len(eng.Pending()))
	}
}

func detectOne(t *testing.T, eng *Engine, store *durable.Store, external *memory.Adapter, path, local, remote string) *Conflict {
	t.Helper()
	ctx := context.Background()
	if err := store.WriteFile(ctx, path, local); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkExternallyModified(ctx, path); err != nil {
		t.Fatal(err)
	}
	if err := external.WriteFile(ctx, path, remote); err != nil {
		t.Fatal(err)
	}
	found, err := eng.Detect(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(found))
	}
	return found[0]
}

func TestResolveKeepLocal(t *testing.T) {
	ctx := context.Background()
	eng, store, external, _ := newTestEngine(t)
	c := detectOne(t, eng, store, external, "/a.md", "local", "remote")

	if err := eng.Resolve(ctx, c.ID, KeepLocal, ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got, err := external.ReadFile(ctx, "/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if got != "local" {
		t.Errorf("external = %q, want local content", got)
	}
	assertSettled(t, eng, store, c.ID, "/a.md", KeepLocal)
}

func TestResolveKeepExternal(t *testing.T) {
	ctx := context.Background()
	eng, store, external, _ := newTestEngine(t)
	c := detectOne(t, eng, store, external, "/a.md", "local", "remote")

	if err := eng.Resolve(ctx, c.ID, KeepExternal, ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got, err := store.ReadFile(ctx, "/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if got != "remote" {
		t.Errorf("durable = %q, want external content", got)
	}
	assertSettled(t, eng, store, c.ID, "/a.md", KeepExternal)
}

func TestResolveMerge(t *testing.T) {
	ctx := context.Background()
	eng, store, external, _ := newTestEngine(t)
	c := detectOne(t, eng, store, external, "/a.md", "local", "remote")

	if err := eng.Resolve(ctx, c.ID, Merge, "merged result"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	for name, read := range map[string]func() (string, error){
		"durable":  func() (string, error) { return store.ReadFile(ctx, "/a.md") },
		"external": func() (string, error) { return external.ReadFile(ctx, "/a.md") },
	} {
		got, err := read()
		if err != nil {
			t.Fatal(err)
		}
		if got != "merged result" {
			t.Errorf("%s = %q, want merged content", name, got)
		}
	}
	assertSettled(t, eng, store, c.ID, "/a.md", Merge)
}

func TestResolveMergeWithoutContentStaysPending(t *testing.T) {
	ctx := context.Background()
	eng, store, external, _ := newTestEngine(t)
	c := detectOne(t, eng, store, external, "/a.md", "local", "remote")

	err := eng.Resolve(ctx, c.ID, Merge, "")
	if !errors.Is(err, storage.ErrMergeContentRequired) {
		t.Fatalf("err = %v, want ErrMergeContentRequired", err)
	}
	if _, ok := eng.Get(c.ID); !ok {
		t.Error("failed merge removed the conflict from pending")
	}
}

func TestResolveUnknownID(t *testing.T) {
	ctx := context.Background()
	eng, _, _, _ := newTestEngine(t)
	err := eng.Resolve(ctx, "no-such-id", KeepLocal, "")
	if !errors.Is(err, storage.ErrConflictNotFound) {
		t.Errorf("err = %v, want ErrConflictNotFound", err)
	}
}

func TestResolveUsesContentAtResolutionTime(t *testing.T) {
	ctx := context.Background()
	eng, store, external, _ := newTestEngine(t)
	c := detectOne(t, eng, store, external, "/a.md", "local-v1", "remote")

	// The local copy moves on between detection and resolution.
	if err := store.WriteFile(ctx, "/a.md", "local-v2"); err != nil {
		t.Fatal(err)
	}
	if err := eng.Resolve(ctx, c.ID, KeepLocal, ""); err != nil {
		t.Fatal(err)
	}

	got, err := external.ReadFile(ctx, "/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if got != "local-v2" {
		t.Errorf("external = %q, want the re-read content local-v2", got)
	}
}

func TestResolveAll(t *testing.T) {
	ctx := context.Background()
	eng, store, external, _ := newTestEngine(t)
	detectOne(t, eng, store, external, "/a.md", "la", "ra")
	detectOne(t, eng, store, external, "/b.md", "lb", "rb")

	outcomes := eng.ResolveAll(ctx, KeepLocal)
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Err != nil {
			t.Errorf("resolve %s: %v", o.Path, o.Err)
		}
	}
	if len(eng.Pending()) != 0 {
		t.Errorf("pending = %d, want 0", len(eng.Pending()))
	}
}

func TestResolveAllRejectsMerge(t *testing.T) {
	ctx := context.Background()
	eng, store, external, _ := newTestEngine(t)
	detectOne(t, eng, store, external, "/a.md", "la", "ra")
	detectOne(t, eng, store, external, "/b.md", "lb", "rb")

	outcomes := eng.ResolveAll(ctx, Merge)
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if !errors.Is(o.Err, storage.ErrBulkMergeUnsupported) {
			t.Errorf("resolve %s err = %v, want ErrBulkMergeUnsupported", o.Path, o.Err)
		}
	}
	if len(eng.Pending()) != 2 {
		t.Errorf("pending = %d, want both conflicts untouched", len(eng.Pending()))
	}
}

func TestSkipLeavesFlagsForRedetection(t *testing.T) {
	ctx := context.Background()
	eng, store, external, _ := newTestEngine(t)
	c := detectOne(t, eng, store, external, "/a.md", "local", "remote")

	if err := eng.Skip(c.ID); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if len(eng.Pending()) != 0 {
		t.Error("skip left the conflict pending")
	}
	hist := eng.History()
	if len(hist) != 1 || hist[0].Strategy != Skipped {
		t.Errorf("history = %+v, want one skipped record", hist)
	}

	// Nothing was written and flags are intact, so it comes back.
	found, err := eng.Detect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 {
		t.Errorf("re-detection found %d conflicts, want 1", len(found))
	}
}

func TestDetectWithoutAdapter(t *testing.T) {
	ctx := context.Background()
	eng, _, _, _ := newTestEngine(t)
	eng.Detach()
	if _, err := eng.Detect(ctx); !errors.Is(err, storage.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func assertSettled(t *testing.T, eng *Engine, store *durable.Store, id, path string, strategy Strategy) {
	t.Helper()
	ctx := context.Background()

	if _, ok := eng.Get(id); ok {
		t.Error("resolved conflict still pending")
	}
	hist := eng.History()
	if len(hist) == 0 {
		t.Fatal("no history record")
	}
	last := hist[len(hist)-1]
	if last.ID != id || last.Strategy != strategy {
		t.Errorf("history tail = %+v, want id %s strategy %s", last, id, strategy)
	}

	dirty, err := store.IsDirty(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if dirty {
		t.Error("path still dirty after resolution")
	}
	mod, err := store.IsExternallyModified(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if mod {
		t.Error("externally-modified flag survived resolution")
	}
}
