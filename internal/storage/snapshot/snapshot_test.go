package snapshot

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/nvoss/trellis/internal/storage"
	"github.com/nvoss/trellis/internal/storage/memory"
)

func TestCaptureMirrorsSource(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	if err := src.WriteFile(ctx, "/notes/a.md", "alpha"); err != nil {
		t.Fatal(err)
	}
	if err := src.WriteFile(ctx, "/notes/deep/b.md", "beta"); err != nil {
		t.Fatal(err)
	}
	if err := src.Mkdir(ctx, "/empty"); err != nil {
		t.Fatal(err)
	}

	snap, err := Capture(ctx, "picked", src)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	got, err := snap.ReadFile(ctx, "/notes/deep/b.md")
	if err != nil {
		t.Fatal(err)
	}
	if got != "beta" {
		t.Errorf("content = %q, want %q", got, "beta")
	}
	ok, err := snap.Exists(ctx, "/empty")
	if err != nil || !ok {
		t.Errorf("Exists(/empty) = %v, %v, want true", ok, err)
	}

	// One-shot: later source writes never appear.
	if err := src.WriteFile(ctx, "/notes/c.md", "late"); err != nil {
		t.Fatal(err)
	}
	ok, err = snap.Exists(ctx, "/notes/c.md")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("snapshot picked up a post-capture write")
	}
}

func TestCaptureFS(t *testing.T) {
	ctx := context.Background()
	fsys := fstest.MapFS{
		"readme.md":     {Data: []byte("top")},
		"docs/guide.md": {Data: []byte("guide")},
	}
	snap, err := CaptureFS(ctx, "upload", fsys)
	if err != nil {
		t.Fatalf("CaptureFS: %v", err)
	}
	got, err := snap.ReadFile(ctx, "/docs/guide.md")
	if err != nil {
		t.Fatal(err)
	}
	if got != "guide" {
		t.Errorf("content = %q, want %q", got, "guide")
	}
}

func TestWritesStayInMemory(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	if err := src.WriteFile(ctx, "/a.md", "one"); err != nil {
		t.Fatal(err)
	}
	snap, err := Capture(ctx, "picked", src)
	if err != nil {
		t.Fatal(err)
	}

	if err := snap.WriteFile(ctx, "/a.md", "two"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := snap.ReadFile(ctx, "/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if got != "two" {
		t.Errorf("snapshot content = %q, want %q", got, "two")
	}
	// Source untouched.
	got, err = src.ReadFile(ctx, "/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if got != "one" {
		t.Errorf("source content = %q, want %q", got, "one")
	}
}

func TestWatchIsNoOp(t *testing.T) {
	ctx := context.Background()
	snap, err := Capture(ctx, "picked", memory.New())
	if err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{}, 1)
	unsub, err := snap.Watch("/", func([]storage.Event) {
		fired <- struct{}{}
	}, storage.WatchOptions{Recursive: true, Debounce: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	if err := snap.WriteFile(ctx, "/x.md", "x"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fired:
		t.Error("no-op watch delivered an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReadMissing(t *testing.T) {
	ctx := context.Background()
	snap, err := Capture(ctx, "picked", memory.New())
	if err != nil {
		t.Fatal(err)
	}
	_, err = snap.ReadFile(ctx, "/nope.md")
	if !errors.Is(err, storage.ErrFileNotFound) {
		t.Errorf("err = %v, want ErrFileNotFound", err)
	}
}
