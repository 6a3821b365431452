// Package contracttest provides the shared conformance suite for storage
// adapter implementations.
//
// Every adapter must raise the same sentinel error for the same condition,
// so the suite asserts error identity with errors.Is rather than matching
// messages. Run it from an adapter's own test package:
//
//	func TestContract(t *testing.T) {
//	    contracttest.Run(t, func(t *testing.T) storage.Adapter {
//	        return memory.New()
//	    })
//	}
package contracttest

import (
	"context"
	"errors"
	"testing"

	"github.com/nvoss/trellis/internal/storage"
)

// Factory builds a fresh, empty adapter for one subtest.
type Factory func(t *testing.T) storage.Adapter

// Run executes the full contract suite against adapters built by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, factory(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory(t)) })
	t.Run("Normalization", func(t *testing.T) { testNormalization(t, factory(t)) })
	t.Run("ImplicitParents", func(t *testing.T) { testImplicitParents(t, factory(t)) })
	t.Run("ReadMissing", func(t *testing.T) { testReadMissing(t, factory(t)) })
	t.Run("WriteRoot", func(t *testing.T) { testWriteRoot(t, factory(t)) })
	t.Run("ListDirectory", func(t *testing.T) { testListDirectory(t, factory(t)) })
	t.Run("ListMissing", func(t *testing.T) { testListMissing(t, factory(t)) })
	t.Run("MkdirIdempotent", func(t *testing.T) { testMkdirIdempotent(t, factory(t)) })
	t.Run("MkdirOverFile", func(t *testing.T) { testMkdirOverFile(t, factory(t)) })
	t.Run("DeleteFile", func(t *testing.T) { testDeleteFile(t, factory(t)) })
	t.Run("DeleteNonEmptyDir", func(t *testing.T) { testDeleteNonEmptyDir(t, factory(t)) })
	t.Run("DeleteRecursive", func(t *testing.T) { testDeleteRecursive(t, factory(t)) })
	t.Run("WatchUnsubscribe", func(t *testing.T) { testWatchUnsubscribe(t, factory(t)) })
}

func testRoundTrip(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	cases := []struct {
		path    string
		content string
	}{
		{"/notes/one.md", "# One"},
		{"/tasks/nested/deep/t1.md", "task body"},
		{"/empty.md", ""},
	}
	for _, tc := range cases {
		if err := a.WriteFile(ctx, tc.path, tc.content); err != nil {
			t.Fatalf("WriteFile(%q) failed: %v", tc.path, err)
		}
		got, err := a.ReadFile(ctx, tc.path)
		if err != nil {
			t.Fatalf("ReadFile(%q) failed: %v", tc.path, err)
		}
		if got != tc.content {
			t.Errorf("ReadFile(%q) = %q, want %q", tc.path, got, tc.content)
		}
	}
}

func testOverwrite(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	if err := a.WriteFile(ctx, "/doc.md", "v1"); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := a.WriteFile(ctx, "/doc.md", "v2"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, err := a.ReadFile(ctx, "/doc.md")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got != "v2" {
		t.Errorf("content after overwrite = %q, want %q", got, "v2")
	}
}

func testNormalization(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	if err := a.WriteFile(ctx, "//a//b//../c.md", "x"); err != nil {
		t.Fatalf("WriteFile with denormalized path failed: %v", err)
	}
	ok, err := a.Exists(ctx, "/a/c.md")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Error("Exists(/a/c.md) = false after writing //a//b//../c.md")
	}
	got, err := a.ReadFile(ctx, "/a/./c.md")
	if err != nil {
		t.Fatalf("ReadFile via dot segment failed: %v", err)
	}
	if got != "x" {
		t.Errorf("content = %q, want %q", got, "x")
	}
}

func testImplicitParents(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	if err := a.WriteFile(ctx, "/x/y/z.md", "deep"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	for _, dir := range []string{"/x", "/x/y"} {
		ok, err := a.Exists(ctx, dir)
		if err != nil {
			t.Fatalf("Exists(%q) failed: %v", dir, err)
		}
		if !ok {
			t.Errorf("parent directory %q missing after write", dir)
		}
	}
}

func testReadMissing(t *testing.T, a storage.Adapter) {
	_, err := a.ReadFile(context.Background(), "/missing.md")
	if !errors.Is(err, storage.ErrFileNotFound) {
		t.Errorf("ReadFile(missing) error = %v, want ErrFileNotFound", err)
	}
}

func testWriteRoot(t *testing.T, a storage.Adapter) {
	err := a.WriteFile(context.Background(), "/", "boom")
	if !errors.Is(err, storage.ErrInvalidOperation) {
		t.Errorf("WriteFile(/) error = %v, want ErrInvalidOperation", err)
	}
}

func testListDirectory(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	seed := map[string]string{
		"/docs/a.md":        "a",
		"/docs/b.txt":       "b",
		"/docs/sub/c.md":    "c",
		"/docs/sub/d/e.md":  "e",
		"/other/ignored.md": "i",
	}
	for p, c := range seed {
		if err := a.WriteFile(ctx, p, c); err != nil {
			t.Fatalf("seed WriteFile(%q) failed: %v", p, err)
		}
	}

	entries, err := a.ListDirectory(ctx, "/docs", storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListDirectory failed: %v", err)
	}
	if got := pathSet(entries); !got["/docs/a.md"] || !got["/docs/b.txt"] || !got["/docs/sub"] {
		t.Errorf("shallow listing missing entries: %v", got)
	}
	for p := range pathSet(entries) {
		if p == "/docs/sub/c.md" {
			t.Error("shallow listing leaked nested file")
		}
	}

	entries, err = a.ListDirectory(ctx, "/docs", storage.ListOptions{Recursive: true, Extension: ".md"})
	if err != nil {
		t.Fatalf("recursive ListDirectory failed: %v", err)
	}
	got := pathSet(entries)
	if !got["/docs/a.md"] || !got["/docs/sub/c.md"] || !got["/docs/sub/d/e.md"] {
		t.Errorf("recursive .md listing missing files: %v", got)
	}
	if got["/docs/b.txt"] {
		t.Error("extension filter leaked /docs/b.txt")
	}
}

func testListMissing(t *testing.T, a storage.Adapter) {
	_, err := a.ListDirectory(context.Background(), "/nope", storage.ListOptions{})
	if !errors.Is(err, storage.ErrDirectoryNotFound) {
		t.Errorf("ListDirectory(missing) error = %v, want ErrDirectoryNotFound", err)
	}
}

func testMkdirIdempotent(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	if err := a.Mkdir(ctx, "/dir/sub"); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := a.Mkdir(ctx, "/dir/sub"); err != nil {
		t.Errorf("second Mkdir failed: %v", err)
	}
}

func testMkdirOverFile(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	if err := a.WriteFile(ctx, "/taken.md", "file"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	err := a.Mkdir(ctx, "/taken.md")
	if !errors.Is(err, storage.ErrPathExists) {
		t.Errorf("Mkdir over file error = %v, want ErrPathExists", err)
	}
}

func testDeleteFile(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	if err := a.WriteFile(ctx, "/gone.md", "bye"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := a.Delete(ctx, "/gone.md", false); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ok, err := a.Exists(ctx, "/gone.md")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("file still exists after Delete")
	}
	if err := a.Delete(ctx, "/gone.md", false); !storage.IsNotFound(err) {
		t.Errorf("double Delete error = %v, want not-found", err)
	}
}

func testDeleteNonEmptyDir(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	if err := a.WriteFile(ctx, "/full/file.md", "x"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	err := a.Delete(ctx, "/full", false)
	if !errors.Is(err, storage.ErrDirectoryNotEmpty) {
		t.Errorf("Delete(non-empty) error = %v, want ErrDirectoryNotEmpty", err)
	}
}

func testDeleteRecursive(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	paths := []string{"/tree/a.md", "/tree/sub/b.md", "/tree/sub/deep/c.md"}
	for _, p := range paths {
		if err := a.WriteFile(ctx, p, "x"); err != nil {
			t.Fatalf("seed WriteFile(%q) failed: %v", p, err)
		}
	}
	if err := a.Delete(ctx, "/tree", true); err != nil {
		t.Fatalf("recursive Delete failed: %v", err)
	}
	// All descendants and the target must be gone together.
	for _, p := range append(paths, "/tree", "/tree/sub", "/tree/sub/deep") {
		ok, err := a.Exists(ctx, p)
		if err != nil {
			t.Fatalf("Exists(%q) failed: %v", p, err)
		}
		if ok {
			t.Errorf("%q survived recursive delete", p)
		}
	}
}

func testWatchUnsubscribe(t *testing.T, a storage.Adapter) {
	unsub, err := a.Watch("/", func([]storage.Event) {}, storage.WatchOptions{Recursive: true})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if unsub == nil {
		t.Fatal("Watch returned nil unsubscribe")
	}
	unsub()
	unsub() // must be safe to call twice
}

func pathSet(entries []storage.Entry) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		set[e.Path] = true
	}
	return set
}
