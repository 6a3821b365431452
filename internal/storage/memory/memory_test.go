package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nvoss/trellis/internal/storage"
	"github.com/nvoss/trellis/internal/storage/contracttest"
)

func TestContract(t *testing.T) {
	contracttest.Run(t, func(t *testing.T) storage.Adapter {
		return New()
	})
}

func TestStat(t *testing.T) {
	a := New()
	ctx := context.Background()

	if err := a.WriteFile(ctx, "/n/doc.md", "hello"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	e, err := a.Stat(ctx, "/n/doc.md")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if e.IsDir || e.Size != 5 || e.Name != "doc.md" {
		t.Errorf("Stat entry = %+v", e)
	}

	e, err = a.Stat(ctx, "/n")
	if err != nil {
		t.Fatalf("Stat(dir) failed: %v", err)
	}
	if !e.IsDir {
		t.Error("Stat(/n).IsDir = false, want true")
	}

	if _, err := a.Stat(ctx, "/missing"); !errors.Is(err, storage.ErrFileNotFound) {
		t.Errorf("Stat(missing) error = %v, want ErrFileNotFound", err)
	}
}

func TestWatchReceivesWriteEvents(t *testing.T) {
	a := New()
	defer a.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var got []storage.Event
	unsub, err := a.Watch("/tasks", func(events []storage.Event) {
		mu.Lock()
		got = append(got, events...)
		mu.Unlock()
	}, storage.WatchOptions{Recursive: true, Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer unsub()

	if err := a.WriteFile(ctx, "/tasks/t1.md", "a"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := a.WriteFile(ctx, "/elsewhere/x.md", "b"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := a.Delete(ctx, "/tasks/t1.md", false); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("events = %+v, want create+delete for /tasks/t1.md", got)
	}
	if got[0].Op != storage.OpCreate || got[0].Path != "/tasks/t1.md" {
		t.Errorf("first event = %+v, want create /tasks/t1.md", got[0])
	}
	if got[1].Op != storage.OpDelete {
		t.Errorf("second event op = %v, want delete", got[1].Op)
	}
}

func TestDeleteRootRejected(t *testing.T) {
	a := New()
	err := a.Delete(context.Background(), "/", true)
	if !errors.Is(err, storage.ErrInvalidOperation) {
		t.Errorf("Delete(/) error = %v, want ErrInvalidOperation", err)
	}
}
