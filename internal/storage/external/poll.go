package external

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nvoss/trellis/internal/storage"
)

// poller implements change detection for a backend with no native
// notifications. Each tick captures a path-to-mtime snapshot of the handle's
// tree and diffs it against the previous one, synthesizing create, modify,
// and delete events. The first scan only establishes the baseline so a
// fresh watch does not open with a spurious mass-create burst.
type poller struct {
	adapter  *Adapter
	interval time.Duration

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	snapshot  map[string]time.Time
	baselined bool
}

func newPoller(a *Adapter, interval time.Duration) *poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &poller{
		adapter:  a,
		interval: interval,
		snapshot: make(map[string]time.Time),
	}
}

// start launches the polling loop once; later calls are no-ops.
func (p *poller) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.loop(p.stopCh)
}

func (p *poller) stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *poller) loop(stop chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.scan()
		}
	}
}

// scan diffs the current tree state against the previous snapshot and
// publishes any synthesized events.
func (p *poller) scan() {
	// Never prompt from the background loop; a handle that is not
	// currently granted simply skips the tick.
	if p.adapter.handle.Permission(context.Background()) != PermissionGranted {
		return
	}
	root := p.adapter.handle.RootDir()
	if root == "" {
		return
	}

	current := make(map[string]time.Time)
	_ = filepath.WalkDir(root, func(walked string, d fs.DirEntry, err error) error {
		if err != nil {
			// A subtree that vanished mid-walk shows up as deletions
			// against the previous snapshot.
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(root, walked)
		if rerr != nil {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		current["/"+filepath.ToSlash(rel)] = info.ModTime()
		return nil
	})

	p.mu.Lock()
	prev := p.snapshot
	baselined := p.baselined
	p.snapshot = current
	p.baselined = true
	p.mu.Unlock()

	if !baselined {
		return
	}

	now := time.Now()
	invalidate := false
	for path, mtime := range current {
		prevTime, existed := prev[path]
		switch {
		case !existed:
			p.adapter.hub.Publish(storage.Event{Path: path, Op: storage.OpCreate, At: now})
			invalidate = true
		case !mtime.Equal(prevTime):
			p.adapter.hub.Publish(storage.Event{Path: path, Op: storage.OpModify, At: now})
			invalidate = true
		}
	}
	for path := range prev {
		if _, stillThere := current[path]; !stillThere {
			p.adapter.hub.Publish(storage.Event{Path: path, Op: storage.OpDelete, At: now})
			invalidate = true
		}
	}

	// External edits also stale the listing cache.
	if invalidate {
		p.adapter.cache.clear()
	}
}

// noteLocalWrite records an adapter-initiated write in the snapshot so the
// next poll does not re-report it as an external change.
func (p *poller) noteLocalWrite(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.baselined {
		return
	}
	host := hostPath(p.adapter.handle.RootDir(), path)
	if info, err := os.Stat(host); err == nil {
		p.snapshot[storage.NormalizePath(path)] = info.ModTime()
	}
}

// noteLocalDelete removes adapter-deleted paths (and, for directories,
// their descendants) from the snapshot.
func (p *poller) noteLocalDelete(path string) {
	prefix := storage.NormalizePath(path)
	p.mu.Lock()
	defer p.mu.Unlock()
	for tracked := range p.snapshot {
		if storage.IsPathUnder(tracked, prefix) {
			delete(p.snapshot, tracked)
		}
	}
}
