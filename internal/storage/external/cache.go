package external

import (
	"strings"
	"sync"
	"time"

	"github.com/nvoss/trellis/internal/storage"
)

// DefaultCacheTTL bounds how long a directory listing is served from
// memory before the directory is re-read.
const DefaultCacheTTL = 5 * time.Minute

type cachedListing struct {
	entries   []storage.Entry
	expiresAt time.Time
}

// listingCache holds directory traversal results keyed by normalized path
// plus the listing options that produced them. Entries expire after the TTL
// and any mutation invalidates the affected subtree.
type listingCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cachedListing
}

func newListingCache(ttl time.Duration) *listingCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &listingCache{ttl: ttl, entries: make(map[string]cachedListing)}
}

// key builds a cache key distinguishing recursive/extension variants of the
// same directory.
func (c *listingCache) key(path string, opts storage.ListOptions) string {
	k := storage.NormalizePath(path)
	if opts.Recursive {
		k += "\x00r"
	}
	if opts.Extension != "" {
		k += "\x00e" + opts.Extension
	}
	return k
}

func (c *listingCache) get(path string, opts storage.ListOptions) ([]storage.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.entries[c.key(path, opts)]
	if !ok || time.Now().After(cached.expiresAt) {
		return nil, false
	}
	return cached.entries, true
}

func (c *listingCache) put(path string, opts storage.ListOptions, entries []storage.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(path, opts)] = cachedListing{
		entries:   entries,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// invalidateSubtree drops every cached listing that could include path:
// listings of any ancestor plus everything under path itself.
func (c *listingCache) invalidateSubtree(path string) {
	p := storage.NormalizePath(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		dir := key
		if i := strings.IndexByte(key, '\x00'); i >= 0 {
			dir = key[:i]
		}
		if storage.IsPathUnder(p, dir) || storage.IsPathUnder(dir, p) {
			delete(c.entries, key)
		}
	}
}

func (c *listingCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cachedListing)
}
