package collection

import (
	"sync"
	"sync/atomic"
)

// Snapshot is one immutable cached view of a collection. Callers must not
// modify Items; Collection hands out copies.
type Snapshot[T any] struct {
	Items   []T
	Version uint64
	Digest  string
}

// Cache holds the latest snapshot of a collection. Get never blocks; Set and
// Invalidate are serialized among themselves. Every change, including
// invalidation, advances the version.
type Cache[T any] struct {
	mu      sync.Mutex
	cur     atomic.Pointer[Snapshot[T]]
	version atomic.Uint64
}

// Get returns the current snapshot, or false if the cache is empty.
func (c *Cache[T]) Get() (*Snapshot[T], bool) {
	s := c.cur.Load()
	return s, s != nil
}

// Set installs items as the new snapshot and returns its version. The cache
// takes ownership of items.
func (c *Cache[T]) Set(items []T, digest string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.install(items, digest)
}

// SetIfVersion installs items only if no Set or Invalidate happened since
// the caller observed version seen.
func (c *Cache[T]) SetIfVersion(items []T, digest string, seen uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version.Load() != seen {
		return 0, false
	}
	return c.install(items, digest), true
}

// Invalidate drops the snapshot so the next read re-derives it from disk.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version.Add(1)
	c.cur.Store(nil)
}

// Version returns the current version counter.
func (c *Cache[T]) Version() uint64 { return c.version.Load() }

func (c *Cache[T]) install(items []T, digest string) uint64 {
	v := c.version.Add(1)
	c.cur.Store(&Snapshot[T]{Items: items, Version: v, Digest: digest})
	return v
}
