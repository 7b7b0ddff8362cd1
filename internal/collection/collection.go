// Package collection provides typed, cached collections of records stored
// as a single JSON array document.
//
// Every mutation follows the same sequence: take the in-process write queue,
// take the cross-process document lock, read the document fresh from disk,
// apply one change, sort, write under the held lock, then swap the cached
// snapshot. Readers are served from the snapshot and never wait for writers.
package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"planstore/internal/checksum"
	"planstore/internal/document"
	"planstore/internal/filelock"
	"planstore/internal/planstore"
	"planstore/internal/syncx"
)

// Record is implemented by the element types of a Collection.
type Record[T any] interface {
	RecordID() string
	// WithRecordID returns a copy carrying id. Types whose id derives from
	// another field may ignore it.
	WithRecordID(id string) T
	Clone() T
}

// Options configures a Collection.
type Options[T any] struct {
	// Less orders records at write time. Nil keeps insertion order.
	Less   func(a, b T) bool
	IDs    planstore.IDGenerator
	Feed   *Feed
	Logger planstore.Logger
}

// Collection is a goroutine-safe set of records backed by one document.
type Collection[T Record[T]] struct {
	name   string
	store  *document.Store
	less   func(a, b T) bool
	ids    planstore.IDGenerator
	feed   *Feed
	logger planstore.Logger

	queue syncx.Queue
	cache Cache[T]
}

// New creates a collection over the named document in store.
func New[T Record[T]](store *document.Store, name string, opts Options[T]) *Collection[T] {
	c := &Collection[T]{
		name:   name,
		store:  store,
		less:   opts.Less,
		ids:    opts.IDs,
		feed:   opts.Feed,
		logger: planstore.EnsureLogger(opts.Logger),
	}
	if c.ids == nil {
		c.ids = planstore.UUIDGenerator{}
	}
	return c
}

// Name returns the document name.
func (c *Collection[T]) Name() string { return c.name }

// Cache exposes the collection's snapshot cache.
func (c *Collection[T]) Cache() *Cache[T] { return &c.cache }

// List returns a copy of all records, hydrating the cache from disk if it is
// empty.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return cloneAll(snap.Items), nil
}

// Get returns a copy of the record with id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	snap, err := c.snapshot(ctx)
	if err != nil {
		return zero, err
	}
	for _, item := range snap.Items {
		if item.RecordID() == id {
			return item.Clone(), nil
		}
	}
	return zero, c.notFound(id)
}

// Create adds item, assigning an id if it has none. Creating an id that
// already exists fails with planstore.ErrConflict.
func (c *Collection[T]) Create(ctx context.Context, item T) (T, error) {
	if item.RecordID() == "" {
		item = item.WithRecordID(c.ids.New())
	}
	item = item.Clone()
	id := item.RecordID()

	err := c.mutate(ctx, OpCreate, id, func(items []T) ([]T, error) {
		if indexOf(items, id) >= 0 {
			return nil, fmt.Errorf("%s %q: %w", c.name, id, planstore.ErrConflict)
		}
		return append(items, item), nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return item.Clone(), nil
}

// Update replaces the record with id by fn's result. fn receives a copy of
// the current on-disk record and must not change its id.
func (c *Collection[T]) Update(ctx context.Context, id string, fn func(T) (T, error)) (T, error) {
	var updated T
	err := c.mutate(ctx, OpUpdate, id, func(items []T) ([]T, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, c.notFound(id)
		}
		next, err := fn(items[i].Clone())
		if err != nil {
			return nil, err
		}
		if next.RecordID() != id {
			return nil, fmt.Errorf("update of %s %q changed its id to %q", c.name, id, next.RecordID())
		}
		items[i] = next.Clone()
		updated = next
		return items, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return updated, nil
}

// Delete removes the record with id.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.mutate(ctx, OpDelete, id, func(items []T) ([]T, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, c.notFound(id)
		}
		return append(items[:i], items[i+1:]...), nil
	})
}

// Replace overwrites the whole collection with items. Unlike the single
// record mutators it goes through document.Store.Write, so it inherits the
// unlocked-write fallback when the lock is unavailable.
func (c *Collection[T]) Replace(ctx context.Context, items []T) error {
	if err := c.queue.Lock(ctx); err != nil {
		return err
	}
	defer c.queue.Unlock()

	next := cloneAll(items)
	c.sort(next)
	data, err := document.Encode(nonNil(next))
	if err != nil {
		c.cache.Invalidate()
		return fmt.Errorf("%w: encoding %s: %w", planstore.ErrSaveFailed, c.name, err)
	}
	if err := c.store.Write(ctx, c.name, data); err != nil {
		c.cache.Invalidate()
		return err
	}
	v := c.cache.Set(next, checksum.Sum(data))
	c.feed.Publish(Change{Document: c.name, Op: OpReplace, Version: v})
	return nil
}

// Invalidate drops the cached snapshot.
func (c *Collection[T]) Invalidate() { c.cache.Invalidate() }

// ExternalChange is called when the document's digest on disk changed to
// digest. It invalidates the cache unless the digest is one this process
// wrote or already holds, and reports whether it did.
func (c *Collection[T]) ExternalChange(digest string) bool {
	if snap, ok := c.cache.Get(); ok && snap.Digest == digest {
		return false
	}
	if digest != "" && digest == c.store.LastWritten(c.name) {
		return false
	}
	c.cache.Invalidate()
	c.logger.Debug("document changed by another process", "document", c.name)
	c.feed.Publish(Change{Document: c.name, Op: OpExternal, Version: c.cache.Version()})
	return true
}

// mutate runs change against a fresh copy of the on-disk records under both
// lock tiers and commits the result. Errors returned by change leave the
// document and cache untouched.
func (c *Collection[T]) mutate(ctx context.Context, op, id string, change func([]T) ([]T, error)) error {
	if err := c.queue.Lock(ctx); err != nil {
		return err
	}
	defer c.queue.Unlock()

	lk, err := c.store.Lock(ctx, c.name)
	if err != nil {
		return err
	}
	defer c.store.Unlock(lk)

	items, _, err := c.readDisk(ctx)
	if err != nil {
		c.cache.Invalidate()
		return fmt.Errorf("%w: %w", planstore.ErrSaveFailed, err)
	}

	next, err := change(items)
	if err != nil {
		return err
	}
	c.sort(next)

	if err := c.commit(lk, next); err != nil {
		c.cache.Invalidate()
		return err
	}
	c.feed.Publish(Change{Document: c.name, Op: op, ID: id, Version: c.cache.Version()})
	return nil
}

func (c *Collection[T]) commit(lk *filelock.Lock, items []T) error {
	data, err := document.Encode(nonNil(items))
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", planstore.ErrSaveFailed, c.name, err)
	}
	if err := c.store.WriteLocked(lk, c.name, data); err != nil {
		return err
	}
	c.cache.Set(items, checksum.Sum(data))
	return nil
}

// snapshot returns the cached snapshot, hydrating it from disk when absent.
// A hydration that raced with a write is served but not installed.
func (c *Collection[T]) snapshot(ctx context.Context) (*Snapshot[T], error) {
	if snap, ok := c.cache.Get(); ok {
		return snap, nil
	}

	seen := c.cache.Version()
	items, digest, err := c.readDisk(ctx)
	if err != nil {
		return nil, err
	}
	if v, ok := c.cache.SetIfVersion(items, digest, seen); ok {
		return &Snapshot[T]{Items: items, Version: v, Digest: digest}, nil
	}
	return &Snapshot[T]{Items: items, Version: seen, Digest: digest}, nil
}

// readDisk loads the records from the document, bypassing the cache. A
// missing document is an empty collection.
func (c *Collection[T]) readDisk(ctx context.Context) ([]T, string, error) {
	data, err := c.store.Read(ctx, c.name)
	if err != nil {
		return nil, "", err
	}
	if data == nil {
		return []T{}, "", nil
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, "", &document.CorruptError{Path: c.store.Path(c.name), Err: err}
	}
	if items == nil {
		items = []T{}
	}
	return items, checksum.Sum(data), nil
}

func (c *Collection[T]) sort(items []T) {
	if c.less == nil {
		return
	}
	sort.SliceStable(items, func(i, j int) bool { return c.less(items[i], items[j]) })
}

func (c *Collection[T]) notFound(id string) error {
	return fmt.Errorf("%s %q: %w", c.name, id, planstore.ErrNotFound)
}

func indexOf[T Record[T]](items []T, id string) int {
	for i, item := range items {
		if item.RecordID() == id {
			return i
		}
	}
	return -1
}

func cloneAll[T Record[T]](items []T) []T {
	out := make([]T, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}

// nonNil makes an empty collection encode as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
