// Package syncx provides the in-process write queue used above the
// cross-process file lock.
package syncx

import (
	"context"
	"sync"
)

// Queue is a mutual-exclusion lock that grants ownership to waiters in
// arrival order. Ownership is handed directly from the releasing goroutine to
// the oldest waiter, so a late arrival can never overtake a queued one.
// The zero value is an unlocked Queue.
type Queue struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// Lock blocks until the caller owns the queue or ctx is done.
func (q *Queue) Lock(ctx context.Context) error {
	q.mu.Lock()
	if !q.held && len(q.waiters) == 0 {
		q.held = true
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		for i, w := range q.waiters {
			if w == ch {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				q.mu.Unlock()
				return ctx.Err()
			}
		}
		q.mu.Unlock()
		// Ownership was handed to us while ctx fired; pass it on.
		q.Unlock()
		return ctx.Err()
	}
}

// Unlock releases the queue, handing ownership to the oldest waiter if any.
func (q *Queue) Unlock() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.held {
		panic("syncx: unlock of unlocked Queue")
	}
	if len(q.waiters) > 0 {
		next := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(next)
		return
	}
	q.held = false
}

// Waiting returns the number of goroutines blocked in Lock.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}
