package collection

import "sync"

// Change operations.
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpReplace  = "replace"
	OpExternal = "external" // written by another process
)

// Change describes a committed modification of a document.
type Change struct {
	Document string
	Op       string
	ID       string
	Version  uint64
}

// Feed fans committed changes out to subscribers, for callers that
// broadcast updates to clients. Slow subscribers miss changes rather than
// block writers.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan Change
	next   int
	closed bool
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Change)}
}

// Subscribe returns a channel of changes and a function that ends the
// subscription.
func (f *Feed) Subscribe(buffer int) (<-chan Change, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Change, buffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.next
	f.next++
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers c to every subscriber with room in its buffer.
func (f *Feed) Publish(c Change) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Close ends all subscriptions.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
