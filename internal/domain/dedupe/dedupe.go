// Package dedupe defines the interface for idempotency tracking.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/talentmatch/pkg/metrics"
)

const defaultMaxSize = 100000

// Deduper records seen ids so a publish is attempted at most once per id
// within this process.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a failed publish can be attempted again.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// lruDeduper evicts the least recently touched id once full. A hit moves the
// id to the front, so ids that keep getting redelivered stay resident.
type lruDeduper struct {
	mu      sync.Mutex
	order   *list.List
	seen    map[string]*list.Element
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a bounded LRU deduper. A max size of zero or
// less disables eviction.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &lruDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.order = list.New()
	d.seen = make(map[string]*list.Element)
	return d
}

func (d *lruDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[id]; ok {
		d.order.MoveToFront(el)
		return true
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		d.evictOldest()
	}
	d.seen[id] = d.order.PushFront(id)
	d.size.Add(1)
	return false
}

func (d *lruDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[id]; ok {
		d.order.Remove(el)
		delete(d.seen, id)
		d.size.Add(-1)
	}
}

// evictOldest must be called with d.mu held.
func (d *lruDeduper) evictOldest() {
	el := d.order.Back()
	if el == nil {
		return
	}
	d.order.Remove(el)
	delete(d.seen, el.Value.(string))
	d.size.Add(-1)
	metrics.RecordDedupeEviction()
}

func (d *lruDeduper) Size() int64 {
	return d.size.Load()
}
