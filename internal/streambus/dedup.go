package streambus

import (
	"container/list"
	"sync"
	"time"
)

// Dedup is a bounded, TTL-expiring set of seen message IDs: an LRU cache
// where eviction makes room for new entries instead of growing forever,
// so a long-running consumer's memory stays bounded.
type Dedup struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element
}

type dedupEntry struct {
	key  string
	seen time.Time
}

// NewDedup constructs a Dedup holding up to capacity entries, each valid
// for ttl.
func NewDedup(capacity int, ttl time.Duration) *Dedup {
	return &Dedup{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// SeenOrMark reports whether id has already been marked within ttl. If
// not, it marks id as seen now and returns false. Touching an existing
// unexpired entry refreshes its LRU recency (not its TTL — the original
// sighting still ages out on schedule, matching at-least-once dedup
// semantics rather than a sliding TTL).
func (d *Dedup) SeenOrMark(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if el, ok := d.items[id]; ok {
		entry := el.Value.(*dedupEntry)
		if now.Sub(entry.seen) < d.ttl {
			d.ll.MoveToFront(el)
			return true
		}
		d.ll.Remove(el)
		delete(d.items, id)
	}

	el := d.ll.PushFront(&dedupEntry{key: id, seen: now})
	d.items[id] = el

	for d.ll.Len() > d.capacity {
		oldest := d.ll.Back()
		if oldest == nil {
			break
		}
		d.ll.Remove(oldest)
		delete(d.items, oldest.Value.(*dedupEntry).key)
	}

	return false
}

// Len returns the current number of tracked entries, for diagnostics.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ll.Len()
}
