// Package cache implements the decode cache: a weight-bounded,
// key-addressed cache of materialized values and negative (known-absent)
// entries, with predicate-based mass invalidation.
//
// Entries are evicted least-recently-used once the summed entry weights
// exceed the configured capacity. A negative entry is a first-class
// value: it records that the engine holds nothing at its key, so
// repeated lookups of an absent key cost at most one engine read per
// entry lifetime.
package cache

import (
	"container/list"
	"sync"

	"github.com/Klingon-tech/bigstore/internal/log"
)

// DefaultCapacity bounds the summed entry weights unless overridden.
const DefaultCapacity = 128 << 20 // 128 MiB

// EntryOverhead approximates the fixed per-entry bookkeeping cost added
// to every entry's weight.
const EntryOverhead = 24

// Entry is a cached decode result. A nil Value is a negative entry.
type Entry struct {
	Weight uint32
	Value  any
}

// Negative reports whether the entry records a known-absent key.
func (e Entry) Negative() bool { return e.Value == nil }

type item struct {
	key   string
	entry Entry
}

// Cache is a concurrent, size-bounded decode cache.
type Cache struct {
	mu       sync.Mutex
	capacity uint64
	used     uint64
	ll       *list.List // front = most recently used
	items    map[string]*list.Element

	evictions uint64
}

// New creates a cache bounded by capacity summed entry weights. A zero
// capacity selects DefaultCapacity.
func New(capacity uint64) *Cache {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	log.Cache.Debug().Uint64("capacity", capacity).Msg("decode cache ready")
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// GetOrLoad returns the entry for key, calling load on a miss and
// storing its result. The loaded entry may be negative. The load
// callback runs with the cache lock held, serializing concurrent
// misses; loads only happen under a store guard, where contention is
// bounded by the single-writer model.
func (c *Cache) GetOrLoad(key []byte, load func() Entry) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[string(key)]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*item).entry
	}
	entry := load()
	c.insert(string(key), entry)
	return entry
}

// Get returns the entry for key if present.
func (c *Cache) Get(key []byte) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[string(key)]
	if !ok {
		return Entry{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*item).entry, true
}

// Insert stores an entry, replacing any existing entry for key.
func (c *Cache) Insert(key []byte, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(string(key), entry)
}

func (c *Cache) insert(key string, entry Entry) {
	if el, ok := c.items[key]; ok {
		it := el.Value.(*item)
		c.used -= uint64(it.entry.Weight)
		it.entry = entry
		c.used += uint64(entry.Weight)
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&item{key: key, entry: entry})
		c.items[key] = el
		c.used += uint64(entry.Weight)
	}
	c.evict()
}

// evict drops least-recently-used entries until used fits capacity.
func (c *Cache) evict() {
	for c.used > c.capacity {
		el := c.ll.Back()
		if el == nil {
			return
		}
		it := el.Value.(*item)
		c.ll.Remove(el)
		delete(c.items, it.key)
		c.used -= uint64(it.entry.Weight)
		c.evictions++
	}
}

// InvalidateIf removes every entry whose key satisfies pred.
func (c *Cache) InvalidateIf(pred func(key []byte) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next *list.Element
	for el := c.ll.Front(); el != nil; el = next {
		next = el.Next()
		it := el.Value.(*item)
		if pred([]byte(it.key)) {
			c.ll.Remove(el)
			delete(c.items, it.key)
			c.used -= uint64(it.entry.Weight)
		}
	}
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Used reports the summed weight of live entries.
func (c *Cache) Used() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Evictions reports how many entries capacity pressure has dropped.
func (c *Cache) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}
