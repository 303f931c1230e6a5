package verify

import (
	"container/list"
	"context"
	"sync"
	"time"

	"ppbverify-backend/lib/scrapers/ppb"
)

// Stats is a monotonic snapshot of cache behavior since startup or the
// last Clear.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size"`
}

func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache stores verified records under normalized identifiers. A failing
// backend reports a miss rather than an error, verification then falls
// through to the portal.
type Cache interface {
	Get(ctx context.Context, key string) (ppb.Record, bool)
	Put(ctx context.Context, key string, record ppb.Record)
	Stats(ctx context.Context) Stats
	Clear(ctx context.Context)
}

type memoryEntry struct {
	key       string
	record    ppb.Record
	expiresAt time.Time
}

// MemoryCache is a TTL plus LRU bounded in-process cache. Both reads
// and writes refresh recency, expiry is checked lazily on read.
type MemoryCache struct {
	ttl     time.Duration
	maxSize int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List

	hits      uint64
	misses    uint64
	evictions uint64

	now func() time.Time
}

func NewMemoryCache(ttl time.Duration, maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	c := &MemoryCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: map[string]*list.Element{},
		order:   list.New(),
		now:     time.Now,
	}
	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string) (ppb.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return ppb.Record{}, false
	}

	entry := elem.Value.(*memoryEntry)
	if c.now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return ppb.Record{}, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.record, true
}

func (c *MemoryCache) Put(ctx context.Context, key string, record ppb.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.record = record
		entry.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	for len(c.entries) >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memoryEntry).key)
		c.evictions++
	}

	c.entries[key] = c.order.PushFront(&memoryEntry{
		key:       key,
		record:    record,
		expiresAt: c.now().Add(c.ttl),
	})
}

func (c *MemoryCache) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
	}
}

// Clear drops every entry. It is also the only operation that resets
// the counters.
func (c *MemoryCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]*list.Element{}
	c.order.Init()
	c.hits, c.misses, c.evictions = 0, 0, 0
}
