package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/spooky-finn/orderbook-sync/helpers"
)

const (
	DefaultCapacity = 100
	DefaultTTL      = 5 * time.Minute
)

type Entry[T any] struct {
	Key      string        `json:"key"`
	Data     T             `json:"data"`
	StoredAt time.Time     `json:"storedAt"`
	TTL      time.Duration `json:"ttl"`

	seq uint64
}

func (e *Entry[T]) expired(now time.Time) bool {
	return !now.Before(e.StoredAt.Add(e.TTL))
}

type Stats struct {
	TotalItems int     `json:"totalItems"`
	TotalSize  int     `json:"totalSize"`
	HitCount   uint64  `json:"hitCount"`
	MissCount  uint64  `json:"missCount"`
	HitRate    float64 `json:"hitRate"`
	OldestItem string  `json:"oldestItem,omitempty"`
	NewestItem string  `json:"newestItem,omitempty"`
}

type config struct {
	now func() time.Time
}

type Option func(*config)

func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// TTLCache is a bounded key/value store with per-entry expiry.
// When full, inserting a new key evicts the entry stored earliest.
// It is safe for concurrent use.
type TTLCache[T any] struct {
	mu         sync.Mutex
	items      map[string]*Entry[T]
	capacity   int
	defaultTTL time.Duration

	hits   uint64
	misses uint64
	seq    uint64
	now    func() time.Time
}

func New[T any](capacity int, defaultTTL time.Duration, opts ...Option) *TTLCache[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	cfg := config{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &TTLCache[T]{
		items:      make(map[string]*Entry[T], capacity),
		capacity:   capacity,
		defaultTTL: defaultTTL,
		now:        cfg.now,
	}
}

func (c *TTLCache[T]) Set(key string, value T) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL inserts or overwrites key. A non-positive ttl means the default TTL.
func (c *TTLCache[T]) SetWithTTL(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setLocked(key, value, ttl)
}

func (c *TTLCache[T]) SetMultiple(values map[string]T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, value := range values {
		c.setLocked(key, value, ttl)
	}
}

func (c *TTLCache[T]) setLocked(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	if _, ok := c.items[key]; !ok && len(c.items) >= c.capacity {
		if oldest := c.oldestLocked(); oldest != nil {
			delete(c.items, oldest.Key)
		}
	}

	c.seq++
	c.items[key] = &Entry[T]{
		Key:      key,
		Data:     value,
		StoredAt: c.now(),
		TTL:      ttl,
		seq:      c.seq,
	}
}

// Get returns the value if present and not expired. Expired entries are removed.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.liveLocked(key)
	if !ok {
		c.misses++
		var zero T
		return zero, false
	}

	c.hits++
	return entry.Data, true
}

// GetMultiple returns the live subset of keys. Each key counts as a hit or miss.
func (c *TTLCache[T]) GetMultiple(keys []string) map[string]T {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]T, len(keys))
	for _, key := range keys {
		entry, ok := c.liveLocked(key)
		if !ok {
			c.misses++
			continue
		}
		c.hits++
		result[key] = entry.Data
	}

	return result
}

// Has reports whether key is live without touching the hit/miss counters.
func (c *TTLCache[T]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.liveLocked(key)
	return ok
}

func (c *TTLCache[T]) liveLocked(key string) (*Entry[T], bool) {
	entry, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if entry.expired(c.now()) {
		delete(c.items, key)
		return nil, false
	}
	return entry, true
}

func (c *TTLCache[T]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]
	delete(c.items, key)
	return ok
}

func (c *TTLCache[T]) DeleteMultiple(keys []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if _, ok := c.items[key]; ok {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// DeleteByPattern removes every key match accepts and returns the removed keys.
func (c *TTLCache[T]) DeleteByPattern(match func(key string) bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := []string{}
	for key := range c.items {
		if match(key) {
			delete(c.items, key)
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)
	return removed
}

// Clear drops all entries and resets the hit/miss counters.
func (c *TTLCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*Entry[T], c.capacity)
	c.hits = 0
	c.misses = 0
}

// ClearExpired sweeps the whole cache. Scheduling the sweep is up to the caller.
func (c *TTLCache[T]) ClearExpired() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := []string{}
	for key, entry := range c.items {
		if entry.expired(now) {
			delete(c.items, key)
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)
	return removed
}

// Keys returns live keys in insertion order.
func (c *TTLCache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entries := make([]*Entry[T], 0, len(c.items))
	for _, entry := range c.items {
		if !entry.expired(now) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	keys := make([]string, len(entries))
	for i, entry := range entries {
		keys[i] = entry.Key
	}
	return keys
}

// All returns every live value.
func (c *TTLCache[T]) All() map[string]T {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	result := make(map[string]T, len(c.items))
	for key, entry := range c.items {
		if !entry.expired(now) {
			result[key] = entry.Data
		}
	}
	return result
}

// Len counts stored entries, including expired ones not yet swept.
func (c *TTLCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

func (c *TTLCache[T]) Capacity() int {
	return c.capacity
}

// Stats is diagnostic only and never mutates the cache.
func (c *TTLCache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		TotalItems: len(c.items),
		HitCount:   c.hits,
		MissCount:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}

	var oldest, newest *Entry[T]
	for _, entry := range c.items {
		stats.TotalSize += helpers.JsonSize(entry)
		if oldest == nil || entry.seq < oldest.seq {
			oldest = entry
		}
		if newest == nil || entry.seq > newest.seq {
			newest = entry
		}
	}
	if oldest != nil {
		stats.OldestItem = oldest.Key
		stats.NewestItem = newest.Key
	}

	return stats
}

// oldestLocked picks the smallest StoredAt, insertion order breaking ties.
func (c *TTLCache[T]) oldestLocked() *Entry[T] {
	var oldest *Entry[T]
	for _, entry := range c.items {
		if oldest == nil ||
			entry.StoredAt.Before(oldest.StoredAt) ||
			(entry.StoredAt.Equal(oldest.StoredAt) && entry.seq < oldest.seq) {
			oldest = entry
		}
	}
	return oldest
}
