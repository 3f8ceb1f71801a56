package audiocache

import (
	"container/list"
	"sync"
	"time"

	"github.com/harunnryd/freestream/pkg/audio"
)

// Config bounds the cache. Zero values select the defaults.
type Config struct {
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
}

const (
	DefaultMaxEntries = 500
	DefaultMaxBytes   = 100 << 20
	DefaultTTL        = 24 * time.Hour
)

// Entry is one immutable piece of synthesized audio.
type Entry struct {
	Handle    audio.Handle
	Data      []byte
	CreatedAt time.Time
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Cache is a content-addressed LRU of synthesized audio keyed by cache key.
// The audio ID of an entry equals its key. Entries are never overwritten.
type Cache struct {
	cfg Config

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List
	size     int64
	stats    Stats
	now      func() time.Time
}

func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Cache{
		cfg:      cfg,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		now:      time.Now,
	}
}

// Get returns the entry for key and marks it most recently used.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.liveLocked(key)
	if !ok {
		c.stats.Misses++
		return Entry{}, false
	}
	c.stats.Hits++
	return e, true
}

// Lookup resolves an audio ID for playback retrieval. It refreshes recency
// but does not count towards hit statistics.
func (c *Cache) Lookup(audioID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(audioID)
}

// Put stores data under key unless an entry already exists, in which case
// the existing handle is returned and stored is false.
func (c *Cache) Put(key string, data []byte, contentType string, duration time.Duration) (h audio.Handle, stored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.liveLocked(key); ok {
		return e.Handle, false
	}
	entry := &Entry{
		Handle: audio.Handle{
			ID:          key,
			ContentType: contentType,
			Size:        len(data),
			Duration:    duration,
		},
		Data:      data,
		CreatedAt: c.now(),
	}
	need := int64(len(data))
	for c.eviction.Len() > 0 && (c.size+need > c.cfg.MaxBytes || c.eviction.Len() >= c.cfg.MaxEntries) {
		c.removeElementLocked(c.eviction.Back())
		c.stats.Evictions++
	}
	c.items[key] = c.eviction.PushFront(entry)
	c.size += need
	return entry.Handle, true
}

// Delete drops key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElementLocked(elem)
	}
}

// Len returns the number of retained entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eviction.Len()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.eviction.Len()
	s.Bytes = c.size
	return s
}

func (c *Cache) liveLocked(key string) (Entry, bool) {
	elem, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	entry := elem.Value.(*Entry)
	if c.now().Sub(entry.CreatedAt) > c.cfg.TTL {
		c.removeElementLocked(elem)
		c.stats.Evictions++
		return Entry{}, false
	}
	c.eviction.MoveToFront(elem)
	return *entry, true
}

func (c *Cache) removeElementLocked(elem *list.Element) {
	entry := c.eviction.Remove(elem).(*Entry)
	delete(c.items, entry.Handle.ID)
	c.size -= int64(len(entry.Data))
}
