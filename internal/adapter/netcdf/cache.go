package netcdf

import (
	"strings"
	"sync"

	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
)

// Loader reads one variable of a NetCDF file.
type Loader interface {
	Load(path, variable string) (domain.Field, error)
}

// FileLoader reads straight from disk.
type FileLoader struct{}

// Load implements Loader.
func (FileLoader) Load(path, variable string) (domain.Field, error) {
	return ReadField(path, variable)
}

// CachedLoader wraps a Loader with an in-memory LRU cache. The forecast
// fallback reference is read once per missing initialization, so a small
// cache avoids rereading it.
type CachedLoader struct {
	inner Loader
	cache *lruCache
}

// NewCachedLoader creates a cache decorator around a loader.
func NewCachedLoader(inner Loader, maxEntries int) *CachedLoader {
	return &CachedLoader{
		inner: inner,
		cache: newLRUCache(maxEntries),
	}
}

// Load returns a copy of the cached field, reading it on a miss. Errors are
// never cached so a file written later can still be picked up.
func (c *CachedLoader) Load(path, variable string) (domain.Field, error) {
	key := path + "|" + variable
	if f, ok := c.cache.get(key); ok {
		return f.Clone(), nil
	}
	f, err := c.inner.Load(path, variable)
	if err != nil {
		return domain.Field{}, err
	}
	c.cache.put(key, f.Clone())
	return f, nil
}

// Forget drops every cached variable of path, e.g. after it is rewritten.
func (c *CachedLoader) Forget(path string) {
	c.cache.removeIf(func(key string) bool {
		return strings.HasPrefix(key, path+"|")
	})
}

// lruCache is a simple thread-safe LRU cache of fields.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value domain.Field
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (domain.Field, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.Field{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value domain.Field) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) removeIf(match func(key string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if match(key) {
			delete(c.entries, key)
			c.remove(e)
		}
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
