package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNamespaceRequired is returned for an empty namespace.
var ErrNamespaceRequired = errors.New("namespace is required")

// DefaultLocalMaxSize bounds an LRU cache built without a size.
const DefaultLocalMaxSize = 10000

// LRUCache is a thread-safe LRU cache with TTL support.
// Used on its own for single-instance deployments and as L1 in two-phase
// caching.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[entryKey]*list.Element
	order   *list.List
	now     func() time.Time
}

type entryKey struct {
	namespace string
	key       string
}

type cacheEntry struct {
	id        entryKey
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = DefaultLocalMaxSize
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[entryKey]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

func checkNamespace(namespace string) error {
	if namespace == "" {
		return ErrNamespaceRequired
	}
	return nil
}

// Get returns nil, nil for a missing or expired key.
func (c *LRUCache) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	if err := checkNamespace(namespace); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[entryKey{namespace, key}]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores value until ttl elapses. A non-positive ttl stores nothing.
func (c *LRUCache) Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	id := entryKey{namespace, key}
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[id]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[id] = c.order.PushFront(&cacheEntry{id: id, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.maxSize {
		c.removeElement(c.order.Back())
	}
	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, namespace string, key string) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[entryKey{namespace, key}]; ok {
		c.removeElement(elem)
	}
	return nil
}

// PurgeNamespace drops every entry of namespace and reports how many went.
func (c *LRUCache) PurgeNamespace(ctx context.Context, namespace string) (int, error) {
	if err := checkNamespace(namespace); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for id, elem := range c.items {
		if id.namespace == namespace {
			c.removeElement(elem)
			purged++
		}
	}
	return purged, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[entryKey]*list.Element)
	c.order.Init()
	return nil
}

// Stats returns the number of entries and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).id)
}
