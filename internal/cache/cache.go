package cache

import (
	"container/list"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/zeebo/blake3"
)

// DefaultMaxEntries bounds the cache when no explicit limit is configured.
const DefaultMaxEntries = 128

// Key derives the cache key for a render input. Identical markup, styling,
// and option set always map to the same key.
func Key(html, css string, options map[string]any) string {
	h := blake3.New()
	h.Write([]byte(html))
	h.Write([]byte{0})
	h.Write([]byte(css))
	for _, k := range sortedKeys(options) {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		fmt.Fprint(h, options[k])
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}

type entry struct {
	key     string
	payload []byte
}

// Cache is a bounded in-memory store for rendered documents. Least recently
// used entries are evicted once the entry limit is reached.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List
	items      map[string]*list.Element
	hits       uint64
	misses     uint64
}

func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Get returns the cached payload for key, or nil if absent.
func (c *Cache) Get(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil
	}
	c.order.MoveToFront(el)
	c.hits++
	return el.Value.(*entry).payload
}

// Put stores payload under key, evicting the least recently used entry when
// the cache is full. Empty payloads are not stored.
func (c *Cache) Put(key string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).payload = payload
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&entry{key: key, payload: payload})
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
}

// Len reports the number of cached documents.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Counters returns cumulative hit and miss counts.
func (c *Cache) Counters() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func sortedKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
