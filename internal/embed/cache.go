package embed

import (
	"container/list"
	"context"
	"sync"

	"github.com/ricesearch/rice-eval/internal/metrics"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/hash"
)

// DefaultCacheSize bounds a Cache created with a non-positive size.
const DefaultCacheSize = 1000

type cacheEntry struct {
	key string
	vec []float32
}

// Cache is an LRU of query vectors keyed by the hash of their text.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front is most recent
	maxSize int
}

// NewCache creates a cache holding at most maxSize vectors.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Get returns a copy of the cached vector for text.
func (c *Cache) Get(text string) ([]float32, bool) {
	key := hash.SHA256String(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return clone(el.Value.(*cacheEntry).vec), true
}

// Set stores a copy of vec, evicting the least recently used entry when full.
func (c *Cache) Set(text string, vec []float32) {
	key := hash.SHA256String(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).vec = clone(vec)
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, vec: clone(vec)})
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// Cached is an Embedder that consults a Cache before calling the next one.
type Cached struct {
	next    Embedder
	cache   *Cache
	metrics *metrics.Metrics
}

// NewCached wraps next with an LRU of size entries. m may be nil.
func NewCached(next Embedder, size int, m *metrics.Metrics) *Cached {
	return &Cached{next: next, cache: NewCache(size), metrics: m}
}

// Embed implements Embedder. Only texts missing from the cache reach next.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var slots []int

	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			c.metrics.RecordEmbeddingCache(true)
			out[i] = v
			continue
		}
		c.metrics.RecordEmbeddingCache(false)
		missing = append(missing, t)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, apperrors.BackendError("embedding service returned a short batch", nil)
	}
	for j, v := range vecs {
		c.cache.Set(missing[j], v)
		out[slots[j]] = v
	}
	return out, nil
}
