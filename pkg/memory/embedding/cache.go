package embedding

import (
	"container/list"
	"context"
	"hash/fnv"
	"strconv"
	"sync"
)

// CachedProvider wraps a Provider with a bounded LRU cache keyed by a
// stable hash of the input text. Cache hits bypass the underlying
// transport entirely.
type CachedProvider struct {
	inner Provider

	mu      sync.Mutex
	maxSize int
	order   *list.List               // front = most recent
	items   map[string]*list.Element // key → element whose Value is *cacheItem
}

type cacheItem struct {
	key string
	vec []float32
}

// NewCachedProvider wraps inner with an LRU of maxSize entries.
// A non-positive size disables caching.
func NewCachedProvider(inner Provider, maxSize int) *CachedProvider {
	return &CachedProvider{
		inner:   inner,
		maxSize: maxSize,
		order:   list.New(),
		items:   make(map[string]*list.Element),
	}
}

func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	key := cacheKey(text)
	if vec, ok := c.get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(key, vec)
	return vec, nil
}

func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	// Resolve hits first; collect misses for one underlying batch call.
	var missTexts []string
	var missIdx []int
	for i, t := range texts {
		if vec, ok := c.get(cacheKey(t)); ok {
			results[i] = vec
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vecs, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			results[missIdx[j]] = vec
			c.put(cacheKey(missTexts[j]), vec)
		}
	}
	return results, nil
}

// Len returns the number of cached vectors.
func (c *CachedProvider) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *CachedProvider) get(key string) ([]float32, bool) {
	if c.maxSize <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	vec := elem.Value.(*cacheItem).vec
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

func (c *CachedProvider) put(key string, vec []float32) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheItem).vec = vec
		return
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.items[key] = c.order.PushFront(&cacheItem{key: key, vec: stored})

	for len(c.items) > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
}

// cacheKey is a stable FNV-1a hash of the input text.
func cacheKey(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return strconv.FormatUint(h.Sum64(), 16)
}
