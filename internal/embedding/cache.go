package embedding

import (
	"container/list"
	"crypto/sha256"
	"sync"
)

// cacheKey is the SHA-256 of the text, so long note bodies are not kept as map keys.
type cacheKey [sha256.Size]byte

type cacheSlot struct {
	key    cacheKey
	vector []float32
}

// EmbeddingCache is a fixed-capacity LRU of embeddings keyed by text. Vectors are copied
// in and out so callers can never alias cached data.
type EmbeddingCache struct {
	mu       sync.Mutex
	capacity int
	slots    map[cacheKey]*list.Element
	recency  *list.List // front is most recently used
}

// NewEmbeddingCache returns a cache holding at most capacity vectors. A capacity of zero
// or less stores nothing.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		slots:    make(map[cacheKey]*list.Element),
		recency:  list.New(),
	}
}

func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	key := sha256.Sum256([]byte(text))
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.slots[key]
	if !ok {
		return nil, false
	}
	c.recency.MoveToFront(el)
	return cloneVector(el.Value.(*cacheSlot).vector), true
}

func (c *EmbeddingCache) Set(text string, vector []float32) {
	if c.capacity <= 0 {
		return
	}
	key := sha256.Sum256([]byte(text))
	stored := cloneVector(vector)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.slots[key]; ok {
		el.Value.(*cacheSlot).vector = stored
		c.recency.MoveToFront(el)
		return
	}
	c.slots[key] = c.recency.PushFront(&cacheSlot{key: key, vector: stored})
	for c.recency.Len() > c.capacity {
		oldest := c.recency.Back()
		c.recency.Remove(oldest)
		delete(c.slots, oldest.Value.(*cacheSlot).key)
	}
}

// Len returns the number of cached vectors.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

func cloneVector(v []float32) []float32 {
	return append([]float32(nil), v...)
}
