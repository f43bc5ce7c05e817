package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/secondbrain/internal/metrics"
	"github.com/hyperjump/secondbrain/internal/models"
)

// Cached serves repeated texts from an LRU cache and forwards only misses to the wrapped embedder.
type Cached struct {
	inner Embedder
	cache *EmbeddingCache
}

// NewCached wraps inner with a cache of the given capacity.
func NewCached(inner Embedder, capacity int) *Cached {
	return &Cached{inner: inner, cache: NewEmbeddingCache(capacity)}
}

// Embed embeds one text, served from the cache when it has been seen.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, c, text)
}

// EmbedBatch looks up every text, embeds the misses in one inner call, and preserves input order.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
			continue
		}
		metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs: %w", len(vecs), len(missTexts), models.ErrExternal)
	}
	for j, v := range vecs {
		out[missIdx[j]] = v
		c.cache.Set(missTexts[j], v)
	}
	return out, nil
}

// Dimensions returns the wrapped embedder's vector length.
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Name returns the wrapped embedder's name.
func (c *Cached) Name() string { return c.inner.Name() }

// Close closes the wrapped embedder. Cached vectors are kept.
func (c *Cached) Close() error { return c.inner.Close() }
