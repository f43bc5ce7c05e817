package embedding

import (
	"context"
	"hash/fnv"
	"math/rand/v2"

	"github.com/hyperjump/secondbrain/pkg/utils"
)

// MockEmbedder derives a unit vector from a hash of the text. Equal texts get equal vectors and
// unrelated texts get near-orthogonal ones; there is no semantic similarity. Used by tests and
// the "mock" provider for offline runs.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a mock embedder. A non-positive dimension defaults to 384.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns the unit vector seeded by the text's hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	vec := make([]float32, e.dimensions)
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds each text in order.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

// Dimensions returns the configured vector length.
func (e *MockEmbedder) Dimensions() int { return e.dimensions }

// Name returns "mock".
func (e *MockEmbedder) Name() string { return "mock" }

// Close is a no-op.
func (e *MockEmbedder) Close() error { return nil }
