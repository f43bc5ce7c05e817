// Package embedding provides text embedding providers and decorators for caching and instrumentation.
package embedding

import "context"

// Embedder produces vector embeddings for text.
//
// EmbedBatch returns one vector per input text in input order. An empty batch
// returns an empty result without contacting the provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector length, or 0 when not known until the first call.
	Dimensions() int
	// Name identifies the provider, e.g. "openai".
	Name() string
	Close() error
}

// embedOne embeds a single text through EmbedBatch.
func embedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
