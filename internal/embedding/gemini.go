package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/hyperjump/secondbrain/internal/models"
)

// GeminiConfig holds the Gemini embedding provider settings.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions sets the output dimensionality when > 0.
	Dimensions int
}

// GeminiEmbedder embeds text with the Gemini API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	requested  int
	dimensions atomic.Int64
}

// NewGeminiEmbedder creates a Gemini embedding provider.
func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini embedder: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini embedder: model is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	e := &GeminiEmbedder{client: client, model: cfg.Model, requested: cfg.Dimensions}
	e.dimensions.Store(int64(cfg.Dimensions))
	return e, nil
}

// Embed returns the embedding for one text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

// EmbedBatch embeds all texts in one request, one content per text.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, geminiContents(texts), e.embedConfig())
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %v: %w", err, models.ErrExternal)
	}
	out, err := geminiVectors(resp, len(texts))
	if err != nil {
		return nil, err
	}
	e.dimensions.CompareAndSwap(0, int64(len(out[0])))
	return out, nil
}

func (e *GeminiEmbedder) embedConfig() *genai.EmbedContentConfig {
	cfg := &genai.EmbedContentConfig{}
	if e.requested > 0 {
		dims := int32(e.requested)
		cfg.OutputDimensionality = &dims
	}
	return cfg
}

func geminiContents(texts []string) []*genai.Content {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	return contents
}

func geminiVectors(resp *genai.EmbedContentResponse, want int) ([][]float32, error) {
	if resp == nil || len(resp.Embeddings) != want {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs: %w", got, want, models.ErrExternal)
	}
	out := make([][]float32, want)
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("gemini returned an empty embedding at %d: %w", i, models.ErrExternal)
		}
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions returns the configured or observed vector length.
func (e *GeminiEmbedder) Dimensions() int {
	return int(e.dimensions.Load())
}

// Name returns "gemini".
func (e *GeminiEmbedder) Name() string {
	return "gemini"
}

// Close is a no-op; the client holds no resources that need releasing.
func (e *GeminiEmbedder) Close() error {
	return nil
}
