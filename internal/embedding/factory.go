package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// Options selects and configures an embedding provider.
type Options struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	// ModelPath, VocabPath, OutputName and MaxTokens apply to the onnx provider.
	ModelPath  string
	VocabPath  string
	OutputName string
	MaxTokens  int
	Timeout    time.Duration
	CacheSize  int
	Logger     *zap.Logger
}

// New builds the configured provider wrapped with instrumentation and, when CacheSize > 0, a cache.
func New(ctx context.Context, opts Options) (Embedder, error) {
	var (
		base Embedder
		err  error
	)
	switch opts.Provider {
	case ProviderOpenAI, "":
		base, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey: opts.APIKey, BaseURL: opts.BaseURL, Model: opts.Model, Dimensions: opts.Dimensions,
		})
	case ProviderGemini:
		base, err = NewGeminiEmbedder(ctx, GeminiConfig{
			APIKey: opts.APIKey, BaseURL: opts.BaseURL, Model: opts.Model, Dimensions: opts.Dimensions,
		})
	case ProviderONNX:
		base, err = NewONNXEmbedder(ONNXConfig{
			ModelPath: opts.ModelPath, VocabPath: opts.VocabPath, OutputName: opts.OutputName,
			Dimensions: opts.Dimensions, MaxTokens: opts.MaxTokens,
		})
	case ProviderMock:
		base = NewMockEmbedder(opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, gemini, onnx, mock)", opts.Provider)
	}
	if err != nil {
		return nil, err
	}

	var e Embedder = NewInstrumented(base, opts.Timeout, opts.Logger)
	if opts.CacheSize > 0 {
		e = NewCached(e, opts.CacheSize)
	}
	return e, nil
}
