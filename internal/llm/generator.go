// Package llm provides text generation adapters used to compose answers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/secondbrain/internal/metrics"
	"github.com/hyperjump/secondbrain/internal/models"
)

// Generator produces text from system instructions and a user prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Options selects and configures a generation provider.
type Options struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
	Logger      *zap.Logger
}

// New builds the configured generator wrapped with instrumentation.
func New(ctx context.Context, opts Options) (Generator, error) {
	var (
		g   Generator
		err error
	)
	switch opts.Provider {
	case ProviderOpenAI, "":
		g, err = NewOpenAIGenerator(OpenAIConfig{
			APIKey: opts.APIKey, BaseURL: opts.BaseURL, Model: opts.Model, Temperature: opts.Temperature,
		})
	case ProviderGemini:
		g, err = NewGeminiGenerator(ctx, GeminiConfig{
			APIKey: opts.APIKey, BaseURL: opts.BaseURL, Model: opts.Model, Temperature: opts.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown generation provider: %s (supported: openai, gemini)", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewInstrumented(g, opts.Timeout, opts.Logger), nil
}

// Instrumented bounds generation calls with a timeout, records metrics, and reports
// every failure as models.ErrExternal.
type Instrumented struct {
	inner   Generator
	timeout time.Duration
	logger  *zap.Logger
}

// NewInstrumented wraps inner. A zero timeout leaves calls bounded only by the caller's context.
func NewInstrumented(inner Generator, timeout time.Duration, logger *zap.Logger) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{inner: inner, timeout: timeout, logger: logger}
}

// Generate calls the wrapped generator under the timeout. A blank completion counts as a failure.
func (g *Instrumented) Generate(ctx context.Context, system, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	provider := g.inner.Name()
	start := time.Now()
	text, err := g.inner.Generate(ctx, system, prompt)
	elapsed := time.Since(start)
	metrics.ExternalRequestDuration.WithLabelValues(metrics.CapabilityGeneration, provider).Observe(elapsed.Seconds())

	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		status := metrics.StatusError
		if errors.Is(err, context.DeadlineExceeded) {
			status = metrics.StatusTimeout
		}
		metrics.ExternalRequestsTotal.WithLabelValues(metrics.CapabilityGeneration, provider, status).Inc()
		g.logger.Warn("generation request failed",
			zap.String("provider", provider), zap.Duration("elapsed", elapsed), zap.Error(err))
		if !errors.Is(err, models.ErrExternal) {
			err = fmt.Errorf("generate with %s: %v: %w", provider, err, models.ErrExternal)
		}
		return "", err
	}

	metrics.ExternalRequestsTotal.WithLabelValues(metrics.CapabilityGeneration, provider, metrics.StatusOK).Inc()
	g.logger.Debug("generated answer",
		zap.String("provider", provider), zap.Int("prompt_chars", len(prompt)), zap.Duration("elapsed", elapsed))
	return text, nil
}

// Name returns the wrapped generator's name.
func (g *Instrumented) Name() string { return g.inner.Name() }
