package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/secondbrain/internal/metrics"
	"github.com/hyperjump/secondbrain/internal/models"
)

// Instrumented bounds provider calls with a timeout, records metrics, and makes sure
// every failure is reported as models.ErrExternal.
type Instrumented struct {
	inner   Embedder
	timeout time.Duration
	logger  *zap.Logger
}

// NewInstrumented wraps inner. A zero timeout leaves calls bounded only by the caller's context.
func NewInstrumented(inner Embedder, timeout time.Duration, logger *zap.Logger) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{inner: inner, timeout: timeout, logger: logger}
}

// Embed embeds one text through EmbedBatch.
func (e *Instrumented) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

// EmbedBatch calls the provider once for the whole batch. An empty batch never reaches the provider.
func (e *Instrumented) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	provider := e.inner.Name()
	start := time.Now()
	out, err := e.inner.EmbedBatch(ctx, texts)
	elapsed := time.Since(start)
	metrics.ExternalRequestDuration.WithLabelValues(metrics.CapabilityEmbedding, provider).Observe(elapsed.Seconds())

	if err == nil && len(out) != len(texts) {
		err = fmt.Errorf("provider returned %d vectors for %d inputs", len(out), len(texts))
	}
	if err != nil {
		status := metrics.StatusError
		if errors.Is(err, context.DeadlineExceeded) {
			status = metrics.StatusTimeout
		}
		metrics.ExternalRequestsTotal.WithLabelValues(metrics.CapabilityEmbedding, provider, status).Inc()
		e.logger.Warn("embedding request failed",
			zap.String("provider", provider), zap.Int("texts", len(texts)),
			zap.Duration("elapsed", elapsed), zap.Error(err))
		if !errors.Is(err, models.ErrExternal) {
			err = fmt.Errorf("embed %d texts with %s: %v: %w", len(texts), provider, err, models.ErrExternal)
		}
		return nil, err
	}

	metrics.ExternalRequestsTotal.WithLabelValues(metrics.CapabilityEmbedding, provider, metrics.StatusOK).Inc()
	metrics.EmbeddedTextsTotal.WithLabelValues(provider).Add(float64(len(texts)))
	e.logger.Debug("embedded texts",
		zap.String("provider", provider), zap.Int("texts", len(texts)), zap.Duration("elapsed", elapsed))
	return out, nil
}

// Dimensions returns the wrapped provider's vector length.
func (e *Instrumented) Dimensions() int { return e.inner.Dimensions() }

// Name returns the wrapped provider's name, so metrics are labelled by provider.
func (e *Instrumented) Name() string { return e.inner.Name() }

// Close closes the wrapped provider.
func (e *Instrumented) Close() error { return e.inner.Close() }
