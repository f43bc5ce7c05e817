// Package search answers questions from the stored notes.
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/secondbrain/internal/config"
	"github.com/hyperjump/secondbrain/internal/embedding"
	"github.com/hyperjump/secondbrain/internal/models"
	"github.com/hyperjump/secondbrain/internal/vector"
)

// DefaultTopK is the number of notes retrieved when neither the request nor the config sets one.
const DefaultTopK = 5

// Composer produces a grounded answer from a question and ordered context snippets.
type Composer interface {
	Compose(ctx context.Context, question string, contexts []string) (string, error)
}

// Engine embeds a question, retrieves the closest notes, and composes an answer from them.
type Engine struct {
	embedder embedding.Embedder
	index    vector.Index
	composer Composer
	config   *config.RetrievalConfig
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for per-question debug output.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an engine with the given dependencies. A nil cfg uses DefaultTopK.
func NewEngine(
	embedder embedding.Embedder,
	index vector.Index,
	composer Composer,
	cfg *config.RetrievalConfig,
	opts ...EngineOption,
) *Engine {
	if cfg == nil {
		cfg = &config.RetrievalConfig{DefaultTopK: DefaultTopK}
	}
	e := &Engine{
		embedder: embedder,
		index:    index,
		composer: composer,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Ask answers req from the stored notes.
//
// An empty question fails with models.ErrInvalidArgument before anything is embedded.
// When no note matches, the fixed models.NoMatchesAnswer is returned without calling
// the composer. Embedding failures and index errors are returned as-is.
func (e *Engine) Ask(ctx context.Context, req *models.AskRequest) (*models.AskResponse, error) {
	startTime := time.Now()
	if req == nil {
		return nil, fmt.Errorf("request is required: %w", models.ErrInvalidArgument)
	}
	if err := ProcessQuery(req, e.config.DefaultTopK); err != nil {
		return nil, err
	}

	vecs, err := e.embedder.EmbedBatch(ctx, []string{req.Question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one question: %w", len(vecs), models.ErrExternal)
	}

	matches, err := e.index.Query(ctx, vecs[0], req.TopK)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		e.logger.Debug("no matching notes", zap.String("question", req.Question))
		return &models.AskResponse{Answer: models.NoMatchesAnswer, Contexts: []*models.Context{}}, nil
	}

	texts := make([]string, len(matches))
	contexts := make([]*models.Context, len(matches))
	for i, m := range matches {
		texts[i] = m.Content
		md := m.Metadata
		if md == nil {
			md = map[string]any{}
		}
		contexts[i] = &models.Context{Text: m.Content, Metadata: md}
	}

	answer, err := e.composer.Compose(ctx, req.Question, texts)
	if err != nil {
		return nil, fmt.Errorf("compose answer: %w", err)
	}

	e.logger.Debug("answered question",
		zap.String("question", req.Question),
		zap.Int("top_k", req.TopK),
		zap.Int("contexts", len(contexts)),
		zap.Float64("best_score", matches[0].Score),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return &models.AskResponse{Answer: answer, Contexts: contexts}, nil
}
