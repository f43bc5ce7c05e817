//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/secondbrain/internal/models"
	"github.com/hyperjump/secondbrain/pkg/utils"
)

// ONNXEmbedder runs a local BERT-style sentence model with ONNX Runtime. Requires CGO and the
// onnxruntime shared library. The session is bound to fixed tensors, so calls are serialized.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
	pooling    bool

	inputs []*ort.Tensor[int64] // input_ids, attention_mask, token_type_ids
	output *ort.Tensor[float32]
}

// NewONNXEmbedder loads the model described by cfg, initializing the runtime on first use.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tokenizer, err := cfg.tokenizer()
	if err != nil {
		return nil, err
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize ONNX runtime: %w", err)
		}
	}

	e := &ONNXEmbedder{
		tokenizer:  tokenizer,
		dimensions: cfg.Dimensions,
		maxTokens:  cfg.maxTokens(),
		pooling:    cfg.OutputName == ONNXOutputHiddenState,
	}
	inputShape := ort.NewShape(1, int64(e.maxTokens))
	for _, name := range onnxInputNames {
		t, err := ort.NewEmptyTensor[int64](inputShape)
		if err != nil {
			e.destroyTensors()
			return nil, fmt.Errorf("create %s tensor: %w", name, err)
		}
		e.inputs = append(e.inputs, t)
	}
	outputShape := ort.NewShape(1, int64(e.dimensions))
	if e.pooling {
		outputShape = ort.NewShape(1, int64(e.maxTokens), int64(e.dimensions))
	}
	if e.output, err = ort.NewEmptyTensor[float32](outputShape); err != nil {
		e.destroyTensors()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	inputs := make([]ort.ArbitraryTensor, len(e.inputs))
	for i, t := range e.inputs {
		inputs[i] = t
	}
	e.session, err = ort.NewAdvancedSession(cfg.ModelPath, onnxInputNames, []string{cfg.OutputName},
		inputs, []ort.ArbitraryTensor{e.output}, nil)
	if err != nil {
		e.destroyTensors()
		return nil, fmt.Errorf("create ONNX session for %s: %w", cfg.ModelPath, err)
	}
	return e, nil
}

// Embed tokenizes text, runs the model, and returns the L2-normalized vector.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("onnx embedder is closed: %w", models.ErrExternal)
	}

	enc := e.tokenizer.Encode(text, e.maxTokens)
	copy(e.inputs[0].GetData(), enc.InputIDs)
	copy(e.inputs[1].GetData(), enc.AttentionMask)
	copy(e.inputs[2].GetData(), enc.TokenTypeIDs)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx inference: %v: %w", err, models.ErrExternal)
	}

	var vec []float32
	if e.pooling {
		vec = meanPool(e.output.GetData(), enc.AttentionMask, e.dimensions)
	} else {
		vec = append([]float32(nil), e.output.GetData()[:e.dimensions]...)
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds texts one at a time; the session is built for a single sequence.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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
func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// Name returns "onnx".
func (e *ONNXEmbedder) Name() string { return ProviderONNX }

// Close releases the session and its tensors. Later calls to Embed fail.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.destroyTensors()
	return err
}

func (e *ONNXEmbedder) destroyTensors() {
	for _, t := range e.inputs {
		_ = t.Destroy()
	}
	e.inputs = nil
	if e.output != nil {
		_ = e.output.Destroy()
		e.output = nil
	}
}
