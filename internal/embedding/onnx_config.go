package embedding

import (
	"fmt"
)

// Output tensor names understood by the onnx provider.
const (
	// ONNXOutputPooled is a [1, dims] sentence embedding produced by the model itself.
	ONNXOutputPooled = "output"
	// ONNXOutputHiddenState is a [1, tokens, dims] tensor that is mean-pooled over the attention mask.
	ONNXOutputHiddenState = "last_hidden_state"

	defaultONNXMaxTokens = 256
)

var onnxInputNames = []string{"input_ids", "attention_mask", "token_type_ids"}

// ONNXConfig configures the onnx provider.
type ONNXConfig struct {
	ModelPath string
	// VocabPath is a WordPiece vocab.txt. Without it a hash tokenizer is used, which only
	// suits smoke tests.
	VocabPath  string
	Dimensions int
	MaxTokens  int
	// OutputName is ONNXOutputPooled (default) or ONNXOutputHiddenState.
	OutputName string
}

func (c *ONNXConfig) validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("onnx embedder: model path is required")
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("onnx embedder: dimensions must be positive, got %d", c.Dimensions)
	}
	switch c.OutputName {
	case "":
		c.OutputName = ONNXOutputPooled
	case ONNXOutputPooled, ONNXOutputHiddenState:
	default:
		return fmt.Errorf("onnx embedder: unsupported output %q (supported: %s, %s)",
			c.OutputName, ONNXOutputPooled, ONNXOutputHiddenState)
	}
	return nil
}

func (c *ONNXConfig) maxTokens() int {
	if c.MaxTokens < 2 {
		return defaultONNXMaxTokens
	}
	return c.MaxTokens
}

func (c *ONNXConfig) tokenizer() (Tokenizer, error) {
	if c.VocabPath == "" {
		return HashTokenizer{}, nil
	}
	return LoadWordPieceVocab(c.VocabPath, true)
}

// meanPool averages the token rows of hidden ([tokens*dims], row-major) whose mask is set.
func meanPool(hidden []float32, mask []int64, dims int) []float32 {
	out := make([]float32, dims)
	var n float32
	for tok, m := range mask {
		if m == 0 || (tok+1)*dims > len(hidden) {
			continue
		}
		row := hidden[tok*dims : (tok+1)*dims]
		for i, v := range row {
			out[i] += v
		}
		n++
	}
	if n > 0 {
		for i := range out {
			out[i] /= n
		}
	}
	return out
}
