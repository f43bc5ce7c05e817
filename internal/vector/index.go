// Package vector provides durable vector indices with cosine similarity search.
package vector

import (
	"context"
	"fmt"
	"math"

	"github.com/hyperjump/secondbrain/internal/models"
)

// Index stores one entry per note id and answers top-k similarity queries.
// Writes are durable before they return.
type Index interface {
	Add(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, vector []float32, k int) ([]*Match, error)
	Get(ctx context.Context, id string) (*Entry, error)
	Remove(ctx context.Context, id string) error
	IDs(ctx context.Context) ([]string, error)
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// Entry is a stored vector with the note text it was computed from and scalar metadata.
type Entry struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]any
}

// Match is a query hit. Score is the cosine similarity to the query vector.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// validateEntry checks an entry against the established dimension (0 = not yet established).
func validateEntry(e *Entry, dims int) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("entry id is required: %w", models.ErrInvalidArgument)
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("entry %s has an empty vector: %w", e.ID, models.ErrInvalidArgument)
	}
	if dims > 0 && len(e.Vector) != dims {
		return fmt.Errorf("vector for %s has %d dimensions, index has %d: %w", e.ID, len(e.Vector), dims, models.ErrDimensionMismatch)
	}
	for i, v := range e.Vector {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("vector for %s has non-finite value at %d: %w", e.ID, i, models.ErrInvalidArgument)
		}
	}
	return validateMetadata(e.Metadata)
}

// validateMetadata allows only scalar values so metadata survives any persistence format.
func validateMetadata(md map[string]any) error {
	for k, v := range md {
		switch v.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			return fmt.Errorf("metadata %q has non-scalar value of type %T: %w", k, v, models.ErrInvalidArgument)
		}
	}
	return nil
}

func copyMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

func copyEntry(e *Entry) *Entry {
	vec := make([]float32, len(e.Vector))
	copy(vec, e.Vector)
	return &Entry{ID: e.ID, Vector: vec, Content: e.Content, Metadata: copyMetadata(e.Metadata)}
}
