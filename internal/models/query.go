package models

import (
	"fmt"
	"strings"
)

// AskRequest is a question to answer from the stored notes.
type AskRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

// Normalize trims the question and applies defaultTopK when TopK is unset.
// Returns ErrInvalidArgument for an empty question or a negative TopK.
func (q *AskRequest) Normalize(defaultTopK int) error {
	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" {
		return fmt.Errorf("question cannot be empty: %w", ErrInvalidArgument)
	}
	if q.TopK < 0 {
		return fmt.Errorf("top_k must be positive, got %d: %w", q.TopK, ErrInvalidArgument)
	}
	if q.TopK == 0 {
		q.TopK = defaultTopK
	}
	return nil
}
