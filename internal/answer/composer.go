// Package answer composes grounded answers from retrieved note snippets.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/secondbrain/internal/llm"
	"github.com/hyperjump/secondbrain/internal/models"
)

// SystemPrompt instructs the model to answer only from the supplied notes.
const SystemPrompt = "You are an AI assistant that only answers using the user's personal notes. " +
	"You must ground your answers in the provided context snippets. " +
	"If the notes do not contain the information, say you don't know."

// ContextSeparator is placed between context snippets in the user prompt.
const ContextSeparator = "\n\n---\n\n"

// Composer turns a question and retrieved contexts into one generation call.
type Composer struct {
	generator llm.Generator
}

// NewComposer creates a composer backed by generator.
func NewComposer(generator llm.Generator) *Composer {
	return &Composer{generator: generator}
}

// Compose asks the generator once and returns the trimmed answer. Contexts are used in the given order.
func (c *Composer) Compose(ctx context.Context, question string, contexts []string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("question cannot be empty: %w", models.ErrInvalidArgument)
	}
	out, err := c.generator.Generate(ctx, SystemPrompt, BuildUserPrompt(question, contexts))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// BuildUserPrompt renders the user message sent with SystemPrompt.
func BuildUserPrompt(question string, contexts []string) string {
	var b strings.Builder
	b.WriteString("Context from the user's notes:\n")
	b.WriteString(strings.Join(contexts, ContextSeparator))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer concisely and mention which note/topic you used when possible.")
	return b.String()
}
