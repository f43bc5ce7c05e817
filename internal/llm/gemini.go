package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/hyperjump/secondbrain/internal/models"
)

// GeminiConfig holds the Gemini generation settings.
type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// GeminiGenerator generates text with the Gemini API.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiGenerator creates a Gemini generator.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini generator: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini generator: model is required")
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
	return &GeminiGenerator{client: client, model: cfg.Model, temperature: cfg.Temperature}, nil
}

// Generate sends the prompt with the system text as system instruction.
func (g *GeminiGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), geminiConfig(system, g.temperature))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %v: %w", err, models.ErrExternal)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates: %w", models.ErrExternal)
	}
	return resp.Text(), nil
}

func geminiConfig(system string, temperature float32) *genai.GenerateContentConfig {
	t := temperature
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       &t,
	}
}

// Name returns "gemini".
func (g *GeminiGenerator) Name() string {
	return "gemini"
}
