package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/hyperjump/secondbrain/internal/models"
)

type fakeGenerator struct {
	text  string
	err   error
	delay time.Duration
}

func (f *fakeGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func (f *fakeGenerator) Name() string { return "fake" }

func TestInstrumented_Generate(t *testing.T) {
	tests := []struct {
		name    string
		inner   *fakeGenerator
		want    string
		wantErr bool
	}{
		{"ok", &fakeGenerator{text: "answer"}, "answer", false},
		{"provider error", &fakeGenerator{err: errors.New("503")}, "", true},
		{"empty completion", &fakeGenerator{text: "  \n"}, "", true},
		{"timeout", &fakeGenerator{text: "late", delay: time.Second}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewInstrumented(tt.inner, 20*time.Millisecond, nil)
			got, err := g.Generate(context.Background(), "sys", "prompt")
			if tt.wantErr {
				if !errors.Is(err, models.ErrExternal) {
					t.Fatalf("expected ErrExternal, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Generate = %q, %v", got, err)
			}
		})
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), Options{Provider: "llama"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestGeminiConfig(t *testing.T) {
	cfg := geminiConfig("only use notes", 0.2)
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "only use notes" {
		t.Errorf("SystemInstruction = %+v", cfg.SystemInstruction)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.2 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
	if cfg.SystemInstruction.Role != string(genai.RoleUser) {
		t.Errorf("Role = %s", cfg.SystemInstruction.Role)
	}
}
