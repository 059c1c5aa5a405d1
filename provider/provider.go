package provider

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/conductor/config"
	"github.com/mohammad-safakhou/conductor/internal/state"
)

// Provider is the language-model surface the pipeline depends on: text
// generation for synthesis and review, embeddings for retrieval, and
// moderation for the governance gate.
type Provider interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Moderate(ctx context.Context, text string) (state.Verdict, error)
}

// New selects a provider from config. The static provider is the default and
// needs no credentials.
func New(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "static":
		return NewStatic(), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider: openai requires llm.api_key")
		}
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("provider: unknown provider %q", cfg.Provider)
	}
}
