package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/conductor/internal/retrieval"
	"github.com/mohammad-safakhou/conductor/internal/state"
)

// blockedTerms trips the static moderator. Deliberately small: the static
// provider exists for deterministic local runs and tests, not real safety.
var blockedTerms = []string{"terror", "self-harm", "bomb"}

// Static is a deterministic, offline provider. Generation summarizes the
// prompt, embeddings come from the token-hash embedder, and moderation is a
// keyword check.
type Static struct {
	embedder retrieval.HashEmbedder
}

// NewStatic builds the offline provider.
func NewStatic() *Static {
	return &Static{embedder: retrieval.NewHashEmbedder(64)}
}

func (s *Static) Generate(ctx context.Context, system, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	head := lines[0]
	if len(head) > 200 {
		head = head[:200]
	}
	if strings.Contains(strings.ToLower(system), "review") {
		return strings.TrimSpace(prompt), nil
	}
	return fmt.Sprintf("Based on the available context: %s", head), nil
}

func (s *Static) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return s.embedder.Embed(ctx, texts)
}

func (s *Static) Moderate(ctx context.Context, text string) (state.Verdict, error) {
	lower := strings.ToLower(text)
	for _, term := range blockedTerms {
		if strings.Contains(lower, term) {
			return state.Verdict{Flagged: true, Reason: term}, nil
		}
	}
	return state.Verdict{}, nil
}

var _ Provider = (*Static)(nil)
