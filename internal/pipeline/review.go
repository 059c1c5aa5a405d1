package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/conductor/internal/state"
)

const reviewSystem = "You review an answer for clarity and correctness. Return the improved answer text only."

// review polishes the audited answer and records a critique artifact. The
// reviewed answer becomes the authoritative one.
func (p *Pipeline) review(ctx context.Context, st state.State) (state.State, error) {
	if st.Halted() || st.Answer == "" {
		return st, nil
	}
	system := fmt.Sprintf("%s The question was: %s", reviewSystem, st.Input)
	reviewed, err := p.llm.Generate(ctx, system, st.Answer)
	if err != nil {
		return state.State{}, fmt.Errorf("review: %w", err)
	}
	reviewed = strings.TrimSpace(reviewed)
	if reviewed == "" {
		reviewed = st.Answer
	}
	st.ReviewedAnswer = reviewed
	if st.Artifacts == nil {
		st.Artifacts = map[string]any{}
	}
	st.Artifacts["review_critique"] = map[string]any{
		"changed": reviewed != st.Answer,
		"length":  len(reviewed),
	}
	return st, nil
}
