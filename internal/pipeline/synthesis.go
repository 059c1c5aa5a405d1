package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/conductor/internal/state"
)

const synthesisSystem = "You answer user questions using only the supplied context and tool output. Be concise and factual."

// synthesize drafts the answer from the question, retrieved context, and
// tool output.
func (p *Pipeline) synthesize(ctx context.Context, st state.State) (state.State, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", st.Input)
	if len(st.MemoryDocs) > 0 {
		b.WriteString("\nContext:\n")
		for i, doc := range st.MemoryDocs {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, doc.Text)
		}
	}
	if len(st.ToolResults) > 0 {
		b.WriteString("\nTool output:\n")
		for _, tr := range st.ToolResults {
			if tr.Error != "" {
				fmt.Fprintf(&b, "- %s failed: %s\n", tr.Tool, tr.Error)
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", tr.Tool, tr.Output)
		}
	}

	answer, err := p.llm.Generate(ctx, synthesisSystem, b.String())
	if err != nil {
		return state.State{}, fmt.Errorf("synthesis: %w", err)
	}
	st.DraftAnswer = answer
	st.Answer = answer
	return st, nil
}
