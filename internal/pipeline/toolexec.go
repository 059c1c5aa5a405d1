package pipeline

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/conductor/internal/governance"
	"github.com/mohammad-safakhou/conductor/internal/state"
)

// executeTools runs every planned tool call through the registry. The gate
// has already stripped disallowed entries, so whatever is in PlannedTools
// is executable. Individual failures land in ToolErrors; the step itself
// only fails on infrastructure problems.
func (p *Pipeline) executeTools(ctx context.Context, st state.State) (state.State, error) {
	for i, spec := range st.PlannedTools {
		callID := fmt.Sprintf("call-%d", i+1)
		result := p.registry.Execute(ctx, callID, spec)
		st.ToolResults = append(st.ToolResults, result)
		st.UsedTools = append(st.UsedTools, governance.NormalizeToolName(spec))
		if result.Error != "" {
			st.ToolErrors = append(st.ToolErrors, fmt.Sprintf("%s: %s", result.Tool, result.Error))
		}
	}
	return st, nil
}
