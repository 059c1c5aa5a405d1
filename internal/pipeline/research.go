package pipeline

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/conductor/internal/state"
)

// research runs the hybrid retrieval engine over the indexed corpus and
// carries the ranked context into state. Routes that never consult memory
// skip the lookup entirely.
func (p *Pipeline) research(ctx context.Context, st state.State) (state.State, error) {
	if st.Route == RouteDirect || st.Route == RouteTools {
		return st, nil
	}
	st.MemoryQuery = st.Input
	res, err := p.engine.Search(ctx, st.MemoryQuery)
	if err != nil {
		return state.State{}, fmt.Errorf("research: %w", err)
	}
	st.MemoryDocs = make([]state.MemoryDoc, 0, len(res.Hits))
	for _, hit := range res.Hits {
		st.MemoryDocs = append(st.MemoryDocs, state.MemoryDoc{
			ID:           hit.Doc.ID,
			Text:         hit.Doc.Text,
			Source:       hit.Doc.Source,
			EmbedScore:   hit.EmbedScore,
			KeywordScore: hit.KeywordScore,
			FinalScore:   hit.FinalScore,
			Matched:      hit.Matched,
		})
	}
	st.MemoryUsed = len(st.MemoryDocs) > 0
	st.CacheHit = res.CacheHit
	st.RetrievalLatency = res.Elapsed.Seconds()
	return st, nil
}
