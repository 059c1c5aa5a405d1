package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/conductor/internal/retrieval"
)

// SearchTool answers keyword queries over the corpus through an in-memory
// bleve index. This is the planner-facing lookup; the ranked hybrid
// retrieval lives in internal/retrieval.
type SearchTool struct {
	index bleve.Index
	docs  map[string]retrieval.Document
}

// NewSearchTool indexes the corpus for full-text queries.
func NewSearchTool(docs []retrieval.Document) (*SearchTool, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("tools: create search index: %w", err)
	}
	byID := make(map[string]retrieval.Document, len(docs))
	for _, doc := range docs {
		if err := index.Index(doc.ID, doc); err != nil {
			return nil, fmt.Errorf("tools: index %s: %w", doc.ID, err)
		}
		byID[doc.ID] = doc
	}
	return &SearchTool{index: index, docs: byID}, nil
}

func (s *SearchTool) Name() string { return "search" }

func (s *SearchTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("search requires a query argument")
	}
	k := intArg(args, "k", 3)

	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), k, 0, false)
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	if len(res.Hits) == 0 {
		return "no matches", nil
	}
	var b strings.Builder
	for i, hit := range res.Hits {
		doc := s.docs[hit.ID]
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] (%.3f) %s", hit.ID, hit.Score, snippet(doc.Text, 160))
	}
	return b.String(), nil
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}
