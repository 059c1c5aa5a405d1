package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mohammad-safakhou/conductor/config"
)

// Hit is a ranked chunk with per-signal diagnostics for highlighting and
// evaluation.
type Hit struct {
	Doc          Chunk    `json:"doc"`
	EmbedScore   float64  `json:"embed_score"`
	KeywordScore float64  `json:"keyword_score"`
	FinalScore   float64  `json:"final_score"`
	Matched      []string `json:"matched,omitempty"`
}

// synonyms is the fixed query-expansion table. Expansion adds keyword match
// terms only; the embedding input is always the raw query.
var synonyms = map[string][]string{
	"error":    {"failure", "fault"},
	"fast":     {"quick", "rapid"},
	"big":      {"large", "huge"},
	"cost":     {"price", "expense"},
	"doc":      {"document", "file"},
	"delete":   {"remove", "drop"},
	"start":    {"begin", "launch"},
	"config":   {"configuration", "settings"},
	"checkout": {"purchase", "payment"},
}

// Engine ranks chunks with a blend of embedding similarity and keyword
// overlap. Candidate generation is embedding-only; the keyword signal is
// applied to the candidate set during rerank.
type Engine struct {
	cfg      config.RetrievalConfig
	embedder Embedder
	cache    Cache
	now      func() time.Time

	chunks  []Chunk
	vectors [][]float64
}

// EngineOption configures engine construction.
type EngineOption func(*Engine)

// WithEmbedder swaps the default hash embedder for another implementation.
func WithEmbedder(e Embedder) EngineOption {
	return func(en *Engine) { en.embedder = e }
}

// WithCache attaches a result cache.
func WithCache(c Cache) EngineOption {
	return func(en *Engine) { en.cache = c }
}

// NewEngine builds an engine from retrieval config.
func NewEngine(cfg config.RetrievalConfig, opts ...EngineOption) *Engine {
	en := &Engine{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(en)
	}
	if en.embedder == nil {
		en.embedder = NewHashEmbedder(cfg.EmbeddingDimensions)
	}
	return en
}

// Index chunks the documents and precomputes their vectors. Replaces any
// previously indexed corpus.
func (en *Engine) Index(ctx context.Context, docs []Document) error {
	var chunks []Chunk
	for _, doc := range docs {
		pieces := Split(doc.Text, en.cfg.ChunkSize, en.cfg.ChunkOverlap)
		for i, piece := range pieces {
			chunks = append(chunks, Chunk{
				ID:     fmt.Sprintf("%s#%d", doc.ID, i),
				DocID:  doc.ID,
				Text:   piece,
				Source: doc.Source,
			})
		}
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := en.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("retrieval: embed corpus: %w", err)
	}
	en.chunks = chunks
	en.vectors = vectors
	return nil
}

// Len reports the number of indexed chunks.
func (en *Engine) Len() int { return len(en.chunks) }

// Result is a ranked response plus cache and latency diagnostics.
type Result struct {
	Hits     []Hit
	CacheHit bool
	Elapsed  time.Duration
}

// Search returns the top-K chunks for the query. Cached rankings are
// returned verbatim and skip the rerank entirely.
func (en *Engine) Search(ctx context.Context, query string) (Result, error) {
	start := en.now()
	key := en.cacheKey(query)
	if en.cache != nil {
		if hits, ok := en.cache.Get(ctx, key); ok {
			return Result{Hits: hits, CacheHit: true, Elapsed: en.now().Sub(start)}, nil
		}
	}

	hits, err := en.rank(ctx, query)
	if err != nil {
		return Result{}, err
	}
	if en.cache != nil {
		en.cache.Set(ctx, key, hits)
	}
	return Result{Hits: hits, Elapsed: en.now().Sub(start)}, nil
}

func (en *Engine) cacheKey(query string) string {
	return fmt.Sprintf("%s|%t|%g|%d|%d|%d",
		query, en.cfg.ExpandQuery, en.cfg.KeywordWeight,
		en.cfg.ChunkSize, en.cfg.ChunkOverlap, en.cfg.TopK)
}

type candidate struct {
	idx   int
	embed float64
	rank  int
}

func (en *Engine) rank(ctx context.Context, query string) ([]Hit, error) {
	if len(en.chunks) == 0 {
		return nil, nil
	}
	vecs, err := en.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	qvec := vecs[0]

	cands := make([]candidate, len(en.chunks))
	for i := range en.chunks {
		cands[i] = candidate{idx: i, embed: Cosine(qvec, en.vectors[i])}
	}
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].embed > cands[b].embed })

	limit := en.cfg.TopK * en.cfg.CandidateMultiplier
	if limit > len(cands) {
		limit = len(cands)
	}
	cands = cands[:limit]
	for i := range cands {
		cands[i].rank = i
	}

	lo, hi := cands[0].embed, cands[0].embed
	for _, c := range cands {
		if c.embed < lo {
			lo = c.embed
		}
		if c.embed > hi {
			hi = c.embed
		}
	}

	terms := en.queryTerms(query)
	w := en.cfg.KeywordWeight
	hits := make([]Hit, 0, len(cands))
	for _, c := range cands {
		normEmbed := 1.0
		if hi > lo {
			normEmbed = (c.embed - lo) / (hi - lo)
		}
		kw, matched := keywordOverlap(terms, en.chunks[c.idx].Text)
		hits = append(hits, Hit{
			Doc:          en.chunks[c.idx],
			EmbedScore:   c.embed,
			KeywordScore: kw,
			FinalScore:   (1-w)*normEmbed + w*kw,
			Matched:      matched,
		})
	}

	// Ties resolve to the better embedding rank, which is the incoming
	// candidate order, so a stable sort suffices.
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].FinalScore > hits[b].FinalScore })
	if len(hits) > en.cfg.TopK {
		hits = hits[:en.cfg.TopK]
	}
	return hits, nil
}

// queryTerms tokenizes the query and, when expansion is on, unions in the
// synonym table entries for each base term.
func (en *Engine) queryTerms(query string) []string {
	base := tokenize(query)
	if !en.cfg.ExpandQuery {
		return dedupe(base)
	}
	var all []string
	all = append(all, base...)
	for _, t := range base {
		all = append(all, synonyms[t]...)
	}
	return dedupe(all)
}

func dedupe(terms []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// keywordOverlap returns the fraction of query terms present in the chunk
// and the matched terms themselves.
func keywordOverlap(terms []string, text string) (float64, []string) {
	if len(terms) == 0 {
		return 0, nil
	}
	present := map[string]struct{}{}
	for _, tok := range tokenize(text) {
		present[tok] = struct{}{}
	}
	var matched []string
	for _, t := range terms {
		if _, ok := present[t]; ok {
			matched = append(matched, t)
		}
	}
	return float64(len(matched)) / float64(len(terms)), matched
}
