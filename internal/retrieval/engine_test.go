package retrieval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/conductor/config"
)

func testConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		ChunkSize:           80,
		ChunkOverlap:        20,
		TopK:                3,
		CandidateMultiplier: 3,
		KeywordWeight:       0.4,
		CacheTTL:            time.Minute,
		CacheCapacity:       8,
		EmbeddingDimensions: 64,
	}
}

func corpus() []Document {
	return []Document{
		{ID: "billing", Text: "invoices are generated monthly and payment failures trigger a retry with exponential backoff"},
		{ID: "checkout", Text: "the checkout flow validates the cart then charges the card and emits a purchase event"},
		{ID: "search", Text: "the search service indexes product descriptions and ranks results by relevance"},
		{ID: "errors", Text: "error budgets track failure rates and a fault review follows every incident"},
	}
}

func newTestEngine(t *testing.T, cfg config.RetrievalConfig, opts ...EngineOption) *Engine {
	t.Helper()
	en := NewEngine(cfg, opts...)
	if err := en.Index(context.Background(), corpus()); err != nil {
		t.Fatalf("Index: %v", err)
	}
	return en
}

func TestSplitWindows(t *testing.T) {
	text := strings.Repeat("a", 200)
	chunks := Split(text, 80, 20)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 80 {
		t.Fatalf("first chunk length %d", len(chunks[0]))
	}
	// Last chunk is the remainder.
	if len(chunks[3]) != 20 {
		t.Fatalf("last chunk length %d", len(chunks[3]))
	}

	if got := Split("short", 80, 20); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text should be a single chunk: %v", got)
	}
	if got := Split("   ", 80, 20); got != nil {
		t.Fatalf("blank text should yield no chunks: %v", got)
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), []string{"checkout flow charges the card"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, _ := e.Embed(context.Background(), []string{"checkout flow charges the card"})
	if Cosine(a[0], b[0]) < 0.9999 {
		t.Fatal("identical text should embed identically")
	}
	c, _ := e.Embed(context.Background(), []string{"unrelated kitchen recipes"})
	if Cosine(a[0], c[0]) >= Cosine(a[0], b[0]) {
		t.Fatal("unrelated text should not score as high as identical text")
	}
}

func TestSearchScoreBounds(t *testing.T) {
	en := newTestEngine(t, testConfig())
	res, err := en.Search(context.Background(), "checkout payment failures")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) == 0 {
		t.Fatal("expected hits")
	}
	if len(res.Hits) > en.cfg.TopK {
		t.Fatalf("more than top-k hits: %d", len(res.Hits))
	}
	for _, h := range res.Hits {
		if h.KeywordScore < 0 || h.KeywordScore > 1 {
			t.Fatalf("keyword score out of range: %+v", h)
		}
		if h.FinalScore < 0 || h.FinalScore > 1 {
			t.Fatalf("final score out of range: %+v", h)
		}
	}
	// Ranking is descending by final score.
	for i := 1; i < len(res.Hits); i++ {
		if res.Hits[i].FinalScore > res.Hits[i-1].FinalScore {
			t.Fatalf("ranking not descending: %+v", res.Hits)
		}
	}
}

func TestSearchPureEmbeddingWeight(t *testing.T) {
	cfg := testConfig()
	cfg.KeywordWeight = 0
	en := newTestEngine(t, cfg)
	res, err := en.Search(context.Background(), "checkout flow charges the card")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Hits[0].Doc.DocID != "checkout" {
		t.Fatalf("expected checkout chunk first, got %+v", res.Hits[0].Doc)
	}
}

func TestSearchPureKeywordWeight(t *testing.T) {
	cfg := testConfig()
	cfg.KeywordWeight = 1
	en := newTestEngine(t, cfg)
	res, err := en.Search(context.Background(), "purchase event")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	top := res.Hits[0]
	if top.Doc.DocID != "checkout" {
		t.Fatalf("expected keyword match to win, got %+v", top.Doc)
	}
	if top.KeywordScore != 1 {
		t.Fatalf("expected full keyword overlap, got %v", top.KeywordScore)
	}
	if len(top.Matched) != 2 {
		t.Fatalf("expected both terms matched, got %v", top.Matched)
	}
}

func TestQueryExpansionAddsMatchTerms(t *testing.T) {
	cfg := testConfig()
	cfg.ExpandQuery = true
	cfg.KeywordWeight = 1
	en := newTestEngine(t, cfg)

	// "error" expands to failure/fault, which appear in the errors doc.
	res, err := en.Search(context.Background(), "error")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	top := res.Hits[0]
	if top.Doc.DocID != "errors" {
		t.Fatalf("expected errors doc first, got %+v", top.Doc)
	}
	found := map[string]bool{}
	for _, m := range top.Matched {
		found[m] = true
	}
	if !found["failure"] || !found["fault"] {
		t.Fatalf("expanded terms not matched: %v", top.Matched)
	}
}

func TestSearchCacheHitSkipsRerank(t *testing.T) {
	cfg := testConfig()
	cache := NewMemoryCache(cfg.CacheTTL, cfg.CacheCapacity)
	en := newTestEngine(t, cfg, WithCache(cache))

	first, err := en.Search(context.Background(), "payment failures")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if first.CacheHit {
		t.Fatal("first search should miss")
	}
	second, err := en.Search(context.Background(), "payment failures")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !second.CacheHit {
		t.Fatal("second search should hit")
	}
	if len(second.Hits) != len(first.Hits) || second.Hits[0].Doc.ID != first.Hits[0].Doc.ID {
		t.Fatalf("cached ranking differs: %+v vs %+v", second.Hits, first.Hits)
	}
}

func TestCacheKeyIncludesParameters(t *testing.T) {
	cfg := testConfig()
	en := NewEngine(cfg)
	key := en.cacheKey("q")
	cfg2 := cfg
	cfg2.KeywordWeight = 0.9
	if NewEngine(cfg2).cacheKey("q") == key {
		t.Fatal("weight change should change cache key")
	}
	cfg3 := cfg
	cfg3.ExpandQuery = true
	if NewEngine(cfg3).cacheKey("q") == key {
		t.Fatal("expansion change should change cache key")
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache(time.Minute, 8)
	base := time.Unix(1700000000, 0)
	current := base
	c.now = func() time.Time { return current }

	c.Set(context.Background(), "k", []Hit{{FinalScore: 1}})
	if _, ok := c.Get(context.Background(), "k"); !ok {
		t.Fatal("fresh entry should hit")
	}
	current = base.Add(2 * time.Minute)
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("expired entry should miss")
	}
	if c.Len() != 0 {
		t.Fatal("expired entry should be evicted on read")
	}
}

func TestMemoryCacheCapacityEvictsOldest(t *testing.T) {
	c := NewMemoryCache(time.Hour, 2)
	base := time.Unix(1700000000, 0)
	step := 0
	c.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	c.Set(context.Background(), "a", nil)
	c.Set(context.Background(), "b", nil)
	c.Set(context.Background(), "c", nil)
	if _, ok := c.Get(context.Background(), "a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := c.Get(context.Background(), "c"); !ok {
		t.Fatal("newest entry should survive")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
}

func TestNewCacheSelectsBackend(t *testing.T) {
	cfg := testConfig()

	if _, ok := NewCache(cfg, config.RedisConfig{}, nil).(*MemoryCache); !ok {
		t.Fatal("expected in-process cache when redis is not configured")
	}

	// go-redis connects lazily, so construction alone needs no server.
	c := NewCache(cfg, config.RedisConfig{Host: "localhost", Port: "6379"}, nil)
	rc, ok := c.(*RedisCache)
	if !ok {
		t.Fatalf("expected redis cache when a host is configured, got %T", c)
	}
	rc.Close()
}
