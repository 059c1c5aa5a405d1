package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/conductor/config"
	"github.com/mohammad-safakhou/conductor/internal/retrieval"
	"github.com/mohammad-safakhou/conductor/internal/tools"
)

func newTestServer(t *testing.T, cfg config.ServerConfig) *Server {
	t.Helper()
	engine := retrieval.NewEngine(config.RetrievalConfig{
		ChunkSize:           120,
		ChunkOverlap:        20,
		TopK:                3,
		CandidateMultiplier: 3,
		KeywordWeight:       0.4,
		EmbeddingDimensions: 64,
	})
	docs := []retrieval.Document{
		{ID: "refunds", Text: "refunds are processed within five business days"},
		{ID: "shipping", Text: "standard shipping takes three to seven days"},
	}
	if err := engine.Index(context.Background(), docs); err != nil {
		t.Fatalf("Index: %v", err)
	}
	shell := tools.NewShellTool([]string{"ls", "pwd", "df", "echo"})
	return New(cfg, engine, shell, nil)
}

func postJSON(t *testing.T, h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, config.ServerConfig{}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, config.ServerConfig{}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestRagSearch(t *testing.T) {
	h := newTestServer(t, config.ServerConfig{}).Handler()
	rec := postJSON(t, h, "/rag/search", `{"query": "refund processing", "k": 1}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Result []struct {
			ID    string  `json:"id"`
			Score float64 `json:"score"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Result) != 1 {
		t.Fatalf("expected 1 hit, got %+v", resp.Result)
	}
	if !strings.HasPrefix(resp.Result[0].ID, "refunds") {
		t.Fatalf("expected refunds hit, got %+v", resp.Result[0])
	}
}

func TestRagSearchRequiresQuery(t *testing.T) {
	h := newTestServer(t, config.ServerConfig{}).Handler()
	rec := postJSON(t, h, "/rag/search", `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "error") {
		t.Fatalf("error body missing: %s", rec.Body.String())
	}
}

func TestShellEndpoint(t *testing.T) {
	h := newTestServer(t, config.ServerConfig{}).Handler()
	rec := postJSON(t, h, "/shell", `{"command": "echo hi"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("shell: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result != "hi" {
		t.Fatalf("expected hi, got %q", resp.Result)
	}
}

func TestShellRejectsDisallowed(t *testing.T) {
	h := newTestServer(t, config.ServerConfig{}).Handler()
	rec := postJSON(t, h, "/shell", `{"command": "rm -rf /"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "not allowed") {
		t.Fatalf("expected allowlist error, got %s", rec.Body.String())
	}
}

func TestAuthProtectsToolRoutes(t *testing.T) {
	secret := "test-secret"
	h := newTestServer(t, config.ServerConfig{JWTSecret: secret}).Handler()

	rec := postJSON(t, h, "/shell", `{"command": "pwd"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	token, err := SignToken("pipeline", []byte(secret), time.Minute)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	rec = postJSON(t, h, "/shell", `{"command": "pwd"}`, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d %s", rec.Code, rec.Body.String())
	}

	// Health stays open.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r2 := httptest.NewRecorder()
	h.ServeHTTP(r2, req)
	if r2.Code != http.StatusOK {
		t.Fatalf("healthz should not require auth: %d", r2.Code)
	}
}
