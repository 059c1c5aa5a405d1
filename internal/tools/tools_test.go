package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/conductor/internal/retrieval"
	"github.com/mohammad-safakhou/conductor/internal/state"
)

type panicTool struct{}

func (panicTool) Name() string { return "boom" }
func (panicTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	panic("kaput")
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register(NewClockTool())
	r.Register(panicTool{})

	res := r.Execute(context.Background(), "c1", state.ToolSpec{Type: state.ToolLocal, Name: "clock"})
	if res.Error != "" || res.Output == "" {
		t.Fatalf("clock failed: %+v", res)
	}
	if res.CallID != "c1" || res.Tool != "clock" {
		t.Fatalf("result metadata wrong: %+v", res)
	}

	res = r.Execute(context.Background(), "c2", state.ToolSpec{Type: state.ToolLocal, Name: "nope"})
	if !strings.Contains(res.Error, "unknown tool") {
		t.Fatalf("expected unknown tool error, got %+v", res)
	}

	// A panicking tool yields an error result, not a crashed step.
	res = r.Execute(context.Background(), "c3", state.ToolSpec{Type: state.ToolLocal, Name: "boom"})
	if !strings.Contains(res.Error, "kaput") {
		t.Fatalf("expected panic converted to error, got %+v", res)
	}

	res = r.Execute(context.Background(), "c4", state.ToolSpec{Type: state.ToolRemote, Server: "tools", Method: "rag.search"})
	if !strings.Contains(res.Error, "no remote client") {
		t.Fatalf("expected missing remote client error, got %+v", res)
	}
}

func TestSearchTool(t *testing.T) {
	tool, err := NewSearchTool([]retrieval.Document{
		{ID: "billing", Text: "invoices are generated monthly"},
		{ID: "checkout", Text: "checkout charges the card"},
	})
	if err != nil {
		t.Fatalf("NewSearchTool: %v", err)
	}

	out, err := tool.Invoke(context.Background(), map[string]any{"query": "invoices"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(out, "billing") {
		t.Fatalf("expected billing hit, got %q", out)
	}

	if _, err := tool.Invoke(context.Background(), map[string]any{}); err == nil {
		t.Fatal("missing query should error")
	}

	out, err = tool.Invoke(context.Background(), map[string]any{"query": "zebra"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "no matches" {
		t.Fatalf("expected no matches, got %q", out)
	}
}

func TestShellToolAllowlist(t *testing.T) {
	tool := NewShellTool([]string{"echo", "pwd"})

	out, err := tool.Invoke(context.Background(), map[string]any{"cmd": "echo hello"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "hello" {
		t.Fatalf("expected hello, got %q", out)
	}

	if _, err := tool.Invoke(context.Background(), map[string]any{"cmd": "rm -rf /"}); err == nil {
		t.Fatal("disallowed command should error")
	}
	if _, err := tool.Invoke(context.Background(), map[string]any{"cmd": ""}); err == nil {
		t.Fatal("empty command should error")
	}
}

func TestFetchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Refund Policy</title></head><body><article><p>Refunds are processed within five business days.</p></article></body></html>`))
	}))
	defer srv.Close()

	tool := NewFetchTool(5 * time.Second)
	out, err := tool.Invoke(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(out, "five business days") {
		t.Fatalf("article text missing: %q", out)
	}
	if strings.Contains(out, "<p>") {
		t.Fatalf("markup survived sanitization: %q", out)
	}

	if _, err := tool.Invoke(context.Background(), map[string]any{"url": "not a url"}); err == nil {
		t.Fatal("invalid url should error")
	}
	if _, err := tool.Invoke(context.Background(), map[string]any{"url": "ftp://example.com"}); err == nil {
		t.Fatal("non-http scheme should error")
	}
}

func TestRemoteClientCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rag/search" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result": "three hits"}`))
	}))
	defer srv.Close()

	c := NewRemoteClient(srv.URL, time.Second)
	out, err := c.Call(context.Background(), "rag.search", map[string]any{"query": "q"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "three hits" {
		t.Fatalf("unexpected result: %q", out)
	}
}

func TestRemoteClientSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "missing or invalid token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result": "ok"}`))
	}))
	defer srv.Close()

	c := NewRemoteClient(srv.URL, time.Second, WithBearerToken("tok-123"))
	out, err := c.Call(context.Background(), "rag.search", map[string]any{"query": "q"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected result: %q", out)
	}

	// Without the option no header is sent and the server rejects the call.
	bare := NewRemoteClient(srv.URL, time.Second)
	if _, err := bare.Call(context.Background(), "rag.search", nil); err == nil {
		t.Fatal("expected rejection without token")
	}
}

func TestRemoteClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "query required"}`))
	}))
	defer srv.Close()

	c := NewRemoteClient(srv.URL, time.Second)
	_, err := c.Call(context.Background(), "rag.search", nil)
	if err == nil || !strings.Contains(err.Error(), "query required") {
		t.Fatalf("expected server error surfaced, got %v", err)
	}
}
