package eval

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohammad-safakhou/conductor/internal/state"
)

func TestGroundedness(t *testing.T) {
	facts := []string{"five business days", "return"}
	if got := Groundedness("Refunds take five business days after the RETURN arrives", facts); got != 1.0 {
		t.Fatalf("expected 1.0, got %v", got)
	}
	if got := Groundedness("refunds take a while", facts); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := Groundedness("partial: five business days", facts); got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
	if got := Groundedness("anything", nil); got != 1.0 {
		t.Fatalf("no facts should score 1.0, got %v", got)
	}
}

func TestToolSelectionScenario(t *testing.T) {
	// Used {search, fetch} against expected {search}.
	m := ToolSelection([]string{"search", "fetch"}, []string{"search"})
	if m.Precision != 0.5 {
		t.Fatalf("precision: expected 0.5, got %v", m.Precision)
	}
	if m.Recall != 1.0 {
		t.Fatalf("recall: expected 1.0, got %v", m.Recall)
	}
	if math.Abs(m.F1-2.0/3.0) > 1e-9 {
		t.Fatalf("f1: expected 2/3, got %v", m.F1)
	}
}

func TestToolSelectionEdges(t *testing.T) {
	if m := ToolSelection(nil, nil); m.F1 != 1 {
		t.Fatalf("empty/empty should be perfect: %+v", m)
	}
	if m := ToolSelection(nil, []string{"search"}); m.F1 != 0 {
		t.Fatalf("nothing used should be zero: %+v", m)
	}
	// Matching is case-insensitive.
	if m := ToolSelection([]string{"Search"}, []string{"search"}); m.F1 != 1 {
		t.Fatalf("case difference should not matter: %+v", m)
	}
}

func TestHarnessRunCase(t *testing.T) {
	run := func(ctx context.Context, input string) (state.State, error) {
		st := state.New(input, 1)
		st.Answer = "refunds take five business days"
		st.UsedTools = []string{"search"}
		return st, nil
	}
	h := NewHarness(run)
	base := time.Unix(1700000000, 0)
	calls := 0
	h.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 100 * time.Millisecond)
	}

	r, err := h.RunCase(context.Background(), Golden{
		ID:            "refund",
		Input:         "what is the refund policy",
		Facts:         []string{"five business days"},
		ExpectedTools: []string{"search"},
	})
	if err != nil {
		t.Fatalf("RunCase: %v", err)
	}
	if r.Groundedness != 1.0 || r.Tools.F1 != 1.0 {
		t.Fatalf("unexpected scores: %+v", r)
	}
	if r.Latency <= 0 {
		t.Fatalf("latency not recorded: %+v", r)
	}
}

func TestAggregateSkipsHaltedRows(t *testing.T) {
	rows := []CaseResult{
		{ID: "a", Latency: 0.1, Groundedness: 1.0, Tools: ToolMetrics{Precision: 1, Recall: 1, F1: 1}},
		{ID: "b", Latency: 0.3, Groundedness: 0.5, Tools: ToolMetrics{Precision: 0.5, Recall: 1, F1: 2.0 / 3.0}},
		{ID: "c", Halt: state.HaltModerationBlock},
	}
	agg := Aggregate(rows)
	if math.Abs(agg["groundedness_mean"]-0.75) > 1e-9 {
		t.Fatalf("groundedness_mean: %v", agg["groundedness_mean"])
	}
	if math.Abs(agg["latency_s_mean"]-0.2) > 1e-9 {
		t.Fatalf("latency_s_mean: %v", agg["latency_s_mean"])
	}
	if agg["tool_precision_p95"] != 1.0 {
		t.Fatalf("tool_precision_p95: %v", agg["tool_precision_p95"])
	}
}

func TestAblationsTagVariants(t *testing.T) {
	mk := func(halt state.HaltCode) RunFunc {
		return func(ctx context.Context, input string) (state.State, error) {
			st := state.New(input, 1)
			st.Halt = halt
			return st, nil
		}
	}
	cases := []Golden{{ID: "a", Input: "q"}}
	rows, err := Ablations(context.Background(), []Variant{
		{Name: "no_governance", Run: mk(state.HaltNone)},
		{Name: "dry_run", Run: mk(state.HaltDryRunComplete)},
	}, cases)
	if err != nil {
		t.Fatalf("Ablations: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Variant != "no_governance" || rows[1].Variant != "dry_run" {
		t.Fatalf("variants not tagged: %+v", rows)
	}
	if rows[1].Halt != state.HaltDryRunComplete {
		t.Fatalf("halt not carried: %+v", rows[1])
	}
}

func TestLoadGoldens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goldens.json")
	doc := `[{"id": "refund", "input": "what is the refund policy", "facts": ["five business days"], "expected_tools": ["search"]}]`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write goldens: %v", err)
	}
	cases, err := LoadGoldens(path)
	if err != nil {
		t.Fatalf("LoadGoldens: %v", err)
	}
	if len(cases) != 1 || cases[0].ID != "refund" || len(cases[0].Facts) != 1 {
		t.Fatalf("unexpected goldens: %+v", cases)
	}

	if _, err := LoadGoldens(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing file should error")
	}
}
