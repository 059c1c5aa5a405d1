package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/conductor/internal/state"
)

// Golden is one evaluation case: an input, the facts a grounded answer
// must contain, and the tools a correct plan should use.
type Golden struct {
	ID            string   `json:"id"`
	Input         string   `json:"input"`
	Facts         []string `json:"facts,omitempty"`
	ExpectedTools []string `json:"expected_tools,omitempty"`
}

// LoadGoldens reads a goldens JSON file.
func LoadGoldens(path string) ([]Golden, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("eval: read goldens: %w", err)
	}
	var cases []Golden
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("eval: parse goldens: %w", err)
	}
	return cases, nil
}

// Groundedness is the fraction of expected facts present in the answer,
// case-insensitively. No expected facts counts as fully grounded.
func Groundedness(answer string, facts []string) float64 {
	if len(facts) == 0 {
		return 1.0
	}
	lower := strings.ToLower(answer)
	hits := 0
	for _, f := range facts {
		if strings.Contains(lower, strings.ToLower(f)) {
			hits++
		}
	}
	return float64(hits) / float64(len(facts))
}

// ToolMetrics is precision/recall/F1 of the used tool set against the
// expected one.
type ToolMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// ToolSelection scores the tools a run actually used against the golden's
// expected set.
func ToolSelection(used, expected []string) ToolMetrics {
	usedSet := toSet(used)
	expSet := toSet(expected)
	if len(expSet) == 0 && len(usedSet) == 0 {
		return ToolMetrics{Precision: 1, Recall: 1, F1: 1}
	}
	if len(usedSet) == 0 {
		return ToolMetrics{}
	}
	tp := 0
	for t := range usedSet {
		if _, ok := expSet[t]; ok {
			tp++
		}
	}
	var precision, recall float64
	precision = float64(tp) / float64(len(usedSet))
	if len(expSet) > 0 {
		recall = float64(tp) / float64(len(expSet))
	}
	var f1 float64
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return ToolMetrics{Precision: precision, Recall: recall, F1: f1}
}

// CaseResult is the scored outcome of one golden.
type CaseResult struct {
	ID           string         `json:"id"`
	Variant      string         `json:"variant,omitempty"`
	Latency      float64        `json:"latency_s"`
	Groundedness float64        `json:"groundedness"`
	Tools        ToolMetrics    `json:"tools"`
	Halt         state.HaltCode `json:"halt,omitempty"`
}

// RunFunc executes one pipeline invocation for an input.
type RunFunc func(ctx context.Context, input string) (state.State, error)

// Harness scores a pipeline against goldens.
type Harness struct {
	run RunFunc
	now func() time.Time
}

// NewHarness wraps a pipeline run function.
func NewHarness(run RunFunc) *Harness {
	return &Harness{run: run, now: time.Now}
}

// RunCase executes and scores a single golden.
func (h *Harness) RunCase(ctx context.Context, g Golden) (CaseResult, error) {
	start := h.now()
	st, err := h.run(ctx, g.Input)
	if err != nil {
		return CaseResult{}, fmt.Errorf("eval: case %s: %w", g.ID, err)
	}
	return CaseResult{
		ID:           g.ID,
		Latency:      h.now().Sub(start).Seconds(),
		Groundedness: Groundedness(st.FinalAnswer(), g.Facts),
		Tools:        ToolSelection(st.UsedTools, g.ExpectedTools),
		Halt:         st.Halt,
	}, nil
}

// RunAll scores every golden in order.
func (h *Harness) RunAll(ctx context.Context, cases []Golden) ([]CaseResult, error) {
	out := make([]CaseResult, 0, len(cases))
	for _, g := range cases {
		r, err := h.RunCase(ctx, g)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Variant is one ablation configuration, named for the report.
type Variant struct {
	Name string
	Run  RunFunc
}

// Ablations runs every case under every variant and tags the results.
func Ablations(ctx context.Context, variants []Variant, cases []Golden) ([]CaseResult, error) {
	var out []CaseResult
	for _, v := range variants {
		h := NewHarness(v.Run)
		rows, err := h.RunAll(ctx, cases)
		if err != nil {
			return out, err
		}
		for _, r := range rows {
			r.Variant = v.Name
			out = append(out, r)
		}
	}
	return out, nil
}

// Aggregate computes mean and p95 for each metric across non-halted rows.
func Aggregate(rows []CaseResult) map[string]float64 {
	metrics := map[string][]float64{}
	for _, r := range rows {
		if r.Halt != state.HaltNone {
			continue
		}
		metrics["latency_s"] = append(metrics["latency_s"], r.Latency)
		metrics["groundedness"] = append(metrics["groundedness"], r.Groundedness)
		metrics["tool_precision"] = append(metrics["tool_precision"], r.Tools.Precision)
		metrics["tool_recall"] = append(metrics["tool_recall"], r.Tools.Recall)
		metrics["tool_f1"] = append(metrics["tool_f1"], r.Tools.F1)
	}
	out := map[string]float64{}
	for name, vals := range metrics {
		if len(vals) == 0 {
			continue
		}
		out[name+"_mean"] = mean(vals)
		out[name+"_p95"] = p95(vals)
	}
	return out
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func p95(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	idx := int(0.95*float64(len(sorted))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func toSet(items []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, it := range items {
		out[strings.ToLower(it)] = struct{}{}
	}
	return out
}
