package state

import (
	"time"
)

// HaltCode is a terminal reason value that stops further step scheduling.
type HaltCode string

const (
	HaltNone               HaltCode = ""
	HaltInputInvalid       HaltCode = "input_invalid"
	HaltModerationBlock    HaltCode = "moderation_block"
	HaltRateLimited        HaltCode = "rate_limited"
	HaltToolBlock          HaltCode = "tool_block"
	HaltDryRunComplete     HaltCode = "dry_run_complete"
	HaltHITLPending        HaltCode = "hitl_pending"
	HaltPostValidationFail HaltCode = "post_validation_fail"
	HaltStepFailed         HaltCode = "step_failed"
)

// Valid reports whether the halt code is a known terminal condition.
func (h HaltCode) Valid() bool {
	switch h {
	case HaltNone, HaltInputInvalid, HaltModerationBlock, HaltRateLimited,
		HaltToolBlock, HaltDryRunComplete, HaltHITLPending,
		HaltPostValidationFail, HaltStepFailed:
		return true
	}
	return false
}

// Tool invocation kinds.
const (
	ToolLocal  = "local"
	ToolRemote = "remote"
)

// ToolSpec describes one planned tool invocation, local or remote.
type ToolSpec struct {
	Type    string         `json:"type"` // local or remote
	Name    string         `json:"name,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Server  string         `json:"server,omitempty"`
	Method  string         `json:"method,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ToolResult records the outcome of a single tool call.
type ToolResult struct {
	CallID string `json:"call_id"`
	Tool   string `json:"tool"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Verdict is the moderation outcome for a piece of text.
type Verdict struct {
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason,omitempty"`
}

// AuditResult captures the post-execution policy validation outcome.
type AuditResult struct {
	Issues []string `json:"issues"`
	Valid  bool     `json:"valid"`
}

// TraceEvent is one chronological entry in the run trace.
type TraceEvent struct {
	Node string    `json:"node"`
	At   time.Time `json:"t"`
	Dur  float64   `json:"dt"`
	Halt HaltCode  `json:"halt,omitempty"`
}

// MemoryDoc is a ranked retrieval hit carried in state.
type MemoryDoc struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Source       string   `json:"source,omitempty"`
	EmbedScore   float64  `json:"embed_score"`
	KeywordScore float64  `json:"keyword_score"`
	FinalScore   float64  `json:"final_score"`
	Matched      []string `json:"matched,omitempty"`
}

// State is the single record threaded through every pipeline step. Steps
// receive a copy, mutate it, and return it; parallel branch outputs are folded
// back together by the reducer table in merge.go.
type State struct {
	// Identity / content
	Input         string       `json:"user_input"`
	OriginalInput string       `json:"original_user_input,omitempty"`
	Route         string       `json:"route,omitempty"`
	Plan          []string     `json:"plan,omitempty"`
	PlannedTools  []ToolSpec   `json:"planned_tools,omitempty"`
	ToolResults   []ToolResult `json:"tool_results,omitempty"`
	UsedTools     []string     `json:"used_tools,omitempty"`
	ToolErrors    []string     `json:"tool_errors,omitempty"`

	// Retrieval
	MemoryQuery      string      `json:"memory_query,omitempty"`
	MemoryDocs       []MemoryDoc `json:"memory_docs,omitempty"`
	MemoryUsed       bool        `json:"memory_used,omitempty"`
	CacheHit         bool        `json:"retrieval_cache_hit,omitempty"`
	RetrievalLatency float64     `json:"retrieval_latency_s,omitempty"`

	// Answers
	DraftAnswer    string `json:"draft_answer,omitempty"`
	Answer         string `json:"answer,omitempty"`
	ReviewedAnswer string `json:"reviewed_answer,omitempty"`

	// Governance
	Moderation   *Verdict `json:"moderation,omitempty"`
	Redacted     bool     `json:"redacted,omitempty"`
	Halt         HaltCode `json:"halt,omitempty"`
	DryRun       bool     `json:"dry_run,omitempty"`
	HITLApproved bool     `json:"hitl_approved,omitempty"`

	// Audit
	Audit       *AuditResult `json:"audit,omitempty"`
	RolledBack  bool         `json:"rolled_back,omitempty"`
	ContentHash string       `json:"content_hash,omitempty"`

	// Observability
	Trace     []TraceEvent       `json:"trace,omitempty"`
	Timings   map[string]float64 `json:"timings,omitempty"`
	Artifacts map[string]any     `json:"artifacts,omitempty"`
	Decisions map[string]any     `json:"decisions,omitempty"`
	Metrics   map[string]any     `json:"metrics,omitempty"`

	// Retry bookkeeping
	RetryCount int    `json:"retry_count,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
	LastError  string `json:"error,omitempty"`
}

// New creates a fresh state for one pipeline invocation.
func New(input string, maxRetries int) State {
	return State{
		Input:      input,
		MaxRetries: maxRetries,
		Timings:    map[string]float64{},
		Artifacts:  map[string]any{},
		Decisions:  map[string]any{},
		Metrics:    map[string]any{},
	}
}

// Halted reports whether a terminal halt code has been set.
func (s State) Halted() bool { return s.Halt != HaltNone }

// FinalAnswer returns the authoritative answer: the reviewed answer when a
// review step executed, the synthesized answer otherwise.
func (s State) FinalAnswer() string {
	if s.ReviewedAnswer != "" {
		return s.ReviewedAnswer
	}
	return s.Answer
}

// SetDecision records a decision summary under a fixed key for observability.
func (s *State) SetDecision(key string, val any) {
	if s.Decisions == nil {
		s.Decisions = map[string]any{}
	}
	s.Decisions[key] = val
}

// AppendTrace appends one trace event.
func (s *State) AppendTrace(node string, at time.Time, dur time.Duration) {
	s.Trace = append(s.Trace, TraceEvent{Node: node, At: at, Dur: dur.Seconds(), Halt: s.Halt})
}

// RecordTiming accumulates elapsed seconds under a step name.
func (s *State) RecordTiming(node string, dur time.Duration) {
	if s.Timings == nil {
		s.Timings = map[string]float64{}
	}
	s.Timings[node] += dur.Seconds()
}

// Clone returns a deep copy so concurrent branches never share maps or slices.
func (s State) Clone() State {
	out := s
	out.Plan = append([]string(nil), s.Plan...)
	out.PlannedTools = cloneSpecs(s.PlannedTools)
	out.ToolResults = append([]ToolResult(nil), s.ToolResults...)
	out.UsedTools = append([]string(nil), s.UsedTools...)
	out.ToolErrors = append([]string(nil), s.ToolErrors...)
	out.MemoryDocs = cloneDocs(s.MemoryDocs)
	out.Trace = append([]TraceEvent(nil), s.Trace...)
	out.Timings = cloneMap(s.Timings)
	out.Artifacts = cloneMap(s.Artifacts)
	out.Decisions = cloneMap(s.Decisions)
	out.Metrics = cloneMap(s.Metrics)
	if s.Moderation != nil {
		v := *s.Moderation
		out.Moderation = &v
	}
	if s.Audit != nil {
		a := *s.Audit
		a.Issues = append([]string(nil), s.Audit.Issues...)
		out.Audit = &a
	}
	return out
}

func cloneSpecs(in []ToolSpec) []ToolSpec {
	if in == nil {
		return nil
	}
	out := make([]ToolSpec, len(in))
	for i, t := range in {
		t.Args = cloneMap(t.Args)
		t.Payload = cloneMap(t.Payload)
		out[i] = t
	}
	return out
}

func cloneDocs(in []MemoryDoc) []MemoryDoc {
	if in == nil {
		return nil
	}
	out := make([]MemoryDoc, len(in))
	for i, d := range in {
		d.Matched = append([]string(nil), d.Matched...)
		out[i] = d
	}
	return out
}

func cloneMap[V any](in map[string]V) map[string]V {
	if in == nil {
		return nil
	}
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
