package governance

import (
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/conductor/config"
	"github.com/mohammad-safakhou/conductor/internal/state"
)

// Moderator classifies text for policy violations. The static provider and
// the OpenAI moderation endpoint both satisfy this shape.
type Moderator func(ctx context.Context, text string) (state.Verdict, error)

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
)

// Gate runs the ordered governance chain over the state before any work is
// scheduled. Checks halt-on-first-failure; redaction is the exception and
// always applies.
type Gate struct {
	cfg       config.GovernanceConfig
	limiter   *RateLimiter
	moderate  Moderator
	approvals ApprovalSource
	logger    *log.Logger
}

// GateOption configures gate construction.
type GateOption func(*Gate)

// WithModerator sets the moderation backend.
func WithModerator(m Moderator) GateOption {
	return func(g *Gate) { g.moderate = m }
}

// WithApprovals sets the HITL approval source.
func WithApprovals(a ApprovalSource) GateOption {
	return func(g *Gate) { g.approvals = a }
}

// WithRateLimiter shares an externally owned limiter across gates.
func WithRateLimiter(r *RateLimiter) GateOption {
	return func(g *Gate) { g.limiter = r }
}

// WithGateLogger sets the gate logger.
func WithGateLogger(l *log.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// NewGate builds a gate from governance config. The limiter defaults to a
// private instance when none is shared.
func NewGate(cfg config.GovernanceConfig, opts ...GateOption) *Gate {
	g := &Gate{
		cfg:    cfg,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.limiter == nil {
		g.limiter = NewRateLimiter(cfg.RateLimitPerMin)
	}
	if g.approvals == nil && cfg.ApprovalFile != "" {
		g.approvals = FileApproval{Path: cfg.ApprovalFile}
	}
	return g
}

// ValidateInput applies the intake length ceiling. The pipeline entrypoint
// calls this before scheduling anything, so an oversized request never
// reaches a step or a checkpoint.
func (g *Gate) ValidateInput(st state.State) (state.State, bool) {
	if len(st.Input) > g.cfg.MaxInputChars {
		st.Halt = state.HaltInputInvalid
		st.SetDecision("governance", map[string]any{
			"input_valid": false,
			"input_chars": len(st.Input),
			"max_chars":   g.cfg.MaxInputChars,
		})
		return st, false
	}
	return st, true
}

// Check runs the governance chain: length, moderation, PII redaction, rate
// limit, tool allowlist, dry-run, HITL. The first failing check sets the
// matching halt code; the decision summary is always written to the returned
// state, whichever exit path is taken.
func (g *Gate) Check(ctx context.Context, st state.State) (out state.State) {
	decision := map[string]any{}
	defer func() { out.SetDecision("governance", decision) }()

	if len(st.Input) > g.cfg.MaxInputChars {
		decision["input_valid"] = false
		st.Halt = state.HaltInputInvalid
		return st
	}
	decision["input_valid"] = true

	if g.cfg.RequireModeration && g.moderate != nil {
		verdict, err := g.moderate(ctx, st.Input)
		if err != nil {
			// Moderation backend failures do not block the run.
			g.logger.Printf("[governance] moderation error: %v", err)
			decision["moderation"] = "error"
		} else {
			st.Moderation = &verdict
			decision["moderation_flagged"] = verdict.Flagged
			if verdict.Flagged {
				decision["moderation_reason"] = verdict.Reason
				st.Halt = state.HaltModerationBlock
				return st
			}
		}
	}

	st = g.redact(st, decision)

	if !g.limiter.Allow() {
		decision["rate_limited"] = true
		st.Halt = state.HaltRateLimited
		return st
	}
	decision["rate_limited"] = false

	if blocked := g.filterTools(&st, decision); blocked {
		st.Halt = state.HaltToolBlock
		return st
	}

	if g.cfg.DryRun {
		st.DryRun = true
		decision["dry_run"] = true
		st.Halt = state.HaltDryRunComplete
		return st
	}

	if g.cfg.EnableHITL {
		verdict := ""
		if g.approvals != nil {
			v, err := g.approvals.Read()
			if err != nil {
				g.logger.Printf("[governance] approval read error: %v", err)
			}
			verdict = v
		}
		if !Approved(verdict) {
			decision["hitl"] = "pending"
			st.Halt = state.HaltHITLPending
			return st
		}
		st.HITLApproved = true
		decision["hitl"] = "approved"
	}

	return st
}

// redact masks emails and phone numbers in place. It never halts.
func (g *Gate) redact(st state.State, decision map[string]any) state.State {
	masked := emailRe.ReplaceAllString(st.Input, "<email>")
	masked = phoneRe.ReplaceAllString(masked, "<phone>")
	if masked != st.Input {
		if st.OriginalInput == "" {
			st.OriginalInput = st.Input
		}
		st.Input = masked
		st.Redacted = true
	}
	decision["redacted"] = st.Redacted
	return st
}

// filterTools normalizes every planned tool reference against the allowlist
// and strips disallowed entries. Returns true when anything was blocked.
func (g *Gate) filterTools(st *state.State, decision map[string]any) bool {
	if len(st.PlannedTools) == 0 {
		return false
	}
	allowed := map[string]struct{}{}
	for _, name := range g.cfg.AllowedTools {
		allowed[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	var kept []state.ToolSpec
	var blocked []string
	for _, spec := range st.PlannedTools {
		name := NormalizeToolName(spec)
		if _, ok := allowed[name]; ok {
			kept = append(kept, spec)
			continue
		}
		blocked = append(blocked, name)
	}
	if len(blocked) == 0 {
		return false
	}
	st.PlannedTools = kept
	decision["blocked_tools"] = blocked
	return true
}

// NormalizeToolName produces the canonical allowlist key for a planned tool:
// the plain name for local tools, server:method for remote ones.
func NormalizeToolName(spec state.ToolSpec) string {
	if spec.Type == state.ToolRemote {
		return strings.ToLower(fmt.Sprintf("%s:%s", strings.TrimSpace(spec.Server), strings.TrimSpace(spec.Method)))
	}
	return strings.ToLower(strings.TrimSpace(spec.Name))
}
