package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/conductor/internal/state"
)

const auditMaxAnswerChars = 8000

// audit validates the synthesized answer against output policy. A failing
// answer is rolled back: the audit verdict, the rollback marker, and the
// post_validation_fail halt are set and the answer never reaches review.
// Passing answers get a provenance hash over the canonical answer payload.
func (p *Pipeline) audit(ctx context.Context, st state.State) (state.State, error) {
	if st.Halted() || st.DryRun {
		return st, nil
	}
	var issues []string
	if len(st.Answer) > auditMaxAnswerChars {
		issues = append(issues, fmt.Sprintf("answer exceeds %d characters", auditMaxAnswerChars))
	}
	if strings.Contains(st.Answer, "```exec") {
		issues = append(issues, "answer contains an executable block")
	}

	if len(issues) > 0 {
		st.Audit = &state.AuditResult{Issues: issues, Valid: false}
		st.RolledBack = true
		st.Halt = state.HaltPostValidationFail
		st.SetDecision("audit", map[string]any{"valid": false, "issues": issues})
		return st, nil
	}

	hash, err := contentHash(st.Answer)
	if err != nil {
		return state.State{}, fmt.Errorf("audit: %w", err)
	}
	st.Audit = &state.AuditResult{Valid: true}
	st.ContentHash = hash
	st.SetDecision("audit", map[string]any{"valid": true})
	return st, nil
}

// contentHash hashes the canonical JSON encoding of the answer payload so
// the same answer always yields the same provenance hash.
func contentHash(answer string) (string, error) {
	payload, err := json.Marshal(struct {
		A string `json:"a"`
	}{answer})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
