package checkpoint

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/conductor/internal/state"
)

// Checkpoint is an immutable snapshot of the pipeline state taken after a
// step completed. Records are append-only and never mutated.
type Checkpoint struct {
	ID    string      `json:"id"`
	TS    float64     `json:"ts"` // unix seconds
	Node  string      `json:"node"`
	State state.State `json:"state"`
}

// Summary is the listing view of a checkpoint, without the state payload.
type Summary struct {
	ID   string  `json:"id"`
	TS   float64 `json:"ts"`
	Node string  `json:"node"`
}

// ErrNotFound indicates an unknown checkpoint id.
var ErrNotFound = errors.New("checkpoint not found")

// Store persists state snapshots keyed by the step that produced them.
// Append is the only mutating operation; reads must never block appends.
type Store interface {
	// Append durably records a snapshot and returns the new checkpoint id.
	Append(ctx context.Context, node string, st state.State) (string, error)
	// List returns up to limit summaries, most recent first. limit <= 0
	// means no limit.
	List(ctx context.Context, limit int) ([]Summary, error)
	// Get returns the full checkpoint. The bool reports whether it exists.
	Get(ctx context.Context, id string) (Checkpoint, bool, error)
	// Reconstruct builds a resumable state from the checkpoint by stripping
	// terminal fields.
	Reconstruct(ctx context.Context, id string) (state.State, error)
}

// HistoryStore extends Store with destructive rollback and read-only time
// travel. Both durable backends implement it.
type HistoryStore interface {
	Store
	// Rollback discards every snapshot recorded after id and returns the
	// state stored at id.
	Rollback(ctx context.Context, id string) (state.State, error)
	// TimeTravel returns the state at a historical index, clamped to the
	// log's endpoints. The bool is false only when the log is empty.
	TimeTravel(ctx context.Context, index int) (state.State, bool, error)
}

// Resumable strips terminal fields from a snapshot so the pipeline can
// re-enter at the step after the checkpointed one without redoing valid
// work. Plan, tool, memory and trace fields are preserved.
func Resumable(st state.State) state.State {
	out := st.Clone()
	out.Answer = ""
	out.ReviewedAnswer = ""
	out.Audit = nil
	out.Halt = state.HaltNone
	out.RolledBack = false
	// The provenance hash derives from the stripped answer, and retry
	// bookkeeping belongs to the failed invocation.
	out.ContentHash = ""
	out.LastError = ""
	out.RetryCount = 0
	return out
}
