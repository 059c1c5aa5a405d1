package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/conductor/internal/state"
)

// PGStore persists checkpoints in a Postgres table. Ordering is kept by a
// monotonically increasing sequence column, so wall-clock skew cannot
// reorder history.
type PGStore struct {
	DB  *sql.DB
	now func() time.Time
}

// NewPGStore connects to Postgres with the given DSN and verifies the
// connection. Schema is managed by migrations, not by the store.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("checkpoint: ping postgres: %w", err)
	}
	return &PGStore{DB: db, now: time.Now}, nil
}

func (s *PGStore) Append(ctx context.Context, node string, st state.State) (string, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("checkpoint: marshal state: %w", err)
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	ts := float64(s.now().UnixNano()) / float64(time.Second)
	_, err = s.DB.ExecContext(ctx, `
        INSERT INTO pipeline_checkpoints (id, ts, node, state) VALUES ($1, $2, $3, $4)
    `, id, ts, node, payload)
	if err != nil {
		return "", fmt.Errorf("checkpoint: insert: %w", err)
	}
	return id, nil
}

func (s *PGStore) List(ctx context.Context, limit int) ([]Summary, error) {
	q := `SELECT id, ts, node FROM pipeline_checkpoints ORDER BY seq DESC`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.TS, &sum.Node); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *PGStore) Get(ctx context.Context, id string) (Checkpoint, bool, error) {
	var cp Checkpoint
	var payload []byte
	err := s.DB.QueryRowContext(ctx, `
        SELECT id, ts, node, state FROM pipeline_checkpoints WHERE id=$1
    `, id).Scan(&cp.ID, &cp.TS, &cp.Node, &payload)
	if err == sql.ErrNoRows {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, err
	}
	if err := json.Unmarshal(payload, &cp.State); err != nil {
		return Checkpoint{}, false, fmt.Errorf("checkpoint: decode state: %w", err)
	}
	return cp, true, nil
}

func (s *PGStore) Reconstruct(ctx context.Context, id string) (state.State, error) {
	cp, ok, err := s.Get(ctx, id)
	if err != nil {
		return state.State{}, err
	}
	if !ok {
		return state.State{}, ErrNotFound
	}
	return Resumable(cp.State), nil
}

// Rollback deletes every checkpoint recorded after id and returns the state
// stored at id.
func (s *PGStore) Rollback(ctx context.Context, id string) (state.State, error) {
	cp, ok, err := s.Get(ctx, id)
	if err != nil {
		return state.State{}, err
	}
	if !ok {
		return state.State{}, ErrNotFound
	}
	_, err = s.DB.ExecContext(ctx, `
        DELETE FROM pipeline_checkpoints
        WHERE seq > (SELECT seq FROM pipeline_checkpoints WHERE id=$1)
    `, id)
	if err != nil {
		return state.State{}, fmt.Errorf("checkpoint: rollback: %w", err)
	}
	st := cp.State
	st.RolledBack = true
	return st, nil
}

// TimeTravel returns the state at the given position in history without
// deleting anything. Out-of-range indexes clamp to the nearest endpoint.
func (s *PGStore) TimeTravel(ctx context.Context, index int) (state.State, bool, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM pipeline_checkpoints`).Scan(&n); err != nil {
		return state.State{}, false, err
	}
	if n == 0 {
		return state.State{}, false, nil
	}
	if index < 0 {
		index = 0
	}
	if index >= n {
		index = n - 1
	}
	var payload []byte
	err := s.DB.QueryRowContext(ctx, `
        SELECT state FROM pipeline_checkpoints ORDER BY seq ASC OFFSET $1 LIMIT 1
    `, index).Scan(&payload)
	if err != nil {
		return state.State{}, false, err
	}
	var st state.State
	if err := json.Unmarshal(payload, &st); err != nil {
		return state.State{}, false, fmt.Errorf("checkpoint: decode state: %w", err)
	}
	return st, true, nil
}

var _ HistoryStore = (*PGStore)(nil)
