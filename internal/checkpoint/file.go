package checkpoint

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/conductor/internal/state"
)

// FileStore is a JSONL-backed checkpoint store: one line per snapshot,
// `{"id":...,"ts":...,"node":...,"state":{...}}`, human-inspectable and
// append-only. Appends are serialized behind a mutex and synced to disk
// before returning; reads re-open the file so they never block appends.
type FileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewFileStore creates the backing directory and returns a store writing to
// <dir>/history.jsonl.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("checkpoint dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, "history.jsonl"), now: time.Now}, nil
}

func (s *FileStore) Append(ctx context.Context, node string, st state.State) (string, error) {
	rec := Checkpoint{
		ID:    strings.ReplaceAll(uuid.New().String(), "-", ""),
		TS:    float64(s.now().UnixNano()) / float64(time.Second),
		Node:  node,
		State: st,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("open checkpoint log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("append checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync checkpoint log: %w", err)
	}
	return rec.ID, nil
}

func (s *FileStore) List(ctx context.Context, limit int) ([]Summary, error) {
	recs, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		out = append(out, Summary{ID: recs[i].ID, TS: recs[i].TS, Node: recs[i].Node})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *FileStore) Get(ctx context.Context, id string) (Checkpoint, bool, error) {
	recs, err := s.load()
	if err != nil {
		return Checkpoint{}, false, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, true, nil
		}
	}
	return Checkpoint{}, false, nil
}

func (s *FileStore) Reconstruct(ctx context.Context, id string) (state.State, error) {
	cp, ok, err := s.Get(ctx, id)
	if err != nil {
		return state.State{}, err
	}
	if !ok {
		return state.State{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return Resumable(cp.State), nil
}

// Rollback truncates the log after the given checkpoint and returns the
// state at that point. Destructive; later snapshots are discarded.
func (s *FileStore) Rollback(ctx context.Context, id string) (state.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load()
	if err != nil {
		return state.State{}, err
	}
	var keep []Checkpoint
	var found *Checkpoint
	for i := range recs {
		keep = append(keep, recs[i])
		if recs[i].ID == id {
			found = &keep[len(keep)-1]
			break
		}
	}
	if found == nil {
		return state.State{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return state.State{}, fmt.Errorf("rewrite checkpoint log: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, r := range keep {
		line, err := json.Marshal(r)
		if err != nil {
			f.Close()
			return state.State{}, fmt.Errorf("marshal checkpoint: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			return state.State{}, fmt.Errorf("rewrite checkpoint log: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return state.State{}, fmt.Errorf("rewrite checkpoint log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return state.State{}, fmt.Errorf("sync checkpoint log: %w", err)
	}
	if err := f.Close(); err != nil {
		return state.State{}, err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return state.State{}, fmt.Errorf("replace checkpoint log: %w", err)
	}
	st := found.State
	st.RolledBack = true
	return st, nil
}

// TimeTravel returns the state at a historical index without mutating the
// log. Index 0 is the earliest snapshot; out-of-range indices are clamped.
func (s *FileStore) TimeTravel(ctx context.Context, index int) (state.State, bool, error) {
	recs, err := s.load()
	if err != nil {
		return state.State{}, false, err
	}
	if len(recs) == 0 {
		return state.State{}, false, nil
	}
	if index < 0 {
		index = 0
	}
	if index > len(recs)-1 {
		index = len(recs) - 1
	}
	return recs[index].State, true, nil
}

func (s *FileStore) load() ([]Checkpoint, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open checkpoint log: %w", err)
	}
	defer f.Close()
	var out []Checkpoint
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec Checkpoint
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("decode checkpoint line: %w", err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan checkpoint log: %w", err)
	}
	return out, nil
}

var _ HistoryStore = (*FileStore)(nil)
