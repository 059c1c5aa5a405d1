package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/conductor/internal/checkpoint"
	"github.com/mohammad-safakhou/conductor/internal/state"
)

func appendTool(name string) StepFunc {
	return func(ctx context.Context, st state.State) (state.State, error) {
		st.ToolResults = append(st.ToolResults, state.ToolResult{CallID: name, Tool: name, Output: "ok"})
		st.UsedTools = append(st.UsedTools, name)
		return st, nil
	}
}

func TestRunSequentialOrder(t *testing.T) {
	var order []string
	step := func(name string) StepFunc {
		return func(ctx context.Context, st state.State) (state.State, error) {
			order = append(order, name)
			return st, nil
		}
	}
	r := New()
	stages := []Stage{
		Seq("planner", step("planner")),
		Seq("executor", step("executor")),
		Seq("audit", step("audit")),
	}
	st, err := r.Run(context.Background(), "run-1", stages, state.New("q", 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Join(order, ",") != "planner,executor,audit" {
		t.Fatalf("unexpected order: %v", order)
	}
	if len(st.Trace) != 3 || st.Trace[0].Node != "planner" {
		t.Fatalf("unexpected trace: %+v", st.Trace)
	}
	if _, ok := st.Timings["executor"]; !ok {
		t.Fatalf("missing timing for executor: %+v", st.Timings)
	}
}

func TestRunParallelFoldOrder(t *testing.T) {
	r := New()
	stages := []Stage{
		Par(
			Step{Name: "researcher", Run: appendTool("search")},
			Step{Name: "tool_exec", Run: appendTool("shell")},
		),
	}
	st, err := r.Run(context.Background(), "run-1", stages, state.New("q", 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.ToolResults) != 2 {
		t.Fatalf("expected 2 tool results, got %+v", st.ToolResults)
	}
	// Fold order follows declaration order regardless of goroutine scheduling.
	if st.ToolResults[0].Tool != "search" || st.ToolResults[1].Tool != "shell" {
		t.Fatalf("unexpected fold order: %+v", st.ToolResults)
	}
	if len(st.UsedTools) != 2 {
		t.Fatalf("expected 2 used tools, got %+v", st.UsedTools)
	}
}

func TestRunHaltStopsScheduling(t *testing.T) {
	ran := false
	stages := []Stage{
		Seq("governance", func(ctx context.Context, st state.State) (state.State, error) {
			st.Halt = state.HaltModerationBlock
			return st, nil
		}),
		Seq("executor", func(ctx context.Context, st state.State) (state.State, error) {
			ran = true
			return st, nil
		}),
	}
	st, err := New().Run(context.Background(), "run-1", stages, state.New("q", 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ran {
		t.Fatal("executor ran after halt")
	}
	if st.Halt != state.HaltModerationBlock {
		t.Fatalf("expected moderation_block, got %s", st.Halt)
	}
}

func TestRunParallelSiblingsFinishOnHalt(t *testing.T) {
	var siblingRan atomic.Bool
	stages := []Stage{
		Par(
			Step{Name: "researcher", Run: func(ctx context.Context, st state.State) (state.State, error) {
				st.Halt = state.HaltToolBlock
				return st, nil
			}},
			Step{Name: "tool_exec", Run: func(ctx context.Context, st state.State) (state.State, error) {
				siblingRan.Store(true)
				st.UsedTools = append(st.UsedTools, "shell")
				return st, nil
			}},
		),
	}
	st, err := New().Run(context.Background(), "run-1", stages, state.New("q", 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !siblingRan.Load() {
		t.Fatal("sibling branch did not complete")
	}
	if st.Halt != state.HaltToolBlock {
		t.Fatalf("halt not propagated: %s", st.Halt)
	}
	if len(st.UsedTools) != 1 {
		t.Fatalf("sibling output lost: %+v", st.UsedTools)
	}
}

func TestRunRetriesThenStepFailed(t *testing.T) {
	calls := 0
	stages := []Stage{
		Seq("flaky", func(ctx context.Context, st state.State) (state.State, error) {
			calls++
			return state.State{}, errors.New("transient")
		}),
	}
	st, err := New().Run(context.Background(), "run-1", stages, state.New("q", 2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Initial attempt plus two retries.
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if st.Halt != state.HaltStepFailed {
		t.Fatalf("expected step_failed, got %s", st.Halt)
	}
	if st.RetryCount != 3 || !strings.Contains(st.LastError, "transient") {
		t.Fatalf("retry bookkeeping wrong: count=%d err=%q", st.RetryCount, st.LastError)
	}
}

func TestRunRetrySucceedsSecondAttempt(t *testing.T) {
	calls := 0
	stages := []Stage{
		Seq("flaky", func(ctx context.Context, st state.State) (state.State, error) {
			calls++
			if calls == 1 {
				return state.State{}, errors.New("transient")
			}
			st.Answer = "done"
			return st, nil
		}),
	}
	st, err := New().Run(context.Background(), "run-1", stages, state.New("q", 2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Halted() {
		t.Fatalf("unexpected halt: %s", st.Halt)
	}
	if st.Answer != "done" || st.LastError != "" {
		t.Fatalf("unexpected final state: %+v", st)
	}
}

func TestRunRecoversPanics(t *testing.T) {
	stages := []Stage{
		Seq("boom", func(ctx context.Context, st state.State) (state.State, error) {
			panic("kaput")
		}),
	}
	st, err := New().Run(context.Background(), "run-1", stages, state.New("q", 0))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Halt != state.HaltStepFailed {
		t.Fatalf("expected step_failed after panic, got %s", st.Halt)
	}
	if !strings.Contains(st.LastError, "kaput") {
		t.Fatalf("panic message lost: %q", st.LastError)
	}
}

func TestRunStepTimeout(t *testing.T) {
	stages := []Stage{
		Seq("slow", func(ctx context.Context, st state.State) (state.State, error) {
			select {
			case <-ctx.Done():
				return state.State{}, ctx.Err()
			case <-time.After(5 * time.Second):
				return st, nil
			}
		}),
	}
	r := New(WithStepTimeout(10 * time.Millisecond))
	st, err := r.Run(context.Background(), "run-1", stages, state.New("q", 0))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Halt != state.HaltStepFailed {
		t.Fatalf("expected step_failed on timeout, got %s", st.Halt)
	}
	if !strings.Contains(st.LastError, "deadline") {
		t.Fatalf("expected deadline error, got %q", st.LastError)
	}
}

func TestRunStepTimeoutIgnoringContext(t *testing.T) {
	stages := []Stage{
		Seq("stubborn", func(ctx context.Context, st state.State) (state.State, error) {
			// Deliberately ignores ctx.
			time.Sleep(2 * time.Second)
			return st, nil
		}),
	}
	r := New(WithStepTimeout(15 * time.Millisecond))
	start := time.Now()
	st, err := r.Run(context.Background(), "run-1", stages, state.New("q", 0))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("runner blocked past the deadline: %v", elapsed)
	}
	if st.Halt != state.HaltStepFailed {
		t.Fatalf("expected step_failed on timeout, got %s", st.Halt)
	}
	if !strings.Contains(st.LastError, "deadline") {
		t.Fatalf("expected deadline error, got %q", st.LastError)
	}
}

type failingStore struct{ checkpoint.Store }

func (f failingStore) Append(ctx context.Context, node string, st state.State) (string, error) {
	return "", errors.New("disk full")
}

func TestRunAbortsOnCheckpointFailure(t *testing.T) {
	stages := []Stage{
		Seq("planner", func(ctx context.Context, st state.State) (state.State, error) { return st, nil }),
	}
	r := New(WithCheckpoints(failingStore{}))
	_, err := r.Run(context.Background(), "run-1", stages, state.New("q", 0))
	if !errors.Is(err, ErrCheckpoint) {
		t.Fatalf("expected ErrCheckpoint, got %v", err)
	}
}

func TestRunCheckpointsEveryStep(t *testing.T) {
	store, err := checkpoint.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	r := New(WithCheckpoints(store))
	stages := []Stage{
		Seq("planner", func(ctx context.Context, st state.State) (state.State, error) { return st, nil }),
		Par(
			Step{Name: "researcher", Run: appendTool("search")},
			Step{Name: "tool_exec", Run: appendTool("shell")},
		),
		Seq("executor", func(ctx context.Context, st state.State) (state.State, error) { return st, nil }),
	}
	if _, err := r.Run(context.Background(), "run-1", stages, state.New("q", 1)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sums, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	// One record per step, parallel members included.
	if len(sums) != 4 {
		t.Fatalf("expected 4 checkpoints, got %d", len(sums))
	}
	if sums[0].Node != "executor" || sums[3].Node != "planner" {
		t.Fatalf("unexpected checkpoint order: %+v", sums)
	}
}

func TestResumeSkipsCompletedSteps(t *testing.T) {
	store, err := checkpoint.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	r := New(WithCheckpoints(store))

	var first []string
	mk := func(name string) StepFunc {
		return func(ctx context.Context, st state.State) (state.State, error) {
			first = append(first, name)
			return st, nil
		}
	}
	stages := []Stage{
		Seq("planner", mk("planner")),
		Seq("executor", mk("executor")),
		Seq("audit", mk("audit")),
	}
	if _, err := r.Run(context.Background(), "run-1", stages, state.New("q", 1)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sums, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var plannerID string
	for _, s := range sums {
		if s.Node == "planner" {
			plannerID = s.ID
		}
	}
	if plannerID == "" {
		t.Fatal("planner checkpoint not found")
	}

	var resumed []string
	mk2 := func(name string) StepFunc {
		return func(ctx context.Context, st state.State) (state.State, error) {
			resumed = append(resumed, name)
			return st, nil
		}
	}
	stages2 := []Stage{
		Seq("planner", mk2("planner")),
		Seq("executor", mk2("executor")),
		Seq("audit", mk2("audit")),
	}
	if _, err := r.Resume(context.Background(), "run-2", stages2, plannerID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if fmt.Sprint(resumed) != "[executor audit]" {
		t.Fatalf("unexpected resumed steps: %v", resumed)
	}
}

func TestResumeReRunsParallelSiblings(t *testing.T) {
	store, err := checkpoint.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	r := New(WithCheckpoints(store))

	stages := func(researcherCalls *atomic.Int32) []Stage {
		return []Stage{
			Seq("planner", func(ctx context.Context, st state.State) (state.State, error) { return st, nil }),
			Par(
				Step{Name: "researcher", Run: func(ctx context.Context, st state.State) (state.State, error) {
					researcherCalls.Add(1)
					st.MemoryDocs = append(st.MemoryDocs, state.MemoryDoc{ID: "d1", Text: "context"})
					return st, nil
				}},
				Step{Name: "tool_exec", Run: appendTool("shell")},
			),
			Seq("executor", func(ctx context.Context, st state.State) (state.State, error) {
				st.Answer = "done"
				return st, nil
			}),
		}
	}

	var firstCalls atomic.Int32
	if _, err := r.Run(context.Background(), "run-1", stages(&firstCalls), state.New("q", 1)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sums, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var researcherID string
	for _, s := range sums {
		if s.Node == "researcher" {
			researcherID = s.ID
		}
	}
	if researcherID == "" {
		t.Fatal("researcher checkpoint not found")
	}

	// The researcher snapshot carries no tool_exec output; resuming from it
	// must replay the sibling before synthesis.
	var resumedCalls atomic.Int32
	st, err := r.Resume(context.Background(), "run-2", stages(&resumedCalls), researcherID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumedCalls.Load() != 0 {
		t.Fatal("researcher re-ran despite being the resume target")
	}
	if len(st.UsedTools) != 1 || st.UsedTools[0] != "shell" {
		t.Fatalf("sibling tool output missing after resume: %+v", st.UsedTools)
	}
	if len(st.MemoryDocs) != 1 {
		t.Fatalf("checkpointed researcher output lost: %+v", st.MemoryDocs)
	}
	if st.Answer != "done" {
		t.Fatalf("later stages did not run: %+v", st)
	}
}
