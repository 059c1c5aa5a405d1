package graph

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/mohammad-safakhou/conductor/internal/checkpoint"
	"github.com/mohammad-safakhou/conductor/internal/state"
)

// StepFunc runs one pipeline node. It receives a copy of the state and
// returns the full successor state.
type StepFunc func(ctx context.Context, st state.State) (state.State, error)

// Step is a named node in the pipeline.
type Step struct {
	Name string
	Run  StepFunc
}

// Stage is one scheduling unit: either a single sequential step or a group
// of steps that run concurrently and are folded back together.
type Stage struct {
	Steps []Step
}

// Seq builds a single-step stage.
func Seq(name string, fn StepFunc) Stage {
	return Stage{Steps: []Step{{Name: name, Run: fn}}}
}

// Par builds a parallel stage. Member order is the fold order: when two
// branches write the same field, the later member wins.
func Par(steps ...Step) Stage {
	return Stage{Steps: steps}
}

// Parallel reports whether the stage fans out.
func (s Stage) Parallel() bool { return len(s.Steps) > 1 }

// ErrCheckpoint wraps a checkpoint append failure. Runs abort rather than
// continue with a hole in history.
var ErrCheckpoint = fmt.Errorf("checkpoint append failed")

// Runner drives a staged pipeline over a shared state record.
type Runner struct {
	store       checkpoint.Store
	logger      *log.Logger
	stepTimeout time.Duration
	now         func() time.Time
}

// Option configures runner behaviour.
type Option func(*Runner)

// WithCheckpoints sets the durable checkpoint store. Without one the run
// still executes but leaves no history.
func WithCheckpoints(store checkpoint.Store) Option {
	return func(r *Runner) { r.store = store }
}

// WithLogger sets the runner logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithStepTimeout bounds each step attempt with a context deadline.
func WithStepTimeout(d time.Duration) Option {
	return func(r *Runner) { r.stepTimeout = d }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		logger: log.New(io.Discard, "", 0),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the stages in order against the initial state and returns the
// final state. A halt code set by any step stops scheduling after the current
// stage completes; halting is a domain outcome, not an error. Errors are
// infrastructure failures (checkpoint writes), never step failures, which are
// absorbed into retry bookkeeping and the step_failed halt code.
func (r *Runner) Run(ctx context.Context, runID string, stages []Stage, initial state.State) (state.State, error) {
	return r.run(ctx, runID, stages, initial, "")
}

// Resume reconstructs a resumable state from the given checkpoint and replays
// the stages, skipping every step up to and including the checkpointed node.
// When the node sits inside a parallel group, the snapshot carries only that
// member's output, so the remaining members of the group run before later
// stages are scheduled.
func (r *Runner) Resume(ctx context.Context, runID string, stages []Stage, checkpointID string) (state.State, error) {
	if r.store == nil {
		return state.State{}, fmt.Errorf("graph: resume requires a checkpoint store")
	}
	st, err := r.store.Reconstruct(ctx, checkpointID)
	if err != nil {
		return state.State{}, err
	}
	cp, ok, err := r.store.Get(ctx, checkpointID)
	if err != nil {
		return state.State{}, err
	}
	if !ok {
		return state.State{}, checkpoint.ErrNotFound
	}
	return r.run(ctx, runID, stages, st, cp.Node)
}

func (r *Runner) run(ctx context.Context, runID string, stages []Stage, st state.State, skipThrough string) (state.State, error) {
	skipping := skipThrough != ""
	for _, stage := range stages {
		if skipping {
			if stageContains(stage, skipThrough) {
				skipping = false
				// A parallel-member snapshot holds none of its siblings'
				// outputs; run the rest of the group before moving on.
				if stage.Parallel() {
					var err error
					st, err = r.runParallel(ctx, runID, stage, st, skipThrough)
					if err != nil {
						return st, err
					}
				}
			}
			continue
		}
		if st.Halted() {
			break
		}
		var err error
		if stage.Parallel() {
			st, err = r.runParallel(ctx, runID, stage, st, "")
		} else {
			st, err = r.runSequential(ctx, runID, stage.Steps[0], st)
		}
		if err != nil {
			return st, err
		}
	}
	return st, nil
}

func stageContains(stage Stage, name string) bool {
	for _, s := range stage.Steps {
		if s.Name == name {
			return true
		}
	}
	return false
}

func (r *Runner) runSequential(ctx context.Context, runID string, step Step, st state.State) (state.State, error) {
	next := r.attempt(ctx, runID, step, st)
	if err := r.record(ctx, step.Name, next); err != nil {
		return next, err
	}
	return next, nil
}

// runParallel clones the base state per member, runs every member to
// completion even if a sibling halts, and folds the branch outputs back in
// declaration order. A non-empty skip names a member whose output the base
// already carries (a resume target); it is left out of the fan-out.
func (r *Runner) runParallel(ctx context.Context, runID string, stage Stage, base state.State, skip string) (state.State, error) {
	steps := stage.Steps
	if skip != "" {
		kept := make([]Step, 0, len(steps))
		for _, s := range steps {
			if s.Name != skip {
				kept = append(kept, s)
			}
		}
		steps = kept
	}
	if len(steps) == 0 {
		return base, nil
	}

	branches := make([]state.State, len(steps))
	var wg sync.WaitGroup
	for i, step := range steps {
		wg.Add(1)
		go func(i int, step Step) {
			defer wg.Done()
			branches[i] = r.attempt(ctx, runID, step, base.Clone())
		}(i, step)
	}
	wg.Wait()

	merged := state.Fold(base, branches...)
	for i, step := range steps {
		if err := r.record(ctx, step.Name, branches[i]); err != nil {
			return merged, err
		}
	}
	return merged, nil
}

// attempt runs one step with retry bookkeeping. Step errors and panics are
// retried until max_retries is exhausted, at which point the step_failed halt
// code is set on the incoming state.
func (r *Runner) attempt(ctx context.Context, runID string, step Step, st state.State) state.State {
	attempts := 0
	for {
		start := r.now()
		next, err := r.invoke(ctx, step, st)
		elapsed := r.now().Sub(start)
		recordStepMetrics(ctx, runID, step.Name, elapsed, err)

		if err == nil {
			next.LastError = ""
			next.RecordTiming(step.Name, elapsed)
			next.AppendTrace(step.Name, start, elapsed)
			return next
		}

		attempts++
		st.RetryCount = attempts
		st.LastError = err.Error()
		r.logger.Printf("[graph] step %s attempt %d failed: %v", step.Name, attempts, err)
		if attempts > st.MaxRetries {
			st.Halt = state.HaltStepFailed
			st.RecordTiming(step.Name, elapsed)
			st.AppendTrace(step.Name, start, elapsed)
			return st
		}
	}
}

// invoke runs the step function with the configured timeout and converts
// panics into errors so a misbehaving step cannot take down the runner. The
// step runs in its own goroutine so a step that ignores ctx cancellation
// cannot hold the scheduler past the deadline; on timeout the goroutine is
// abandoned with its private state copy and its eventual result discarded.
func (r *Runner) invoke(ctx context.Context, step Step, st state.State) (state.State, error) {
	if r.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.stepTimeout)
		defer cancel()
	}

	type result struct {
		st  state.State
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("step %s panicked: %v", step.Name, rec)}
			}
		}()
		next, err := step.Run(ctx, st)
		if err != nil {
			ch <- result{err: fmt.Errorf("step %s: %w", step.Name, err)}
			return
		}
		ch <- result{st: next}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return state.State{}, res.err
		}
		return res.st, nil
	case <-ctx.Done():
		return state.State{}, fmt.Errorf("step %s: %w", step.Name, ctx.Err())
	}
}

// record appends a checkpoint for the step output. Append failures abort the
// run so history never silently diverges from execution.
func (r *Runner) record(ctx context.Context, node string, st state.State) error {
	if r.store == nil {
		return nil
	}
	id, err := r.store.Append(ctx, node, st)
	if err != nil {
		return fmt.Errorf("%w: node %s: %v", ErrCheckpoint, node, err)
	}
	r.logger.Printf("[graph] checkpoint %s recorded for %s", id, node)
	return nil
}

var (
	metricsOnce    sync.Once
	stepDuration   otelmetric.Float64Histogram
	stepFailures   otelmetric.Int64Counter
	metricsInitErr error
)

func initGraphMetrics() {
	meter := otel.Meter("graph")
	var err error
	stepDuration, err = meter.Float64Histogram("pipeline_step_duration_seconds")
	if err != nil {
		metricsInitErr = err
		return
	}
	stepFailures, err = meter.Int64Counter("pipeline_step_failures_total")
	if err != nil {
		metricsInitErr = err
	}
}

func recordStepMetrics(ctx context.Context, runID, node string, dur time.Duration, err error) {
	metricsOnce.Do(initGraphMetrics)
	if metricsInitErr != nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("run_id", runID),
		attribute.String("node", node),
	}
	if stepDuration != nil {
		stepDuration.Record(ctx, dur.Seconds(), otelmetric.WithAttributes(attrs...))
	}
	if err != nil && stepFailures != nil {
		stepFailures.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
	}
}
