package state

import "reflect"

// Per-field merge rules for folding parallel branch outputs back into the
// pre-group state. Branches run against independent clones of the same base,
// so sequence fields are merged base-relative: only the elements a branch
// appended beyond the shared prefix are concatenated, in declared branch
// order. Mapping fields are key-union merged with the later branch winning on
// key collisions. Scalars adopt a branch's value when it changed relative to
// the base, later branch winning when several changed it.

type reducer func(dst *State, base, branch State)

// reducers is the explicit merge function table. Order matters only for
// readability; determinism comes from the branch fold order in Fold.
var reducers = []reducer{
	mergeScalars,
	mergeSequences,
	mergeMappings,
}

// Fold merges branch outputs into the pre-group base in declaration order and
// returns the post-group state.
func Fold(base State, branches ...State) State {
	out := base.Clone()
	for _, br := range branches {
		for _, r := range reducers {
			r(&out, base, br)
		}
	}
	return out
}

func mergeScalars(dst *State, base, branch State) {
	if branch.Input != base.Input {
		dst.Input = branch.Input
	}
	if branch.OriginalInput != base.OriginalInput {
		dst.OriginalInput = branch.OriginalInput
	}
	if branch.Route != base.Route {
		dst.Route = branch.Route
	}
	if branch.MemoryQuery != base.MemoryQuery {
		dst.MemoryQuery = branch.MemoryQuery
	}
	if branch.MemoryUsed != base.MemoryUsed {
		dst.MemoryUsed = branch.MemoryUsed
	}
	if branch.CacheHit != base.CacheHit {
		dst.CacheHit = branch.CacheHit
	}
	if branch.RetrievalLatency != base.RetrievalLatency {
		dst.RetrievalLatency = branch.RetrievalLatency
	}
	if branch.DraftAnswer != base.DraftAnswer {
		dst.DraftAnswer = branch.DraftAnswer
	}
	if branch.Answer != base.Answer {
		dst.Answer = branch.Answer
	}
	if branch.ReviewedAnswer != base.ReviewedAnswer {
		dst.ReviewedAnswer = branch.ReviewedAnswer
	}
	if branch.Redacted != base.Redacted {
		dst.Redacted = branch.Redacted
	}
	if branch.Halt != base.Halt {
		dst.Halt = branch.Halt
	}
	if branch.DryRun != base.DryRun {
		dst.DryRun = branch.DryRun
	}
	if branch.HITLApproved != base.HITLApproved {
		dst.HITLApproved = branch.HITLApproved
	}
	if branch.RolledBack != base.RolledBack {
		dst.RolledBack = branch.RolledBack
	}
	if branch.ContentHash != base.ContentHash {
		dst.ContentHash = branch.ContentHash
	}
	if branch.RetryCount != base.RetryCount {
		dst.RetryCount = branch.RetryCount
	}
	if branch.MaxRetries != base.MaxRetries {
		dst.MaxRetries = branch.MaxRetries
	}
	if branch.LastError != base.LastError {
		dst.LastError = branch.LastError
	}
	if branch.Moderation != base.Moderation && branch.Moderation != nil {
		v := *branch.Moderation
		dst.Moderation = &v
	}
	if branch.Audit != base.Audit && branch.Audit != nil {
		a := *branch.Audit
		a.Issues = append([]string(nil), branch.Audit.Issues...)
		dst.Audit = &a
	}
	// A branch that replaced the document set wholesale wins; branches do not
	// interleave individual docs. Compared by content so a same-length
	// replacement still registers as a change.
	if !reflect.DeepEqual(branch.MemoryDocs, base.MemoryDocs) {
		dst.MemoryDocs = cloneDocs(branch.MemoryDocs)
	}
	if !reflect.DeepEqual(branch.Plan, base.Plan) {
		dst.Plan = append([]string(nil), branch.Plan...)
	}
	if !reflect.DeepEqual(branch.PlannedTools, base.PlannedTools) {
		dst.PlannedTools = cloneSpecs(branch.PlannedTools)
	}
}

func mergeSequences(dst *State, base, branch State) {
	if n := len(base.ToolResults); len(branch.ToolResults) > n {
		dst.ToolResults = append(dst.ToolResults, branch.ToolResults[n:]...)
	}
	if n := len(base.UsedTools); len(branch.UsedTools) > n {
		dst.UsedTools = append(dst.UsedTools, branch.UsedTools[n:]...)
	}
	if n := len(base.ToolErrors); len(branch.ToolErrors) > n {
		dst.ToolErrors = append(dst.ToolErrors, branch.ToolErrors[n:]...)
	}
	if n := len(base.Trace); len(branch.Trace) > n {
		dst.Trace = append(dst.Trace, branch.Trace[n:]...)
	}
}

func mergeMappings(dst *State, base, branch State) {
	dst.Timings = unionFloat(dst.Timings, base.Timings, branch.Timings)
	dst.Artifacts = unionAny(dst.Artifacts, base.Artifacts, branch.Artifacts)
	dst.Decisions = unionAny(dst.Decisions, base.Decisions, branch.Decisions)
	dst.Metrics = unionAny(dst.Metrics, base.Metrics, branch.Metrics)
}

func unionFloat(dst, base, branch map[string]float64) map[string]float64 {
	if len(branch) == 0 {
		return dst
	}
	if dst == nil {
		dst = map[string]float64{}
	}
	for k, v := range branch {
		if bv, ok := base[k]; ok && bv == v {
			continue // unchanged inherited key, keep whatever dst holds
		}
		dst[k] = v
	}
	return dst
}

func unionAny(dst, base, branch map[string]any) map[string]any {
	if len(branch) == 0 {
		return dst
	}
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range branch {
		if bv, ok := base[k]; ok && reflect.DeepEqual(bv, v) {
			continue // unchanged inherited key, keep whatever dst holds
		}
		dst[k] = v
	}
	return dst
}
