package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/conductor/internal/state"
)

var urlRe = regexp.MustCompile(`https?://\S+`)

// Route values produced by the planner.
const (
	RouteDirect   = "direct"
	RouteResearch = "research"
	RouteTools    = "tools"
	RouteHybrid   = "hybrid"
)

// plan decomposes the request into an ordered task list and the tool calls
// needed to serve it. Decomposition is heuristic and deterministic; the
// resulting document must pass schema validation before it enters the state.
func (p *Pipeline) plan(ctx context.Context, st state.State) (state.State, error) {
	doc := buildPlan(st.Input)
	if err := ValidatePlan(doc); err != nil {
		return state.State{}, fmt.Errorf("planner: %w", err)
	}
	st.Route = doc.Route
	st.Plan = doc.Plan
	st.PlannedTools = doc.PlannedTools
	st.SetDecision("planner", map[string]any{
		"route":      doc.Route,
		"plan_steps": len(doc.Plan),
		"tool_calls": len(doc.PlannedTools),
	})
	return st, nil
}

func buildPlan(input string) PlanDocument {
	lower := strings.ToLower(input)
	var tools []state.ToolSpec

	for _, u := range urlRe.FindAllString(input, -1) {
		tools = append(tools, state.ToolSpec{
			Type: state.ToolLocal,
			Name: "fetch",
			Args: map[string]any{"url": u},
		})
	}
	if strings.Contains(lower, "time") || strings.Contains(lower, "date") || strings.Contains(lower, "today") {
		tools = append(tools, state.ToolSpec{Type: state.ToolLocal, Name: "clock"})
	}
	if cmd := shellRequest(lower); cmd != "" {
		tools = append(tools, state.ToolSpec{
			Type: state.ToolLocal,
			Name: "shell",
			Args: map[string]any{"cmd": cmd},
		})
	}
	if wantsSearchTool(lower) {
		tools = append(tools, state.ToolSpec{
			Type: state.ToolLocal,
			Name: "search",
			Args: map[string]any{"query": input},
		})
	}

	needsResearch := isQuestion(lower)
	route := RouteDirect
	plan := []string{"synthesize answer"}
	switch {
	case needsResearch && len(tools) > 0:
		route = RouteHybrid
		plan = []string{"retrieve context", "execute tools", "synthesize answer", "validate answer"}
	case len(tools) > 0:
		route = RouteTools
		plan = []string{"execute tools", "synthesize answer", "validate answer"}
	case needsResearch:
		route = RouteResearch
		plan = []string{"retrieve context", "synthesize answer", "validate answer"}
	}

	return PlanDocument{Route: route, Plan: plan, PlannedTools: tools}
}

// shellRequest extracts a diagnostic command request like "run df" or
// "show disk usage". Only read-only commands the shell tool allows by
// default are ever planned.
func shellRequest(lower string) string {
	switch {
	case strings.Contains(lower, "disk"):
		return "df -h"
	case strings.Contains(lower, "list files"), strings.Contains(lower, "run ls"):
		return "ls"
	case strings.Contains(lower, "working directory"), strings.Contains(lower, "run pwd"):
		return "pwd"
	}
	return ""
}

// wantsSearchTool recognizes explicit lookup requests that should hit the
// full-text index in addition to ranked retrieval.
func wantsSearchTool(lower string) bool {
	for _, marker := range []string{"search for", "look up", "find documents"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isQuestion(lower string) bool {
	for _, marker := range []string{"what", "how", "why", "when", "where", "who", "explain", "describe"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
