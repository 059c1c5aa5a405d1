package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ShellTool runs a small allowlist of read-only commands. Anything outside
// the allowlist is rejected before exec.
type ShellTool struct {
	allowed map[string]struct{}
}

// NewShellTool builds the tool with the permitted command names.
func NewShellTool(allowed []string) *ShellTool {
	set := make(map[string]struct{}, len(allowed))
	for _, cmd := range allowed {
		set[strings.TrimSpace(cmd)] = struct{}{}
	}
	return &ShellTool{allowed: set}
}

func (s *ShellTool) Name() string { return "shell" }

// Allowed reports whether a command name passes the allowlist.
func (s *ShellTool) Allowed(cmd string) bool {
	_, ok := s.allowed[cmd]
	return ok
}

func (s *ShellTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	raw, _ := args["cmd"].(string)
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", fmt.Errorf("shell requires a cmd argument")
	}
	if !s.Allowed(fields[0]) {
		return "", fmt.Errorf("command %q not allowed", fields[0])
	}
	out, err := exec.CommandContext(ctx, fields[0], fields[1:]...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", fields[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
