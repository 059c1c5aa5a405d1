package tools

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/mohammad-safakhou/conductor/internal/state"
)

// Tool executes one local capability.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Registry dispatches planned tool calls to local tools or the remote
// client. A tool failure becomes an error entry in the result, never a
// panic or an aborted step.
type Registry struct {
	local  map[string]Tool
	remote *RemoteClient
	logger *log.Logger
}

// RegistryOption configures the registry.
type RegistryOption func(*Registry)

// WithRemote attaches the remote tool-server client.
func WithRemote(c *RemoteClient) RegistryOption {
	return func(r *Registry) { r.remote = c }
}

// WithLogger sets the registry logger.
func WithLogger(l *log.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry builds an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		local:  map[string]Tool{},
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a local tool. Later registrations replace earlier ones.
func (r *Registry) Register(t Tool) {
	r.local[t.Name()] = t
}

// Names lists registered local tools in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.local))
	for name := range r.local {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute runs one planned call and returns its result. callID ties the
// result back to the plan entry.
func (r *Registry) Execute(ctx context.Context, callID string, spec state.ToolSpec) state.ToolResult {
	result := state.ToolResult{CallID: callID}
	output, err := r.dispatch(ctx, spec, &result)
	if err != nil {
		result.Error = err.Error()
		r.logger.Printf("[tools] %s failed: %v", result.Tool, err)
		return result
	}
	result.Output = output
	return result
}

func (r *Registry) dispatch(ctx context.Context, spec state.ToolSpec, result *state.ToolResult) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	if spec.Type == state.ToolRemote {
		result.Tool = fmt.Sprintf("%s:%s", spec.Server, spec.Method)
		if r.remote == nil {
			return "", fmt.Errorf("no remote client configured")
		}
		return r.remote.Call(ctx, spec.Method, spec.Payload)
	}
	result.Tool = spec.Name
	tool, ok := r.local[spec.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", spec.Name)
	}
	return tool.Invoke(ctx, spec.Args)
}
