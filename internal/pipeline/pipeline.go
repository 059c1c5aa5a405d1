package pipeline

import (
	"context"
	"io"
	"log"

	"github.com/mohammad-safakhou/conductor/config"
	"github.com/mohammad-safakhou/conductor/internal/governance"
	"github.com/mohammad-safakhou/conductor/internal/graph"
	"github.com/mohammad-safakhou/conductor/internal/retrieval"
	"github.com/mohammad-safakhou/conductor/internal/state"
	"github.com/mohammad-safakhou/conductor/internal/tools"
	"github.com/mohammad-safakhou/conductor/provider"
)

// Pipeline wires the governed multi-step answer flow: plan, gate, parallel
// research and tool execution, synthesis, audit, review.
type Pipeline struct {
	cfg      *config.Config
	gate     *governance.Gate
	engine   *retrieval.Engine
	registry *tools.Registry
	llm      provider.Provider
	runner   *graph.Runner
	logger   *log.Logger
}

// PipelineOption configures assembly.
type PipelineOption func(*Pipeline)

// WithGate overrides the governance gate.
func WithGate(g *governance.Gate) PipelineOption {
	return func(p *Pipeline) { p.gate = g }
}

// WithEngine overrides the retrieval engine.
func WithEngine(e *retrieval.Engine) PipelineOption {
	return func(p *Pipeline) { p.engine = e }
}

// WithRegistry overrides the tool registry.
func WithRegistry(r *tools.Registry) PipelineOption {
	return func(p *Pipeline) { p.registry = r }
}

// WithProvider overrides the language-model provider.
func WithProvider(llm provider.Provider) PipelineOption {
	return func(p *Pipeline) { p.llm = llm }
}

// WithRunner overrides the step runner.
func WithRunner(r *graph.Runner) PipelineOption {
	return func(p *Pipeline) { p.runner = r }
}

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(l *log.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// New assembles a pipeline from config, filling in deterministic defaults
// for anything not injected.
func New(cfg *config.Config, opts ...PipelineOption) (*Pipeline, error) {
	p := &Pipeline{
		cfg:    cfg,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.llm == nil {
		llm, err := provider.New(cfg.LLM)
		if err != nil {
			return nil, err
		}
		p.llm = llm
	}
	if p.gate == nil {
		gov, err := governance.LoadPolicy(cfg.Governance)
		if err != nil {
			return nil, err
		}
		p.gate = governance.NewGate(gov, governance.WithModerator(p.llm.Moderate))
	}
	if p.engine == nil {
		cache := retrieval.NewCache(cfg.Retrieval, cfg.Storage.Redis, p.logger)
		p.engine = retrieval.NewEngine(cfg.Retrieval, retrieval.WithCache(cache))
	}
	if p.registry == nil {
		p.registry = defaultRegistry(cfg.Tools)
	}
	if p.runner == nil {
		p.runner = graph.New(graph.WithStepTimeout(cfg.Graph.StepTimeout))
	}
	return p, nil
}

func defaultRegistry(cfg config.ToolsConfig) *tools.Registry {
	var opts []tools.RegistryOption
	if cfg.RemoteBaseURL != "" {
		var remoteOpts []tools.RemoteOption
		if cfg.RemoteToken != "" {
			remoteOpts = append(remoteOpts, tools.WithBearerToken(cfg.RemoteToken))
		}
		opts = append(opts, tools.WithRemote(tools.NewRemoteClient(cfg.RemoteBaseURL, cfg.RemoteTimeout, remoteOpts...)))
	}
	r := tools.NewRegistry(opts...)
	r.Register(tools.NewShellTool(cfg.ShellAllowed))
	r.Register(tools.NewFetchTool(cfg.FetchTimeout))
	r.Register(tools.NewClockTool())
	return r
}

// Index loads the retrieval corpus.
func (p *Pipeline) Index(ctx context.Context, docs []retrieval.Document) error {
	if search, err := tools.NewSearchTool(docs); err == nil {
		p.registry.Register(search)
	} else {
		return err
	}
	return p.engine.Index(ctx, docs)
}

// Stages returns the scheduling plan for the runner. Research and tool
// execution fan out; everything else is sequential.
func (p *Pipeline) Stages() []graph.Stage {
	return []graph.Stage{
		graph.Seq("planner", p.plan),
		graph.Seq("governance", p.govern),
		graph.Par(
			graph.Step{Name: "researcher", Run: p.research},
			graph.Step{Name: "tool_exec", Run: p.executeTools},
		),
		graph.Seq("executor", p.synthesize),
		graph.Seq("audit", p.audit),
		graph.Seq("reviewer", p.review),
	}
}

// Run validates the request and drives it through every stage. An input
// that fails intake validation halts before any step runs, so nothing is
// checkpointed for it.
func (p *Pipeline) Run(ctx context.Context, runID, input string) (state.State, error) {
	st := state.New(input, p.cfg.Graph.MaxRetries)
	st, ok := p.gate.ValidateInput(st)
	if !ok {
		p.logger.Printf("[pipeline] run %s rejected at intake", runID)
		return st, nil
	}
	return p.runner.Run(ctx, runID, p.Stages(), st)
}

// Resume continues a previous run from a checkpoint.
func (p *Pipeline) Resume(ctx context.Context, runID, checkpointID string) (state.State, error) {
	return p.runner.Resume(ctx, runID, p.Stages(), checkpointID)
}

// govern adapts the gate chain to a pipeline step.
func (p *Pipeline) govern(ctx context.Context, st state.State) (state.State, error) {
	return p.gate.Check(ctx, st), nil
}
