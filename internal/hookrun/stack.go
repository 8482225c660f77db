package hookrun

import (
	"fmt"
	"path/filepath"

	"github.com/ciatc/band/internal/agent"
	"github.com/ciatc/band/internal/conductor"
	"github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/invocation"
	"github.com/ciatc/band/internal/invoke"
	"github.com/ciatc/band/internal/lockgate"
	"github.com/ciatc/band/internal/logging"
	"github.com/ciatc/band/internal/orchestrator"
	"github.com/ciatc/band/internal/profiler"
	"github.com/ciatc/band/internal/tracker"
)

// Stack is every component wired for one project directory.
type Stack struct {
	ProjectDir   string
	CacheDir     string
	Config       *config.Config
	Registry     *agent.Registry
	Tracker      *tracker.Tracker
	Profiler     *profiler.Profiler
	Gate         *lockgate.Gate
	Orchestrator *orchestrator.Orchestrator
	Invoker      invoke.Invoker
	Logger       *logging.Logger
}

// StackOptions configures NewStack.
type StackOptions struct {
	Config     *config.Config
	ProjectDir string
	// Invoker may be nil; model-backed agents then fail and the conductor
	// uses its fallback policy.
	Invoker invoke.Invoker
	// Registry overrides the built-in agents.
	Registry *agent.Registry
	Logger   *logging.Logger
}

// Settings derives agent settings from configuration.
func Settings(cfg *config.Config, projectDir string) agent.Settings {
	s := agent.Settings{
		Models:     make(map[agent.ID]string),
		Templates:  make(map[agent.ID]string),
		PromptsDir: cfg.PromptsDir(projectDir),
		CacheDir:   cfg.CacheDir(projectDir),
	}
	for name, a := range cfg.Agents {
		id, err := agent.Parse(name)
		if err != nil {
			continue
		}
		if a.Model != "" {
			s.Models[id] = a.Model
		}
		if a.Template != "" {
			s.Templates[id] = a.Template
		}
	}
	return s
}

// NewStack wires the components for projectDir.
func NewStack(opts StackOptions) (*Stack, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	projectDir, err := filepath.Abs(opts.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project dir: %w", err)
	}
	cacheDir := cfg.CacheDir(projectDir)

	reg := opts.Registry
	if reg == nil {
		reg, err = agent.NewDefaultRegistry(opts.Invoker, Settings(cfg, projectDir))
		if err != nil {
			return nil, err
		}
	}

	tr := tracker.New(projectDir, cacheDir, cfg.Tracker, logger)
	prof, err := profiler.New(projectDir, cacheDir, cfg.Profiler, cfg.Conductor.MaxTimeoutSeconds, tr, logger)
	if err != nil {
		return nil, err
	}
	gate := lockgate.New(filepath.Join(cacheDir, lockgate.DirName), cfg.Locks, lockgate.WithLogger(logger))

	orch := orchestrator.New(orchestrator.Options{
		Registry:      reg,
		Gate:          gate,
		AgentTimeouts: orchestrator.AgentTimeouts(cfg),
		Budget:        config.Seconds(cfg.Orchestrator.OverallBudgetSeconds),
		MaxParallel:   cfg.Orchestrator.MaxParallel,
		Logger:        logger,
	})

	return &Stack{
		ProjectDir:   projectDir,
		CacheDir:     cacheDir,
		Config:       cfg,
		Registry:     reg,
		Tracker:      tr,
		Profiler:     prof,
		Gate:         gate,
		Orchestrator: orch,
		Invoker:      opts.Invoker,
		Logger:       logger,
	}, nil
}

// Conductor builds a conductor choosing among candidates.
func (s *Stack) Conductor(inv invocation.Context, candidates []string) *conductor.Conductor {
	ids := s.agentIDs(candidates)
	return conductor.New(conductor.Options{
		Config:     s.Config.Conductor,
		Registry:   s.Registry,
		Invoker:    s.Invoker,
		Candidates: ids,
		PromptsDir: s.Config.PromptsDir(s.ProjectDir),
		ProjectDir: s.ProjectDir,
		Invocation: inv,
		Logger:     s.Logger,
	})
}

// agentIDs parses configured agent names, dropping and logging unknown ones.
func (s *Stack) agentIDs(names []string) []agent.ID {
	ids := make([]agent.ID, 0, len(names))
	for _, name := range names {
		id, err := agent.Parse(name)
		if err != nil {
			s.Logger.Warn("ignoring unknown agent", "agent", name, "error", err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// PeekProfiler returns a profiler that reports changes without consuming
// them, for dry runs.
func (s *Stack) PeekProfiler() (*profiler.Profiler, error) {
	return profiler.New(s.ProjectDir, s.CacheDir, s.Config.Profiler, s.Config.Conductor.MaxTimeoutSeconds, s.Tracker.DryRun(), s.Logger)
}
