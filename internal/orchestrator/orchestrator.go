// Package orchestrator runs the agents a decision selects.
//
// Agents are partitioned into the registry's static phases. Phases run
// strictly in sequence; agents within a phase run concurrently, each behind
// its exclusive gate and under its own timeout. Lock contention skips an
// agent, and a failure, panic or timeout is recorded without stopping the
// run. An overall budget bounds the whole run: when it expires, in-flight
// agents time out and later phases are skipped.
package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ciatc/band/internal/agent"
	"github.com/ciatc/band/internal/conductor"
	"github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/errors"
	"github.com/ciatc/band/internal/lockgate"
	"github.com/ciatc/band/internal/logging"
)

// DefaultBudget bounds a run when no budget is configured.
const DefaultBudget = 10 * time.Minute

// Gate hands out per-agent locks.
type Gate interface {
	TryAcquire(name string) (*lockgate.Lock, error)
}

// Options configures an Orchestrator.
type Options struct {
	Registry *agent.Registry
	// Gate may be nil to run without cross-process exclusion.
	Gate Gate
	// AgentTimeouts caps individual agents below the decision timeout.
	AgentTimeouts map[agent.ID]time.Duration
	// Budget is the hard ceiling for a whole run.
	Budget time.Duration
	// MaxParallel bounds concurrent agents within one phase. Zero means
	// unbounded.
	MaxParallel int
	Logger      *logging.Logger
}

// Orchestrator schedules agents.
type Orchestrator struct {
	registry      *agent.Registry
	gate          Gate
	agentTimeouts map[agent.ID]time.Duration
	budget        time.Duration
	maxParallel   int
	logger        *logging.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	budget := opts.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Orchestrator{
		registry:      opts.Registry,
		gate:          opts.Gate,
		agentTimeouts: maps.Clone(opts.AgentTimeouts),
		budget:        budget,
		maxParallel:   opts.MaxParallel,
		logger:        logger,
	}
}

// AgentTimeouts reads per-agent timeouts from configuration.
func AgentTimeouts(cfg *config.Config) map[agent.ID]time.Duration {
	out := make(map[agent.ID]time.Duration)
	for name, a := range cfg.Agents {
		if id, err := agent.Parse(name); err == nil && a.TimeoutSeconds > 0 {
			out[id] = config.Seconds(a.TimeoutSeconds)
		}
	}
	return out
}

// Run executes the decision. It always returns a report; agent errors are
// recorded in it rather than returned.
func (o *Orchestrator) Run(ctx context.Context, d conductor.Decision, in agent.Input) *Report {
	report := &Report{
		RunID:    uuid.NewString(),
		Decision: d,
		Started:  time.Now(),
	}
	logger := o.logger.WithRun(report.RunID)
	defer func() { report.Duration = time.Since(report.Started) }()

	if !d.ShouldRun || len(d.Agents) == 0 {
		logger.Debug("nothing to run", "reason", d.Reason)
		return report
	}

	known, unknown := o.registry.Canonical(d.Agents)
	plan := o.registry.Plan(known)
	logger.Info("run started",
		"plan", plan.String(),
		"timeout_seconds", d.TimeoutSeconds,
		"budget", o.budget.String(),
		"priority", d.Priority)

	budgetCtx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	outputs := make(map[agent.ID]string)
	for _, phase := range plan {
		plog := logger.WithPhase(phase.Number)
		if err := budgetCtx.Err(); err != nil {
			plog.Warn("budget exhausted, skipping phase", "agents", agent.Names(phase.Agents))
			for _, id := range phase.Agents {
				report.Results = append(report.Results, o.skipped(id, phase.Number, "budget exhausted"))
			}
			continue
		}

		results := o.runPhase(budgetCtx, phase, d, in, outputs, plog)
		for _, r := range results {
			if r.Status == StatusSuccess {
				outputs[r.Agent] = r.Output
			}
		}
		report.Results = append(report.Results, results...)
	}

	for _, id := range unknown {
		report.Results = append(report.Results, Result{
			Agent:  id,
			Status: StatusSkipped,
			Error:  "agent not registered",
			err:    fmt.Errorf("%w: %s", errors.ErrUnknownAgent, id),
		})
	}

	logger.Info("run finished", "summary", report.Summary())
	return report
}

// runPhase acquires gates sequentially, then runs the acquired agents in
// parallel and waits for all of them.
func (o *Orchestrator) runPhase(ctx context.Context, phase agent.Phase, d conductor.Decision, in agent.Input, outputs map[agent.ID]string, logger *logging.Logger) []Result {
	results := make([]Result, len(phase.Agents))
	locks := make([]*lockgate.Lock, len(phase.Agents))
	runnable := make([]bool, len(phase.Agents))

	for i, id := range phase.Agents {
		if o.gate == nil {
			runnable[i] = true
			continue
		}
		lock, err := o.gate.TryAcquire(string(id))
		switch {
		case err == nil:
			locks[i], runnable[i] = lock, true
		case errors.Is(err, errors.ErrAlreadyHeld):
			logger.Info("agent already running elsewhere, skipping", "agent", id, "error", err)
			results[i] = o.skipped(id, phase.Number, err.Error())
		default:
			logger.Error("failed to acquire agent lock", "agent", id, "error", err)
			results[i] = o.failed(id, phase.Number, 0, errors.NewAgentError("lock unavailable", err))
		}
	}

	var g errgroup.Group
	if o.maxParallel > 0 {
		g.SetLimit(o.maxParallel)
	}
	for i, id := range phase.Agents {
		if !runnable[i] {
			continue
		}
		agentIn := o.inputFor(id, in, outputs)
		g.Go(func() error {
			results[i] = o.runAgent(ctx, id, phase.Number, d, agentIn, locks[i], logger.WithAgent(string(id)))
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// inputFor copies the run input for one agent, exposing only the outputs of
// its declared dependencies.
func (o *Orchestrator) inputFor(id agent.ID, in agent.Input, outputs map[agent.ID]string) agent.Input {
	spec, _ := o.registry.Spec(id)
	upstream := make(map[agent.ID]string, len(spec.DependsOn))
	for _, dep := range spec.DependsOn {
		if out, ok := outputs[dep]; ok {
			upstream[dep] = out
		}
	}
	in.Upstream = upstream
	in.ChangedFiles = slices.Clone(in.ChangedFiles)
	return in
}

func (o *Orchestrator) timeoutFor(id agent.ID, d conductor.Decision) time.Duration {
	timeout := config.Seconds(d.TimeoutSeconds)
	if t, ok := o.agentTimeouts[id]; ok && t > 0 && (timeout <= 0 || t < timeout) {
		timeout = t
	}
	if timeout <= 0 {
		timeout = o.budget
	}
	return timeout
}

type outcome struct {
	output string
	err    error
}

// runAgent runs one handler under its timeout. The handler runs in its own
// goroutine; if it ignores cancellation it is abandoned at the deadline.
func (o *Orchestrator) runAgent(ctx context.Context, id agent.ID, phase int, d conductor.Decision, in agent.Input, lock *lockgate.Lock, logger *logging.Logger) Result {
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release agent lock", "error", err)
		}
	}()

	if ctx.Err() != nil {
		return o.skipped(id, phase, "budget exhausted")
	}

	spec, _ := o.registry.Spec(id)
	timeout := o.timeoutFor(id, d)
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", errors.ErrAgentPanicked, r)}
			}
		}()
		out, err := spec.Handler.Run(actx, in)
		done <- outcome{output: out, err: err}
	}()

	logger.Debug("agent started", "timeout", timeout.String())

	var oc outcome
	select {
	case oc = <-done:
	case <-actx.Done():
		oc.err = actx.Err()
	}
	elapsed := time.Since(start)

	res := Result{Agent: id, Role: spec.Role, Phase: phase, Duration: elapsed}
	switch {
	case oc.err == nil:
		res.Status = StatusSuccess
		res.Output = oc.output
		logger.Info("agent succeeded", "duration", elapsed.String(), "output_bytes", len(oc.output))
		return res
	case actx.Err() != nil:
		// The deadline or the run budget fired, whatever the handler said.
		res.Status = StatusTimeout
		res.err = errors.NewAgentError("agent timed out",
			errors.Join(errors.NewTimeoutError(string(id), timeout), oc.err)).
			WithAgent(string(id)).WithPhase(phase)
		if ctx.Err() != nil {
			res.Error = "run budget exhausted after " + elapsed.Round(time.Millisecond).String()
		} else {
			res.Error = "timed out after " + timeout.String()
		}
	default:
		res.Status = StatusFailure
		res.err = errors.NewAgentError("agent failed", oc.err).WithAgent(string(id)).WithPhase(phase)
		res.Error = oc.err.Error()
	}
	logger.Warn("agent did not succeed", "status", res.Status, "error", res.err, "duration", elapsed.String())
	return res
}

func (o *Orchestrator) skipped(id agent.ID, phase int, reason string) Result {
	spec, _ := o.registry.Spec(id)
	return Result{Agent: id, Role: spec.Role, Phase: phase, Status: StatusSkipped, Error: reason}
}

func (o *Orchestrator) failed(id agent.ID, phase int, elapsed time.Duration, err *errors.AgentError) Result {
	spec, _ := o.registry.Spec(id)
	err = err.WithAgent(string(id)).WithPhase(phase)
	return Result{
		Agent:    id,
		Role:     spec.Role,
		Phase:    phase,
		Status:   StatusFailure,
		Error:    err.Error(),
		Duration: elapsed,
		err:      err,
	}
}
