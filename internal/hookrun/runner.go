// Package hookrun runs band for one host hook event.
//
// UserPromptSubmit profiles the project, asks the conductor which agents
// to run, runs them and appends their merged report to the passed-through
// payload. Stop reclaims stale locks and runs the maintenance agents
// unconditionally; its payload passes through unchanged and the report goes
// to the log and stderr. Anything else, including re-entrant invocations
// and unparsable payloads, passes through. The payload is always written.
package hookrun

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ciatc/band/internal/agent"
	"github.com/ciatc/band/internal/conductor"
	"github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/errors"
	"github.com/ciatc/band/internal/hook"
	"github.com/ciatc/band/internal/invocation"
	"github.com/ciatc/band/internal/invoke"
	"github.com/ciatc/band/internal/logging"
	"github.com/ciatc/band/internal/orchestrator"
	"github.com/ciatc/band/internal/profiler"
)

// Options configures a Runner.
type Options struct {
	Config   *config.Config
	Invoker  invoke.Invoker
	Registry *agent.Registry
	Logger   *logging.Logger
	// Stderr receives human-readable progress. Nil discards it.
	Stderr io.Writer
	// ProjectDir is used when the event carries no cwd.
	ProjectDir string
}

// Runner handles hook events.
type Runner struct {
	opts   Options
	writer *hook.Writer
	logger *logging.Logger
	stderr io.Writer
}

// NewRunner creates a Runner.
func NewRunner(opts Options) *Runner {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	return &Runner{
		opts:   opts,
		writer: hook.NewWriter(opts.Config.Hooks.MaxReportBytes),
		logger: logger,
		stderr: stderr,
	}
}

// Handle processes one payload and writes the response to out. The only
// error it returns is a failure to write.
func (r *Runner) Handle(ctx context.Context, inv invocation.Context, payload []byte, out io.Writer) error {
	return r.writer.Write(out, r.respond(ctx, inv, payload))
}

func (r *Runner) respond(ctx context.Context, inv invocation.Context, payload []byte) (resp hook.Response) {
	resp = hook.Response{Structured: payload}
	logger := r.logger.WithRun(inv.ID)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("hook panicked, passing payload through", "panic", fmt.Sprint(rec))
			resp = hook.Response{Structured: payload}
		}
	}()

	if inv.Reentrant {
		logger.Debug("re-entrant invocation, passing through", "parent", inv.Parent)
		return resp
	}

	ev, err := hook.ParseEvent(payload)
	if err != nil {
		logger.Warn("unparsable hook payload, passing through", "error", err)
		return resp
	}
	logger = logger.With("event", ev.Name, "session_id", ev.SessionID)

	switch ev.Name {
	case hook.EventUserPromptSubmit:
		resp.SupplementaryText = r.promptSubmit(ctx, inv, ev, logger)
	case hook.EventStop:
		r.stop(ctx, inv, ev, logger)
	default:
		logger.Debug("unhandled event, passing through")
	}
	return resp
}

func (r *Runner) projectDir(ev hook.Event) string {
	if ev.Cwd != "" {
		return ev.Cwd
	}
	if r.opts.ProjectDir != "" {
		return r.opts.ProjectDir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func (r *Runner) stack(ev hook.Event, logger *logging.Logger) (*Stack, error) {
	return NewStack(StackOptions{
		Config:     r.opts.Config,
		ProjectDir: r.projectDir(ev),
		Invoker:    r.opts.Invoker,
		Registry:   r.opts.Registry,
		Logger:     logger,
	})
}

func (r *Runner) promptSubmit(ctx context.Context, inv invocation.Context, ev hook.Event, logger *logging.Logger) string {
	stack, err := r.stack(ev, logger)
	if err != nil {
		logger.Error("failed to set up", "error", err)
		return ""
	}

	stats, err := stack.Profiler.CurrentStats(ctx)
	if err != nil {
		logger.Warn("profiling failed, continuing without project stats", "error", err)
		stats = profiler.Stats{SizeClass: profiler.Small}
	}

	d := stack.Conductor(inv, r.opts.Config.Hooks.PromptAgents).Decide(ctx, ev.Prompt, stats)
	logger.Info("conductor decided",
		"should_run", d.ShouldRun,
		"agents", agent.Names(d.Agents),
		"timeout_seconds", d.TimeoutSeconds,
		"source", d.Source,
		"reason", d.Reason)
	if !d.ShouldRun {
		fmt.Fprintf(r.stderr, "band: skipped (%s)\n", d.Reason)
		return ""
	}
	fmt.Fprintf(r.stderr, "band: %s\n  agents: %s | timeout: %ds | priority: %s\n",
		d.Reason, strings.Join(agent.Names(d.Agents), ", "), d.TimeoutSeconds, d.Priority)
	if n := len(stats.ChangedFiles); n > 0 {
		fmt.Fprintf(r.stderr, "  %d files changed since last run\n", n)
	}

	report := stack.Orchestrator.Run(ctx, d, agent.Input{
		Prompt:         ev.Prompt,
		ProjectDir:     stack.ProjectDir,
		TranscriptPath: ev.TranscriptPath,
		ChangedFiles:   stats.ChangedFiles,
		Invocation:     inv,
	})
	r.printReport(report)
	return report.Text()
}

func (r *Runner) stop(ctx context.Context, inv invocation.Context, ev hook.Event, logger *logging.Logger) {
	stack, err := r.stack(ev, logger)
	if err != nil {
		logger.Error("failed to set up", "error", err)
		return
	}

	reclaimed, err := stack.Gate.CleanStale()
	if err != nil {
		logger.Warn("stale lock cleanup incomplete", "error", err)
	}
	if len(reclaimed) > 0 {
		logger.Info("reclaimed stale locks", "agents", reclaimed)
	}

	// Profiling advances the change snapshot and the line cache together.
	stats, err := stack.Profiler.CurrentStats(ctx)
	if err != nil && !errors.IsCanceled(err) {
		logger.Warn("profiling failed", "error", err)
	}

	hooks := r.opts.Config.Hooks
	d := conductor.Static(stack.agentIDs(hooks.StopAgents), hooks.StopTimeoutSeconds, "post-response maintenance")
	if !d.ShouldRun {
		return
	}
	fmt.Fprintf(r.stderr, "band: background maintenance\n  agents: %s | timeout: %ds\n",
		strings.Join(agent.Names(d.Agents), ", "), d.TimeoutSeconds)

	report := stack.Orchestrator.Run(ctx, d, agent.Input{
		Prompt:         ev.Prompt,
		ProjectDir:     stack.ProjectDir,
		TranscriptPath: ev.TranscriptPath,
		ChangedFiles:   stats.ChangedFiles,
		Invocation:     inv,
	})
	r.printReport(report)
	logger.Info("maintenance report", "report", report.Text())
}

func (r *Runner) printReport(report *orchestrator.Report) {
	for _, res := range report.Results {
		switch res.Status {
		case orchestrator.StatusSuccess:
			fmt.Fprintf(r.stderr, "  ok      %s (%s)\n", res.Agent, res.Duration.Round(time.Millisecond))
		default:
			fmt.Fprintf(r.stderr, "  %-7s %s: %s\n", res.Status, res.Agent, res.Error)
		}
	}
	fmt.Fprintf(r.stderr, "band: %s\n", report.Summary())
}
