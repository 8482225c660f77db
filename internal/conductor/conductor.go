// Package conductor decides, per request, whether background agents run,
// which ones, and with what time budget.
//
// The judgment is delegated to a fast classifier model with a strict JSON
// contract. Any failure of that call, or any reply outside the contract,
// falls back to a deterministic policy: requests that open like a simple
// question are skipped, everything else runs every candidate agent with the
// maximum timeout. Decide never returns an error.
package conductor

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ciatc/band/internal/agent"
	"github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/errors"
	"github.com/ciatc/band/internal/invocation"
	"github.com/ciatc/band/internal/invoke"
	"github.com/ciatc/band/internal/logging"
	"github.com/ciatc/band/internal/profiler"
)

// Options configures a Conductor.
type Options struct {
	Config     config.ConductorConfig
	Registry   *agent.Registry
	Invoker    invoke.Invoker
	Candidates []agent.ID
	// PromptsDir may hold a conductor.md overriding the built-in prompt.
	PromptsDir string
	ProjectDir string
	Invocation invocation.Context
	Logger     *logging.Logger
}

// Conductor classifies requests.
type Conductor struct {
	cfg        config.ConductorConfig
	registry   *agent.Registry
	invoker    invoke.Invoker
	candidates []agent.ID
	prompt     string
	projectDir string
	invocation invocation.Context
	logger     *logging.Logger
}

// New creates a Conductor. Candidates are restricted to registered agents.
func New(opts Options) *Conductor {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	var candidates []agent.ID
	if opts.Registry != nil {
		candidates, _ = opts.Registry.Canonical(opts.Candidates)
	}
	return &Conductor{
		cfg:        opts.Config,
		registry:   opts.Registry,
		invoker:    opts.Invoker,
		candidates: candidates,
		prompt:     loadPrompt(opts.PromptsDir),
		projectDir: opts.ProjectDir,
		invocation: opts.Invocation,
		logger:     logger.With("component", "conductor"),
	}
}

// Candidates returns the agents the conductor may select.
func (c *Conductor) Candidates() []agent.ID {
	return append([]agent.ID(nil), c.candidates...)
}

// Decide classifies a request. It never fails: classifier errors and
// contract violations are logged and answered by Fallback.
func (c *Conductor) Decide(ctx context.Context, text string, stats profiler.Stats) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("conductor panicked", "panic", fmt.Sprint(r))
			d = c.Fallback(text)
		}
	}()

	if len(c.candidates) == 0 {
		return Skip("no candidate agents configured", SourceFallback)
	}
	if !c.cfg.Enabled || c.invoker == nil {
		return c.Fallback(text)
	}

	raw, err := c.classify(ctx, text, stats)
	if err == nil {
		d, err = parseResponse(raw, c.registry, c.candidates, c.cfg.MaxTimeoutSeconds)
	}
	if err == nil {
		err = d.Check(c.cfg.MaxTimeoutSeconds)
	}
	if err != nil {
		c.logger.Warn("classifier unusable, using fallback", "error", err)
		return c.Fallback(text)
	}

	c.logger.Info("decision",
		"should_run", d.ShouldRun,
		"agents", agent.Names(d.Agents),
		"timeout", d.TimeoutSeconds,
		"priority", d.Priority,
		"reason", d.Reason)
	return d
}

func (c *Conductor) classify(ctx context.Context, text string, stats profiler.Stats) (string, error) {
	timeout := config.Seconds(c.cfg.TimeoutSeconds)
	if timeout <= 0 {
		timeout = config.Seconds(config.Default().Conductor.TimeoutSeconds)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := c.invoker.Invoke(ctx, invoke.Request{
		Agent:      "conductor",
		Model:      c.cfg.Model,
		Prompt:     buildPrompt(c.prompt, text, stats, c.registry, c.candidates, c.cfg.MaxTimeoutSeconds),
		WorkDir:    c.projectDir,
		Invocation: c.invocation,
	})
	if err != nil {
		cause := err
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause = errors.Join(err, errors.NewTimeoutError("classifier", timeout))
		}
		return "", errors.NewClassifierError("classifier call failed", errors.Join(errors.ErrClassifierUnavailable, cause))
	}
	return raw, nil
}

// Fallback is the deterministic policy used without a usable classifier.
func (c *Conductor) Fallback(text string) Decision {
	if p, ok := MatchSkipPattern(text, c.cfg.SkipPatterns); ok {
		return Skip(fmt.Sprintf("simple request (%q)", p), SourceFallback)
	}
	if len(c.candidates) == 0 {
		return Skip("no candidate agents configured", SourceFallback)
	}
	timeout := c.cfg.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = config.Default().Conductor.MaxTimeoutSeconds
	}
	return Decision{
		ShouldRun:      true,
		Agents:         c.Candidates(),
		TimeoutSeconds: timeout,
		Priority:       PriorityMedium,
		Reason:         "classifier unavailable, running all candidates",
		Source:         SourceFallback,
	}
}

// MatchSkipPattern reports the first pattern that text starts with, ignoring
// case and leading space. A pattern only matches whole words, so "list"
// does not match "listen".
func MatchSkipPattern(text string, patterns []string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || !strings.HasPrefix(lower, p) {
			continue
		}
		next, _ := utf8.DecodeRuneInString(lower[len(p):])
		if len(lower) == len(p) || !(unicode.IsLetter(next) || unicode.IsDigit(next)) {
			return p, true
		}
	}
	return "", false
}
