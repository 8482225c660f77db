package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/ciatc/band/internal/agent"
	"github.com/ciatc/band/internal/conductor"
	"github.com/ciatc/band/internal/util"
)

// Bounds on the diagnostics section of Text.
const (
	maxDiagnostics     = 8
	maxDiagnosticRunes = 160
)

// Status is the terminal state of one agent in a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
	StatusSkipped Status = "skipped"
)

// Result is the outcome of one agent.
type Result struct {
	Agent    agent.ID      `json:"agent"`
	Role     string        `json:"role,omitempty"`
	Phase    int           `json:"phase"`
	Status   Status        `json:"status"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	err error
}

// Err returns the underlying error, if any.
func (r Result) Err() error { return r.err }

// Report is the merged outcome of a run.
type Report struct {
	RunID    string             `json:"run_id"`
	Decision conductor.Decision `json:"decision"`
	// Results are in phase order, then registry order within a phase.
	Results  []Result      `json:"results"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Empty reports whether no agent was scheduled.
func (r *Report) Empty() bool { return r == nil || len(r.Results) == 0 }

// Result returns the result for id.
func (r *Report) Result(id agent.ID) (Result, bool) {
	for _, res := range r.Results {
		if res.Agent == id {
			return res, true
		}
	}
	return Result{}, false
}

// Count returns how many results have status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Problems returns the results that did not succeed.
func (r *Report) Problems() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status != StatusSuccess {
			out = append(out, res)
		}
	}
	return out
}

// Text renders the successful outputs inside a <the-band> block, followed
// by a bounded diagnostics section when any agent failed, timed out or was
// skipped. A run where nothing succeeded renders a one-line notice before
// the diagnostics; an empty run renders nothing.
func (r *Report) Text() string {
	if r.Empty() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<the-band>\n")
	wrote := false
	for _, res := range r.Results {
		if res.Status != StatusSuccess || strings.TrimSpace(res.Output) == "" {
			continue
		}
		if wrote {
			sb.WriteString("\n")
		}
		header := res.Agent.Title()
		if res.Role != "" {
			header += " (" + res.Role + ")"
		}
		fmt.Fprintf(&sb, "## %s\n%s\n", header, strings.TrimSpace(res.Output))
		wrote = true
	}
	problems := r.Problems()
	if !wrote {
		fmt.Fprintf(&sb, "background analysis unavailable (%d of %d agents did not complete)\n",
			len(problems), len(r.Results))
	}
	if len(problems) > 0 {
		sb.WriteString("\n## Diagnostics\n")
		for i, res := range problems {
			if i == maxDiagnostics {
				fmt.Fprintf(&sb, "- and %d more\n", len(problems)-i)
				break
			}
			sb.WriteString(util.TruncateString(diagnosticLine(res), maxDiagnosticRunes))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("</the-band>")
	return sb.String()
}

// Diagnostics lists non-successful results, one per line.
func (r *Report) Diagnostics() string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	for _, res := range r.Problems() {
		sb.WriteString(diagnosticLine(res))
		sb.WriteString("\n")
	}
	return sb.String()
}

func diagnosticLine(res Result) string {
	line := fmt.Sprintf("- %s (phase %d): %s", res.Agent, res.Phase, res.Status)
	if res.Error != "" {
		line += ": " + strings.Join(strings.Fields(res.Error), " ")
	}
	return line
}

// Summary is a one-line count of outcomes.
func (r *Report) Summary() string {
	if r.Empty() {
		return "no agents ran"
	}
	return fmt.Sprintf("%d succeeded, %d failed, %d timed out, %d skipped in %s",
		r.Count(StatusSuccess), r.Count(StatusFailure), r.Count(StatusTimeout), r.Count(StatusSkipped),
		r.Duration.Round(time.Millisecond))
}
