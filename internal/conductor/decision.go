package conductor

import (
	"fmt"

	"github.com/ciatc/band/internal/agent"
)

// Priority is the classifier's urgency hint. It is diagnostic only: the
// orchestrator never preempts or reorders by it.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Source records how a decision was made.
type Source string

const (
	SourceClassifier Source = "classifier"
	SourceFallback   Source = "fallback"
	SourceStatic     Source = "static"
)

// Decision says whether and which agents run for one request.
type Decision struct {
	ShouldRun      bool       `json:"should_run"`
	Agents         []agent.ID `json:"agents"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	Priority       Priority   `json:"priority"`
	Reason         string     `json:"reason"`
	Source         Source     `json:"source"`
}

// Skip returns a decision that runs nothing.
func Skip(reason string, source Source) Decision {
	return Decision{Priority: PriorityLow, Reason: reason, Source: source}
}

// Static returns a decision that runs agents unconditionally. An empty agent
// list or non-positive timeout yields a skip.
func Static(agents []agent.ID, timeoutSeconds int, reason string) Decision {
	if len(agents) == 0 || timeoutSeconds <= 0 {
		return Skip(reason, SourceStatic)
	}
	return Decision{
		ShouldRun:      true,
		Agents:         agents,
		TimeoutSeconds: timeoutSeconds,
		Priority:       PriorityMedium,
		Reason:         reason,
		Source:         SourceStatic,
	}
}

// Check verifies the decision invariants against a timeout ceiling.
func (d Decision) Check(maxTimeout int) error {
	switch {
	case !d.ShouldRun && len(d.Agents) > 0:
		return fmt.Errorf("skip decision lists %d agents", len(d.Agents))
	case d.ShouldRun && len(d.Agents) == 0:
		return fmt.Errorf("run decision lists no agents")
	case len(d.Agents) > 0 && d.TimeoutSeconds <= 0:
		return fmt.Errorf("timeout %d is not positive", d.TimeoutSeconds)
	case len(d.Agents) > 0 && maxTimeout > 0 && d.TimeoutSeconds > maxTimeout:
		return fmt.Errorf("timeout %d exceeds maximum %d", d.TimeoutSeconds, maxTimeout)
	}
	seen := make(map[agent.ID]bool, len(d.Agents))
	for _, id := range d.Agents {
		if seen[id] {
			return fmt.Errorf("agent %s listed twice", id)
		}
		seen[id] = true
	}
	return nil
}
