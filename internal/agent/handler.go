package agent

import (
	"context"

	"github.com/ciatc/band/internal/invocation"
)

// Input is everything an agent sees for one run. Agents never share state
// with each other; upstream results arrive as a copied map.
type Input struct {
	// Prompt is the user's request text (empty for Stop runs without one).
	Prompt string
	// ProjectDir is the project root the hook fired in.
	ProjectDir string
	// TranscriptPath points at the host's conversation transcript, if known.
	TranscriptPath string
	// ChangedFiles lists project-relative paths changed since the last run.
	ChangedFiles []string
	// Upstream holds successful outputs of this agent's declared
	// dependencies that ran earlier in the same run.
	Upstream map[ID]string
	// Invocation identifies the hook invocation.
	Invocation invocation.Context
}

// Handler runs one agent.
type Handler interface {
	Run(ctx context.Context, in Input) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, in Input) (string, error)

// Run calls f(ctx, in).
func (f HandlerFunc) Run(ctx context.Context, in Input) (string, error) {
	return f(ctx, in)
}
