// Package invoke is the boundary between band and the language models its
// agents and conductor call. Everything behind an [Invoker] is opaque: a
// prompt goes in, text comes out, and the call may fail or be cancelled.
package invoke

import (
	"context"
	"fmt"
	"strings"

	"github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/invocation"
)

// BackendName identifies a supported invocation backend.
type BackendName string

const (
	BackendCLI BackendName = "cli"
	BackendAPI BackendName = "api"
)

// Request is one model call.
type Request struct {
	// Agent names the caller for logs and error context.
	Agent string
	// Model is a model alias (haiku, sonnet, opus) or a full model name.
	Model string
	// Prompt is the user-turn text.
	Prompt string
	// System is an optional system prompt. The CLI backend prepends it to
	// the prompt.
	System string
	// WorkDir is the directory the model's tools operate in (CLI backend).
	WorkDir string
	// Invocation marks spawned processes so their hooks pass through.
	Invocation invocation.Context
}

// Invoker calls a model. Implementations must return promptly once ctx is
// done and must treat empty output as an error.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req Request) (string, error)

// Invoke calls f(ctx, req).
func (f InvokerFunc) Invoke(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ErrUnknownBackend is returned when the configured backend is unsupported.
var ErrUnknownBackend = fmt.Errorf("unknown invoker backend")

// NewFromConfig builds an Invoker from configuration.
func NewFromConfig(cfg *config.Config) (Invoker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing config")
	}

	switch BackendName(strings.ToLower(cfg.Invoker.Backend)) {
	case BackendCLI, "":
		return NewCLIInvoker(cfg.Invoker), nil
	case BackendAPI:
		return NewAPIInvokerFromConfig(cfg.Invoker)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Invoker.Backend)
	}
}
