package invoke

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/errors"
)

// MessagesClient is the slice of the Anthropic client the API invoker uses.
type MessagesClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

type sdkMessages struct {
	messages *anthropic.MessageService
}

func (s sdkMessages) New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return s.messages.New(ctx, params)
}

// APIInvoker sends prompts to the Anthropic Messages API. Agents that rely
// on the CLI's file tools get text-only answers from this backend.
type APIInvoker struct {
	client    MessagesClient
	models    map[string]string
	maxTokens int64
}

// NewAPIInvoker creates an API invoker around client. models maps aliases
// to API model names; unknown names are passed through unchanged.
func NewAPIInvoker(client MessagesClient, models map[string]string, maxTokens int) *APIInvoker {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	m := make(map[string]string, len(models))
	for k, v := range models {
		m[strings.ToLower(k)] = v
	}
	return &APIInvoker{client: client, models: m, maxTokens: int64(maxTokens)}
}

// NewAPIInvokerFromConfig builds an APIInvoker with the SDK client,
// reading the key from cfg.APIKeyEnv.
func NewAPIInvokerFromConfig(cfg config.InvokerConfig) (*APIInvoker, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("api backend: environment variable %s is not set", cfg.APIKeyEnv)
	}
	client := anthropic.NewClient(option.WithAPIKey(key))
	return NewAPIInvoker(sdkMessages{messages: &client.Messages}, cfg.Models, cfg.MaxTokens), nil
}

// ResolveModel maps an alias to a model name.
func (a *APIInvoker) ResolveModel(name string) string {
	if m, ok := a.models[strings.ToLower(name)]; ok {
		return m
	}
	return name
}

// Invoke implements Invoker.
func (a *APIInvoker) Invoke(ctx context.Context, req Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.ResolveModel(req.Model)),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	message, err := a.client.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("messages api: %w", ctxErr)
		}
		return "", fmt.Errorf("%w: messages api: %v", errors.ErrInvocationFailed, err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("%w: messages api returned no text", errors.ErrInvocationFailed)
	}
	return out, nil
}
