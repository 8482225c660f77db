package agent

import (
	"github.com/ciatc/band/internal/invoke"
)

// Settings carries the per-agent configuration DefaultSpecs needs.
type Settings struct {
	// Models maps agents to model aliases.
	Models map[ID]string
	// Templates maps agents to prompt file names overriding "<agent>.md".
	Templates map[ID]string
	// PromptsDir is searched for prompt templates.
	PromptsDir string
	// CacheDir holds gilfoyle's dependency graph. Empty keeps it in memory.
	CacheDir string
}

// DefaultSpecs returns the built-in agents wired to inv.
func DefaultSpecs(inv invoke.Invoker, s Settings) []Spec {
	loader := NewPromptLoader(s.PromptsDir, s.Templates)
	tmpl := func(id ID) Handler {
		return &TemplateHandler{ID: id, Model: s.Models[id], Loader: loader, Invoker: inv}
	}

	return []Spec{
		{
			ID:             John,
			Role:           "Structure",
			Responsibility: "maps the directory structure and maintains the file index",
			Handler:        tmpl(John),
		},
		{
			ID:             George,
			Role:           "Narrative",
			Responsibility: "tracks the conversation narrative and project story",
			Handler:        tmpl(George),
		},
		{
			ID:             Paul,
			Role:           "Wild Idea",
			Responsibility: "offers one unconventional idea for the request",
			Handler:        tmpl(Paul),
		},
		{
			ID:             Gilfoyle,
			Role:           "Build Health",
			Responsibility: "assesses build risk and dependency impact of the changed files without a model call",
			Handler:        GilfoyleHandler(s.CacheDir),
		},
		{
			ID:             Pete,
			Role:           "Technical",
			Responsibility: "extracts technical details and code into documentation",
			DependsOn:      []ID{John},
			Handler:        tmpl(Pete),
		},
		{
			ID:             Ringo,
			Role:           "Synthesis",
			Responsibility: "synthesizes structure, narrative and technical context for the answer",
			DependsOn:      []ID{John, George, Pete},
			Handler:        tmpl(Ringo),
		},
		{
			ID:             Marie,
			Role:           "Tidying",
			Responsibility: "tidies documentation and temporary files after a response",
			DependsOn:      []ID{John, Pete},
			Handler:        tmpl(Marie),
		},
	}
}

// NewDefaultRegistry builds a Registry of the built-in agents.
func NewDefaultRegistry(inv invoke.Invoker, s Settings) (*Registry, error) {
	return NewRegistry(DefaultSpecs(inv, s)...)
}
