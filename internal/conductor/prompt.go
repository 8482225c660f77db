package conductor

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ciatc/band/internal/agent"
	"github.com/ciatc/band/internal/profiler"
)

// PromptFileName overrides the built-in classifier prompt when present in
// the prompts directory.
const PromptFileName = "conductor.md"

const defaultPrompt = `You are the conductor of a band of background analysis agents. Decide
whether any of them should run before the main assistant answers this request,
which ones, and how long they may take.

Request:
{user_prompt}

Project:
- files: {file_count}
- lines: {total_lines}
- size: {size_class}
- files changed since last run: {changed_files}

Available agents:
{agents}
Skip background analysis for simple questions, explanations and lookups.
Run it for implementation, refactoring, debugging and design work.
Suggested timeout based on {changed_files} changed files: {suggested_timeout}s.
The timeout may not exceed {max_timeout}s.

Reply with a single JSON object and nothing else:
{"should_run": true, "agents": ["name"], "timeout": 120, "priority": "low|medium|high", "reason": "short explanation"}`

// loadPrompt returns the prompt template from dir, or the built-in one.
func loadPrompt(dir string) string {
	if dir != "" {
		if data, err := os.ReadFile(filepath.Join(dir, PromptFileName)); err == nil && strings.TrimSpace(string(data)) != "" {
			return string(data)
		}
	}
	return defaultPrompt
}

func buildPrompt(tmpl, text string, stats profiler.Stats, reg *agent.Registry, candidates []agent.ID, maxTimeout int) string {
	return agent.Render(tmpl, map[string]string{
		"user_prompt":       text,
		"file_count":        strconv.Itoa(stats.FileCount),
		"total_lines":       strconv.Itoa(stats.TotalLines),
		"size_class":        string(stats.SizeClass),
		"changed_files":     strconv.Itoa(len(stats.ChangedFiles)),
		"suggested_timeout": strconv.Itoa(stats.SuggestedTimeout),
		"max_timeout":       strconv.Itoa(maxTimeout),
		"agents":            reg.Responsibilities(candidates),
	})
}
