package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ciatc/band/internal/invoke"
	"github.com/ciatc/band/internal/util"
)

const (
	transcriptLines    = 10
	transcriptMaxChars = 2000
	noCode             = "[No code]"
	noTranscript       = "[No transcript available]"
	noChanges          = "[No changes detected]"
	maxListedChanges   = 200
)

// TemplateHandler fills a prompt template from the run input and sends it
// to a model.
type TemplateHandler struct {
	ID      ID
	Model   string
	Loader  *PromptLoader
	Invoker invoke.Invoker
}

// Run implements Handler.
func (h *TemplateHandler) Run(ctx context.Context, in Input) (string, error) {
	if h.Invoker == nil {
		return "", fmt.Errorf("agent %s: no invoker configured", h.ID)
	}
	tmpl, _ := h.Loader.Load(h.ID)
	if strings.TrimSpace(tmpl) == "" {
		return "", fmt.Errorf("agent %s: no prompt template", h.ID)
	}

	return h.Invoker.Invoke(ctx, invoke.Request{
		Agent:      string(h.ID),
		Model:      h.Model,
		Prompt:     Render(tmpl, TemplateValues(in)),
		WorkDir:    in.ProjectDir,
		Invocation: in.Invocation,
	})
}

// TemplateValues builds the placeholder values available to every template.
func TemplateValues(in Input) map[string]string {
	values := map[string]string{
		"user_prompt":        in.Prompt,
		"cwd":                in.ProjectDir,
		"project_name":       filepath.Base(in.ProjectDir),
		"changed_files":      formatChanges(in.ChangedFiles),
		"transcript_summary": RecentTranscript(in.TranscriptPath),
		"recent_code":        FirstCodeBlock(in.Prompt),
	}
	if values["recent_code"] == "" {
		values["recent_code"] = noCode
	}
	for id, out := range in.Upstream {
		values[string(id)+"_output"] = out
	}
	return values
}

func formatChanges(files []string) string {
	if len(files) == 0 {
		return noChanges
	}
	if len(files) > maxListedChanges {
		rest := len(files) - maxListedChanges
		return strings.Join(files[:maxListedChanges], "\n") + fmt.Sprintf("\n... and %d more", rest)
	}
	return strings.Join(files, "\n")
}

// RecentTranscript returns the last lines of the transcript at path, capped
// in length from the end so the newest text survives. A missing or unreadable transcript yields a placeholder.
func RecentTranscript(path string) string {
	if path == "" {
		return noTranscript
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return noTranscript
	}
	lines := strings.SplitAfter(string(data), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) > transcriptLines {
		lines = lines[len(lines)-transcriptLines:]
	}
	recent := util.TailBytes(strings.Join(lines, ""), transcriptMaxChars)
	if strings.TrimSpace(recent) == "" {
		return noTranscript
	}
	return recent
}

// FirstCodeBlock returns the contents of the first ``` fenced block in s,
// without the fence or language tag. An unterminated fence runs to the end.
func FirstCodeBlock(s string) string {
	_, rest, ok := strings.Cut(s, "```")
	if !ok {
		return ""
	}
	body, _, _ := strings.Cut(rest, "```")
	// Drop a language tag on the opening line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if tag := strings.TrimSpace(body[:nl]); tag != "" && !strings.ContainsAny(tag, " \t(){};=") {
			body = body[nl+1:]
		}
	}
	return strings.TrimSpace(body)
}
