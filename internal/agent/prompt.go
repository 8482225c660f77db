package agent

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxValueLen bounds any single substituted value.
const MaxValueLen = 5000

const truncatedSuffix = "\n...[truncated]"

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// PromptLoader resolves prompt templates: <dir>/<name> if that file exists,
// otherwise the built-in default for the agent.
type PromptLoader struct {
	dir       string
	overrides map[ID]string
}

// NewPromptLoader creates a loader reading from dir. overrides maps an agent
// to a template file name used instead of "<agent>.md".
func NewPromptLoader(dir string, overrides map[ID]string) *PromptLoader {
	return &PromptLoader{dir: dir, overrides: overrides}
}

// Load returns the template for id and whether it came from disk.
func (l *PromptLoader) Load(id ID) (string, bool) {
	if l != nil && l.dir != "" {
		name := string(id) + ".md"
		if o := l.overrides[id]; o != "" {
			name = o
		}
		if data, err := os.ReadFile(filepath.Join(l.dir, name)); err == nil && len(strings.TrimSpace(string(data))) > 0 {
			return string(data), true
		}
	}
	return defaultTemplates[id], false
}

// Render substitutes {key} placeholders in tmpl from values. Values longer
// than MaxValueLen are cut with a truncation note. Placeholders with no
// value become "[key not provided]". Substituted text is never rescanned,
// so braces inside values are left alone.
func Render(tmpl string, values map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := values[key]
		if !ok {
			return "[" + key + " not provided]"
		}
		if len(v) > MaxValueLen {
			cut := MaxValueLen
			for cut > 0 && !isRuneStart(v[cut]) {
				cut--
			}
			v = v[:cut] + truncatedSuffix
		}
		return v
	})
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

var defaultTemplates = map[ID]string{
	John: `Review the file directory map and file index for this project ({project_name}).
If they do not exist, create them in the Documents directory.
The index lists file name, category tag and description, grouped by directory.
The directory map must match the files currently in the project.
If they exist, update them for the current structure.

Files changed since the last run:
{changed_files}`,

	George: `Track the narrative themes of this conversation and update the project narrative.

Recent transcript:
{transcript_summary}

The user says: {user_prompt}`,

	Paul: `Give one wild but potentially brilliant idea for: {user_prompt}`,

	Pete: `Extract technical details worth documenting from this request and update the technical notes.

Request: {user_prompt}

Code in the request:
{recent_code}

Current structure notes:
{john_output}`,

	Ringo: `Synthesize the context for project {project_name} ({cwd}) that will help answer:
{user_prompt}

Structure:
{john_output}

Narrative:
{george_output}

Technical:
{pete_output}`,

	Marie: `Tidy the project at {cwd}: check for uncommitted documentation, remove temporary files, and keep the documentation structure organized.

Files changed since the last run:
{changed_files}`,
}
