package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ciatc/band/internal/depgraph"
	"github.com/ciatc/band/internal/invocation"
	"github.com/ciatc/band/internal/invoke"
)

func TestTemplateHandler_Run(t *testing.T) {
	var got invoke.Request
	inv := invoke.InvokerFunc(func(ctx context.Context, req invoke.Request) (string, error) {
		got = req
		return "synthesized", nil
	})

	ictx := invocation.New()
	reg, err := NewDefaultRegistry(inv, Settings{Models: map[ID]string{Ringo: "sonnet"}})
	if err != nil {
		t.Fatal(err)
	}
	spec, _ := reg.Spec(Ringo)

	out, err := spec.Handler.Run(context.Background(), Input{
		Prompt:     "implement JWT authentication",
		ProjectDir: "/work/api",
		Upstream:   map[ID]string{John: "structure notes", Pete: "tech notes"},
		Invocation: ictx,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != "synthesized" {
		t.Errorf("Run() = %q", out)
	}

	if got.Agent != "ringo" || got.Model != "sonnet" || got.WorkDir != "/work/api" {
		t.Errorf("request = %+v", got)
	}
	if got.Invocation.ID != ictx.ID {
		t.Error("request should carry the invocation context")
	}
	for _, want := range []string{"implement JWT authentication", "structure notes", "tech notes", "[george_output not provided]", "api (/work/api)"} {
		if !strings.Contains(got.Prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, got.Prompt)
		}
	}
}

func TestTemplateHandler_PropagatesErrors(t *testing.T) {
	inv := invoke.InvokerFunc(func(context.Context, invoke.Request) (string, error) {
		return "", fmt.Errorf("boom")
	})
	h := &TemplateHandler{ID: Paul, Loader: NewPromptLoader("", nil), Invoker: inv}
	if _, err := h.Run(context.Background(), Input{}); err == nil {
		t.Error("Run() should return the invoker error")
	}

	h.Invoker = nil
	if _, err := h.Run(context.Background(), Input{}); err == nil {
		t.Error("Run() without an invoker should fail")
	}
}

func TestRecentTranscript(t *testing.T) {
	dir := t.TempDir()

	var lines []string
	for i := 1; i <= 15; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	path := filepath.Join(dir, "t.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got := RecentTranscript(path)
	if strings.Contains(got, "line 5\n") || !strings.HasPrefix(got, "line 6\n") {
		t.Errorf("RecentTranscript() should keep the last 10 lines, got %q", got)
	}

	big := filepath.Join(dir, "big.jsonl")
	if err := os.WriteFile(big, []byte(strings.Repeat("x", 5000)), 0644); err != nil {
		t.Fatal(err)
	}
	if got := RecentTranscript(big); len(got) != transcriptMaxChars {
		t.Errorf("RecentTranscript() length = %d, want %d", len(got), transcriptMaxChars)
	}

	wide := filepath.Join(dir, "wide.jsonl")
	content := "oldest " + strings.Repeat("é", 1500) + " newest"
	if err := os.WriteFile(wide, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	got = RecentTranscript(wide)
	if !utf8.ValidString(got) || len(got) > transcriptMaxChars {
		t.Errorf("RecentTranscript() = %d bytes, valid UTF-8 %v", len(got), utf8.ValidString(got))
	}
	if !strings.HasSuffix(got, " newest") || strings.Contains(got, "oldest") {
		t.Errorf("RecentTranscript() should keep the newest text, got ...%q", got[len(got)-20:])
	}

	if got := RecentTranscript(filepath.Join(dir, "missing")); got != noTranscript {
		t.Errorf("missing transcript = %q", got)
	}
	if got := RecentTranscript(""); got != noTranscript {
		t.Errorf("empty path = %q", got)
	}
}

func TestFirstCodeBlock(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", "just words", ""},
		{"language tag", "see\n```go\nfunc main() {}\n```\nthanks", "func main() {}"},
		{"no tag", "```\nx := 1\n```", "x := 1"},
		{"first block only", "```a\none\n```\n```b\ntwo\n```", "one"},
		{"unterminated", "```py\nprint(1)", "print(1)"},
		{"code on fence line", "```x = f(1)\ny\n```", "x = f(1)\ny"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstCodeBlock(tt.in); got != tt.want {
				t.Errorf("FirstCodeBlock() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTemplateValues(t *testing.T) {
	v := TemplateValues(Input{ProjectDir: "/p/demo"})
	if v["project_name"] != "demo" {
		t.Errorf("project_name = %q", v["project_name"])
	}
	if v["changed_files"] != noChanges {
		t.Errorf("changed_files = %q", v["changed_files"])
	}
	if v["recent_code"] != noCode {
		t.Errorf("recent_code = %q", v["recent_code"])
	}

	many := make([]string, maxListedChanges+3)
	for i := range many {
		many[i] = fmt.Sprintf("f%d.go", i)
	}
	v = TemplateValues(Input{ChangedFiles: many})
	if !strings.HasSuffix(v["changed_files"], "... and 3 more") {
		t.Errorf("long change list should be summarized, got tail %q", v["changed_files"][len(v["changed_files"])-20:])
	}
}

func TestAssessBuildHealth(t *testing.T) {
	many := func(n int, dir string) []string {
		var out []string
		for i := 0; i < n; i++ {
			out = append(out, fmt.Sprintf("%s/f%d.go", dir, i))
		}
		return out
	}

	tests := []struct {
		name    string
		changed []string
		want    Risk
	}{
		{"docs only", []string{"README.md", "docs/a.md"}, RiskLow},
		{"few code files", []string{"main.go", "pkg/a.go"}, RiskLow},
		{"manifest", []string{"go.mod"}, RiskHigh},
		{"many code files", many(6, "pkg"), RiskMedium},
		{"wide change", many(16, "pkg"), RiskHigh},
		{"several dirs", []string{"a/x.go", "b/x.go", "c/x.go"}, RiskMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AssessBuildHealth(tt.changed, depgraph.Analysis{}).Risk; got != tt.want {
				t.Errorf("Risk = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAssessBuildHealth_Impact(t *testing.T) {
	affected := func(n int) depgraph.Analysis {
		var a depgraph.Analysis
		for i := 0; i < n; i++ {
			a.Impacts = append(a.Impacts, depgraph.Impact{File: fmt.Sprintf("dep%d.go", i), Changed: "a.go", Reasons: []string{"imports"}})
		}
		return a
	}
	breaking := func(n int) depgraph.Analysis {
		a := affected(n)
		for i := range a.Impacts {
			a.Impacts[i].Breaking = true
		}
		return a
	}

	tests := []struct {
		name   string
		impact depgraph.Analysis
		want   Risk
	}{
		{"no dependents", depgraph.Analysis{}, RiskLow},
		{"few dependents", affected(3), RiskLow},
		{"several dependents", affected(6), RiskMedium},
		{"many dependents", affected(16), RiskHigh},
		{"signature change", depgraph.Analysis{Signatures: []depgraph.SignatureChange{{File: "a.go", Name: "F"}}}, RiskMedium},
		{"one broken caller", breaking(1), RiskMedium},
		{"many broken callers", breaking(6), RiskHigh},
		{"cycle", depgraph.Analysis{Cycle: []string{"a.py", "b.py", "a.py"}}, RiskHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AssessBuildHealth([]string{"a.go"}, tt.impact).Risk; got != tt.want {
				t.Errorf("Risk = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGilfoyleHandler(t *testing.T) {
	h := GilfoyleHandler("")

	out, err := h.Run(context.Background(), Input{})
	if err != nil || out != "No changes detected, build health nominal" {
		t.Errorf("no changes: (%q, %v)", out, err)
	}

	out, _ = h.Run(context.Background(), Input{ProjectDir: t.TempDir(), ChangedFiles: []string{"main.go"}})
	if out != "Safe: 1 file(s) changed, low impact" {
		t.Errorf("low risk: %q", out)
	}

	out, _ = h.Run(context.Background(), Input{ProjectDir: t.TempDir(), ChangedFiles: []string{"go.mod", "main.go"}})
	if !strings.HasPrefix(out, "High Risk:") || !strings.Contains(out, "build manifest changed: go.mod") {
		t.Errorf("high risk: %q", out)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Run(ctx, Input{}); err == nil {
		t.Error("cancelled context should fail")
	}
}

func TestGilfoyleHandler_DependencyImpact(t *testing.T) {
	project := t.TempDir()
	cacheDir := filepath.Join(project, ".band_cache")
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(project, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("lib/auth.py", "def login(user):\n    return user\n")
	write("app.py", "from lib.auth import login\n\ndef main():\n    return login('me')\n")

	h := GilfoyleHandler(cacheDir)
	if _, err := h.Run(context.Background(), Input{ProjectDir: project, ChangedFiles: []string{"app.py", "lib/auth.py"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cacheDir, depgraph.GraphFileName)); err != nil {
		t.Fatalf("dependency graph not persisted: %v", err)
	}

	write("lib/auth.py", "def login(user, password):\n    return user\n")
	out, err := h.Run(context.Background(), Input{ProjectDir: project, ChangedFiles: []string{"lib/auth.py"}})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Caution:",
		"signature changed in lib/auth.py: def login(user) -> def login(user, password)",
		"!! app.py depends on lib/auth.py (imports; calls changed login)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
