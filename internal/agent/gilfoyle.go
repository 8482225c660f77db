package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ciatc/band/internal/depgraph"
)

// manifestFiles change the build for everyone when touched.
var manifestFiles = map[string]bool{
	"go.mod": true, "go.sum": true,
	"package.json": true, "package-lock.json": true, "yarn.lock": true, "pnpm-lock.yaml": true,
	"requirements.txt": true, "pyproject.toml": true, "setup.py": true, "poetry.lock": true,
	"Cargo.toml": true, "Cargo.lock": true,
	"Gemfile": true, "Gemfile.lock": true,
	"Package.swift": true, "Podfile": true,
	"pom.xml": true, "build.gradle": true, "build.gradle.kts": true,
	"Makefile": true, "CMakeLists.txt": true, "Dockerfile": true,
}

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".swift": true, ".rs": true, ".java": true, ".kt": true, ".c": true, ".h": true,
	".cpp": true, ".hpp": true, ".rb": true, ".php": true, ".cs": true,
}

// Risk is gilfoyle's assessment of a change set.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// BuildHealth summarizes the build impact of the changed files.
type BuildHealth struct {
	Risk      Risk
	Code      []string
	Manifests []string
	Dirs      int
	Impact    depgraph.Analysis
}

// AssessBuildHealth classifies changed files together with their impact on
// the rest of the project. Manifest changes, wide changes, dependency cycles
// and many callers of changed signatures are high risk.
func AssessBuildHealth(changed []string, impact depgraph.Analysis) BuildHealth {
	h := BuildHealth{Impact: impact}
	dirs := make(map[string]bool)
	for _, f := range changed {
		base := filepath.Base(f)
		switch {
		case manifestFiles[base]:
			h.Manifests = append(h.Manifests, f)
		case codeExtensions[strings.ToLower(filepath.Ext(f))]:
			h.Code = append(h.Code, f)
			dirs[filepath.Dir(f)] = true
		}
	}
	h.Dirs = len(dirs)
	sort.Strings(h.Manifests)
	sort.Strings(h.Code)

	affected, breaking := len(impact.Affected()), impact.Breaking()
	switch {
	case len(h.Manifests) > 0 || len(h.Code) > 15 || h.Dirs > 5,
		len(impact.Cycle) > 0 || breaking > 5 || affected > 15:
		h.Risk = RiskHigh
	case len(h.Code) > 5 || h.Dirs > 2,
		len(impact.Signatures) > 0 || breaking > 0 || affected > 5:
		h.Risk = RiskMedium
	default:
		h.Risk = RiskLow
	}
	return h
}

// Report renders the assessment as a short status block.
func (h BuildHealth) Report(totalChanged int) string {
	if totalChanged == 0 {
		return "No changes detected, build health nominal"
	}
	var sb strings.Builder
	affected := len(h.Impact.Affected())
	switch h.Risk {
	case RiskLow:
		fmt.Fprintf(&sb, "Safe: %d file(s) changed, low impact", totalChanged)
		if affected > 0 {
			fmt.Fprintf(&sb, ", %d file(s) depend on them", affected)
		}
		return sb.String()
	case RiskMedium:
		fmt.Fprintf(&sb, "Caution: %d code file(s) changed across %d director(ies), %d file(s) potentially affected\n",
			len(h.Code), h.Dirs, affected)
	default:
		fmt.Fprintf(&sb, "High Risk: %d code file(s) changed across %d director(ies), %d file(s) affected\n",
			len(h.Code), h.Dirs, affected)
	}
	if len(h.Impact.Cycle) > 0 {
		fmt.Fprintf(&sb, "   circular dependency: %s\n", strings.Join(h.Impact.Cycle, " -> "))
	}
	for _, m := range h.Manifests {
		fmt.Fprintf(&sb, "   build manifest changed: %s\n", m)
	}
	for i, sc := range h.Impact.Signatures {
		if i == 3 {
			fmt.Fprintf(&sb, "   ... and %d more signature change(s)\n", len(h.Impact.Signatures)-3)
			break
		}
		fmt.Fprintf(&sb, "   signature changed in %s: %s -> %s\n", sc.File, sc.Old, sc.New)
	}
	for i, im := range h.Impact.Impacts {
		if i == 5 {
			fmt.Fprintf(&sb, "   ... and %d more dependent(s)\n", len(h.Impact.Impacts)-5)
			break
		}
		mark := "->"
		if im.Breaking {
			mark = "!!"
		}
		fmt.Fprintf(&sb, "   %s %s depends on %s (%s)\n", mark, im.File, im.Changed, strings.Join(im.Reasons, "; "))
	}
	for i, c := range h.Code {
		if i == 5 {
			fmt.Fprintf(&sb, "   ... and %d more\n", len(h.Code)-5)
			break
		}
		fmt.Fprintf(&sb, "   changed: %s\n", c)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// GilfoyleHandler assesses build health natively. Changed sources are
// parsed into the dependency graph kept in cacheDir to find the files they
// affect; an empty cacheDir analyzes the changed files alone.
func GilfoyleHandler(cacheDir string) Handler {
	return HandlerFunc(func(ctx context.Context, in Input) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		var impact depgraph.Analysis
		if len(in.ChangedFiles) > 0 {
			var err error
			impact, err = depgraph.NewStore(in.ProjectDir, cacheDir, nil).Update(ctx, in.ChangedFiles)
			if err != nil {
				return "", err
			}
		}
		return AssessBuildHealth(in.ChangedFiles, impact).Report(len(in.ChangedFiles)), nil
	})
}
