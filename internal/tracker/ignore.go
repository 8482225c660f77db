package tracker

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// alwaysExcluded directories are never walked.
var alwaysExcluded = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
}

// visibleHidden lists hidden directories that are still walked.
var visibleHidden = map[string]bool{
	".claude": true,
}

// ignoreRules decides which paths the walk skips.
type ignoreRules struct {
	cacheRel string // cache dir relative to root, slash-separated; empty if outside
	matcher  gitignore.Matcher
}

func newIgnoreRules(root, cacheDir string, patterns []string, useGitignore bool) *ignoreRules {
	r := &ignoreRules{}
	if rel, err := filepath.Rel(root, cacheDir); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		r.cacheRel = filepath.ToSlash(rel)
	}

	var ps []gitignore.Pattern
	if useGitignore {
		for _, line := range readGitignore(filepath.Join(root, ".gitignore")) {
			ps = append(ps, gitignore.ParsePattern(line, nil))
		}
	}
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" && !strings.HasPrefix(p, "#") {
			ps = append(ps, gitignore.ParsePattern(p, nil))
		}
	}
	if len(ps) > 0 {
		r.matcher = gitignore.NewMatcher(ps)
	}
	return r
}

func readGitignore(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// skipDir reports whether the directory at rel (slash-separated) is pruned.
func (r *ignoreRules) skipDir(rel, name string) bool {
	if alwaysExcluded[name] {
		return true
	}
	if strings.HasPrefix(name, ".") && !visibleHidden[name] {
		return true
	}
	if r.cacheRel != "" && rel == r.cacheRel {
		return true
	}
	return r.match(rel, true)
}

// skipFile reports whether the file at rel is ignored.
func (r *ignoreRules) skipFile(rel string) bool {
	return r.match(rel, false)
}

func (r *ignoreRules) match(rel string, isDir bool) bool {
	if r.matcher == nil {
		return false
	}
	return r.matcher.Match(strings.Split(rel, "/"), isDir)
}
