// Package depgraph keeps a dependency graph of a project's Go, Python,
// JavaScript and TypeScript sources and reports which files a change
// affects.
//
// Changed files are parsed with tree-sitter for their imports, definitions
// and called names. The graph lives in <cache_dir>/dependency_graph.json and
// is updated under a cross-process flock, so it fills in as files change
// and survives between runs. Imports resolve to project files only: Go
// imports through the module path in go.mod, Python dotted and relative
// modules, JavaScript and TypeScript relative specifiers.
package depgraph

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/ciatc/band/internal/fsutil"
	"github.com/ciatc/band/internal/logging"
)

const (
	// GraphFileName holds the graph inside the cache directory.
	GraphFileName = "dependency_graph.json"
	lockFileName  = "dependency_graph.lock"

	maxSourceBytes = 1 << 20
)

// Graph maps slash-separated project-relative paths to parsed files.
type Graph struct {
	Files map[string]File `json:"files"`
}

// SignatureChange is a definition whose signature differs from the one
// recorded before.
type SignatureChange struct {
	File string `json:"file"`
	Name string `json:"name"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

// Impact is a file that depends on a changed file.
type Impact struct {
	File    string
	Changed string
	Reasons []string
	// Breaking is set when File calls a definition of Changed whose
	// signature changed.
	Breaking bool
}

// Analysis is what one Update learned about a change set.
type Analysis struct {
	// Analyzed lists the changed source files that were parsed.
	Analyzed   []string
	Removed    []string
	Signatures []SignatureChange
	Impacts    []Impact
	// Cycle is a dependency cycle reachable from a changed file, with its
	// first file repeated at the end. Nil when there is none.
	Cycle []string
}

// Affected returns the distinct impacted files.
func (a Analysis) Affected() []string {
	seen := map[string]bool{}
	for _, im := range a.Impacts {
		seen[im.File] = true
	}
	return sortedSet(seen)
}

// Breaking counts impacts that call a changed signature.
func (a Analysis) Breaking() int {
	n := 0
	for _, im := range a.Impacts {
		if im.Breaking {
			n++
		}
	}
	return n
}

// Store reads and writes the graph of one project.
type Store struct {
	root     string
	cacheDir string
	logger   *logging.Logger
}

// NewStore creates a Store for the project at root. An empty cacheDir keeps
// the graph in memory for a single Update.
func NewStore(root, cacheDir string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{root: root, cacheDir: cacheDir, logger: logger.With("component", "depgraph")}
}

// Path returns the graph file path.
func (s *Store) Path() string {
	return filepath.Join(s.cacheDir, GraphFileName)
}

// Load returns the persisted graph. A missing or unreadable graph is empty.
func (s *Store) Load() *Graph {
	g := &Graph{Files: map[string]File{}}
	if s.cacheDir == "" {
		return g
	}
	if err := fsutil.ReadJSON(s.Path(), g); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("dependency graph unreadable, rebuilding", "error", err)
		}
		return &Graph{Files: map[string]File{}}
	}
	if g.Files == nil {
		g.Files = map[string]File{}
	}
	return g
}

// Update parses the changed files into the graph, drops files that no
// longer exist and returns the impact of the change. Files parsed before a
// cancellation are still saved.
func (s *Store) Update(ctx context.Context, changed []string) (Analysis, error) {
	if s.cacheDir != "" {
		lock := fsutil.NewFileLock(filepath.Join(s.cacheDir, lockFileName))
		if err := lock.Lock(); err != nil {
			return Analysis{}, err
		}
		defer func() { _ = lock.Unlock() }()
	}

	g := s.Load()
	var a Analysis
	a.Removed = g.prune(s.root)
	err := s.parseChanged(ctx, g, changed, &a)
	s.save(g)
	if err != nil {
		return Analysis{}, err
	}

	idx := g.index(goModule(s.root))
	broken := map[string]map[string]bool{}
	for _, sc := range a.Signatures {
		if broken[sc.File] == nil {
			broken[sc.File] = map[string]bool{}
		}
		broken[sc.File][sc.Name] = true
	}
	for _, rel := range a.Analyzed {
		a.Impacts = append(a.Impacts, g.impacts(idx, rel, broken[rel])...)
	}
	a.Cycle = idx.cycle(a.Analyzed)

	s.logger.Debug("updated dependency graph",
		"files", len(g.Files),
		"analyzed", len(a.Analyzed),
		"impacted", len(a.Affected()),
		"cycle", len(a.Cycle) > 0)
	return a, nil
}

func (s *Store) parseChanged(ctx context.Context, g *Graph, changed []string, a *Analysis) error {
	for _, rel := range changed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if LanguageOf(rel) == "" {
			continue
		}
		src, err := readSource(filepath.Join(s.root, filepath.FromSlash(rel)))
		if err != nil {
			s.logger.Debug("skipping source", "path", rel, "error", err)
			continue
		}
		f, err := Parse(ctx, rel, src)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Debug("skipping unparsable source", "path", rel, "error", err)
			continue
		}
		if old, ok := g.Files[rel]; ok {
			a.Signatures = append(a.Signatures, signatureChanges(rel, old, f)...)
		}
		g.Files[rel] = f
		a.Analyzed = append(a.Analyzed, rel)
	}
	return nil
}

func (s *Store) save(g *Graph) {
	if s.cacheDir == "" {
		return
	}
	if err := fsutil.WriteJSONAtomic(s.Path(), g); err != nil {
		s.logger.Warn("failed to write dependency graph", "error", err)
	}
}

func readSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, errors.New("not a regular file")
	}
	if info.Size() > maxSourceBytes {
		return nil, errors.New("too large")
	}
	return os.ReadFile(path)
}

// prune drops files that no longer exist and returns them sorted.
func (g *Graph) prune(root string) []string {
	var removed []string
	for rel := range g.Files {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); errors.Is(err, fs.ErrNotExist) {
			delete(g.Files, rel)
			removed = append(removed, rel)
		}
	}
	sort.Strings(removed)
	return removed
}

// signatureChanges compares definitions by name. Names declared more than
// once in either version, such as methods of different types, are skipped.
func signatureChanges(rel string, old, cur File) []SignatureChange {
	prev, dup := make(map[string]string, len(old.Definitions)), map[string]bool{}
	for _, d := range old.Definitions {
		if _, ok := prev[d.Name]; ok {
			dup[d.Name] = true
		}
		prev[d.Name] = d.Signature
	}
	seen := map[string]bool{}
	for _, d := range cur.Definitions {
		if seen[d.Name] {
			dup[d.Name] = true
		}
		seen[d.Name] = true
	}
	var out []SignatureChange
	for _, d := range cur.Definitions {
		if sig, ok := prev[d.Name]; ok && !dup[d.Name] && sig != d.Signature {
			out = append(out, SignatureChange{File: rel, Name: d.Name, Old: sig, New: d.Signature})
		}
	}
	return out
}

// impacts lists the files that import changed, plus Go files of the same
// package that call into it.
func (g *Graph) impacts(idx *index, changed string, broken map[string]bool) []Impact {
	f := g.Files[changed]
	defs := make(map[string]bool, len(f.Definitions))
	for _, d := range f.Definitions {
		defs[d.Name] = true
	}

	importers := map[string]bool{}
	for _, other := range idx.dependents[changed] {
		importers[other] = true
	}
	candidates := maps.Clone(importers)
	if f.Language == Go {
		for other, of := range g.Files {
			if of.Language == Go && other != changed && path.Dir(other) == path.Dir(changed) {
				candidates[other] = true
			}
		}
	}

	var out []Impact
	for _, other := range sortedSet(candidates) {
		var called, breaking []string
		for _, c := range g.Files[other].Calls {
			switch {
			case broken[c]:
				breaking = append(breaking, c)
			case defs[c]:
				called = append(called, c)
			}
		}
		var reasons []string
		if importers[other] {
			reasons = append(reasons, "imports")
		}
		if len(breaking) > 0 {
			reasons = append(reasons, "calls changed "+strings.Join(breaking, ", "))
		}
		if len(called) > 0 {
			reasons = append(reasons, "calls "+strings.Join(called, ", "))
		}
		if len(reasons) == 0 {
			continue
		}
		out = append(out, Impact{File: other, Changed: changed, Reasons: reasons, Breaking: len(breaking) > 0})
	}
	return out
}

// index resolves imports to project files.
type index struct {
	deps       map[string][]string
	dependents map[string][]string
}

func (g *Graph) index(module string) *index {
	provides := map[string][]string{}
	for rel, f := range g.Files {
		for _, key := range provideKeys(rel, f.Language) {
			provides[key] = append(provides[key], rel)
		}
	}

	idx := &index{deps: map[string][]string{}, dependents: map[string][]string{}}
	for rel, f := range g.Files {
		seen := map[string]bool{}
		for _, imp := range f.Imports {
			key := requireKey(rel, imp, f.Language, module)
			if key == "" {
				continue
			}
			for _, target := range provides[key] {
				if target != rel {
					seen[target] = true
				}
			}
		}
		for _, target := range sortedSet(seen) {
			idx.deps[rel] = append(idx.deps[rel], target)
			idx.dependents[target] = append(idx.dependents[target], rel)
		}
	}
	for _, list := range idx.dependents {
		sort.Strings(list)
	}
	return idx
}

// provideKeys names what importing code may refer to a file as. Python
// files also answer to every trailing part of their module path, for
// source layouts rooted below the project.
func provideKeys(rel string, lang Language) []string {
	dir := path.Dir(rel)
	stem := strings.TrimSuffix(rel, path.Ext(rel))
	switch lang {
	case Go:
		return []string{"go:" + dir}
	case Python:
		mod := stem
		if path.Base(stem) == "__init__" {
			mod = dir
		}
		parts := strings.Split(mod, "/")
		keys := make([]string, 0, len(parts))
		for i := range parts {
			keys = append(keys, "py:"+strings.Join(parts[i:], "/"))
		}
		return keys
	case JavaScript, TypeScript:
		keys := []string{"js:" + stem}
		if path.Base(stem) == "index" {
			keys = append(keys, "js:"+dir)
		}
		return keys
	}
	return nil
}

// requireKey resolves an import written in importer to a provide key, or ""
// when it names something outside the project.
func requireKey(importer, imp string, lang Language, module string) string {
	switch lang {
	case Go:
		if module == "" {
			return ""
		}
		if imp == module {
			return "go:."
		}
		if rest, ok := strings.CutPrefix(imp, module+"/"); ok {
			return "go:" + rest
		}
	case Python:
		name := strings.TrimLeft(imp, ".")
		dots := len(imp) - len(name)
		name = strings.ReplaceAll(name, ".", "/")
		if dots == 0 {
			return "py:" + name
		}
		base := path.Dir(importer)
		for i := 1; i < dots; i++ {
			base = path.Dir(base)
		}
		return "py:" + path.Join(base, name)
	case JavaScript, TypeScript:
		if imp != "." && imp != ".." && !strings.HasPrefix(imp, "./") && !strings.HasPrefix(imp, "../") {
			return ""
		}
		p := path.Join(path.Dir(importer), imp)
		if LanguageOf(p) != "" {
			p = strings.TrimSuffix(p, path.Ext(p))
		}
		return "js:" + p
	}
	return ""
}

// cycle returns the first dependency cycle reachable from the given files.
func (idx *index) cycle(from []string) []string {
	const (
		active = 1
		done   = 2
	)
	state := map[string]int{}
	var stack, found []string

	var visit func(string) bool
	visit = func(n string) bool {
		state[n] = active
		stack = append(stack, n)
		for _, d := range idx.deps[n] {
			switch state[d] {
			case active:
				i := slices.Index(stack, d)
				found = append(slices.Clone(stack[i:]), d)
				return true
			case 0:
				if visit(d) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return false
	}

	for _, f := range from {
		if state[f] == 0 && visit(f) {
			return found
		}
	}
	return nil
}

// goModule reads the module path from the project's go.mod.
func goModule(root string) string {
	f, err := os.Open(filepath.Join(root, "go.mod"))
	if err != nil {
		return ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if fields := strings.Fields(sc.Text()); len(fields) == 2 && fields[0] == "module" {
			return strings.Trim(fields[1], "\"")
		}
	}
	return ""
}
