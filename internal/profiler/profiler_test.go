package profiler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/tracker"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newProfiler(t *testing.T, root string) *Profiler {
	t.Helper()
	cfg := config.Default()
	cacheDir := filepath.Join(root, ".band_cache")
	tr := tracker.New(root, cacheDir, cfg.Tracker, nil)
	p, err := New(root, cacheDir, cfg.Profiler, cfg.Conductor.MaxTimeoutSeconds, tr, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestCurrentStats_EmptyProject(t *testing.T) {
	st, err := newProfiler(t, t.TempDir()).CurrentStats(context.Background())
	if err != nil {
		t.Fatalf("CurrentStats() error = %v", err)
	}
	if st.FileCount != 0 || st.TotalLines != 0 || st.SizeClass != Small || st.SuggestedTimeout != 60 {
		t.Errorf("empty project stats = %+v", st)
	}
}

func TestCurrentStats_CountsLinesIncrementally(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "lib.py", "a = 1\nb = 2")
	writeFile(t, root, "notes.txt", "one\ntwo\nthree\n")

	p := newProfiler(t, root)
	st, err := p.CurrentStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.FileCount != 3 {
		t.Errorf("FileCount = %d, want 3", st.FileCount)
	}
	// notes.txt does not match the line globs.
	if st.TotalLines != 5 {
		t.Errorf("TotalLines = %d, want 5", st.TotalLines)
	}

	// Poison the cached count for main.go. An unchanged file keeps its cached
	// value, proving it was not re-read.
	cachePath := filepath.Join(root, ".band_cache", LineCacheFileName)
	var cached map[string]lineEntry
	data, err := os.ReadFile(cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &cached); err != nil {
		t.Fatal(err)
	}
	e := cached["main.go"]
	e.Lines = 100
	cached["main.go"] = e
	if data, err = json.Marshal(cached); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cachePath, data, 0644); err != nil {
		t.Fatal(err)
	}
	st, err = p.CurrentStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalLines != 102 || len(st.ChangedFiles) != 0 {
		t.Errorf("unchanged files should reuse cached counts, got %+v", st)
	}

	writeFile(t, root, "main.go", "package main\n")
	st, err = p.CurrentStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalLines != 3 {
		t.Errorf("changed file should be recounted, TotalLines = %d, want 3", st.TotalLines)
	}
}

func TestCurrentStats_RecountsAfterSnapshotAdvancedElsewhere(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")

	cfg := config.Default()
	cacheDir := filepath.Join(root, ".band_cache")
	tr := tracker.New(root, cacheDir, cfg.Tracker, nil)
	p, err := New(root, cacheDir, cfg.Profiler, cfg.Conductor.MaxTimeoutSeconds, tr, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.CurrentStats(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A tracker-only run absorbs the edit, so the next profile sees no change.
	writeFile(t, root, "main.go", "package main\n\nfunc a() {}\n\nfunc b() {}\n")
	if _, err := tr.ComputeChangedFiles(context.Background()); err != nil {
		t.Fatal(err)
	}

	st, err := p.CurrentStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(st.ChangedFiles) != 0 {
		t.Errorf("ChangedFiles = %v, want none", st.ChangedFiles)
	}
	if st.TotalLines != 5 {
		t.Errorf("TotalLines = %d, want 5", st.TotalLines)
	}
}

func TestCurrentStats_CancelledCountKeepsCacheUsable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "1\n2\n")
	writeFile(t, root, "b.go", "1\n")

	p := newProfiler(t, root)
	if _, err := p.CurrentStats(context.Background()); err != nil {
		t.Fatal(err)
	}
	writeFile(t, root, "a.go", "1\n2\n3\n4\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap := p.source.Snapshot()
	if _, err := p.countLines(ctx, snap); err == nil {
		t.Fatal("countLines() should fail on a cancelled context")
	}

	st, err := p.CurrentStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalLines != 5 {
		t.Errorf("TotalLines = %d, want 5", st.TotalLines)
	}
}

func TestCurrentStats_LegacyCacheIsRecounted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "1\n2\n")
	writeFile(t, root, ".band_cache/"+LineCacheFileName, `{"a.go": 100}`)

	st, err := newProfiler(t, root).CurrentStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalLines != 2 {
		t.Errorf("TotalLines = %d, want 2", st.TotalLines)
	}
}

func TestCurrentStats_PrunesRemovedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "1\n2\n")
	writeFile(t, root, "b.go", "1\n")

	p := newProfiler(t, root)
	if _, err := p.CurrentStats(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "b.go")); err != nil {
		t.Fatal(err)
	}
	st, err := p.CurrentStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalLines != 2 {
		t.Errorf("TotalLines = %d, want 2", st.TotalLines)
	}
	data, _ := os.ReadFile(filepath.Join(root, ".band_cache", LineCacheFileName))
	if strings.Contains(string(data), "b.go") {
		t.Errorf("line cache should drop removed files: %s", data)
	}
}

func TestCurrentStats_MediumProject(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 200; i++ {
		writeFile(t, root, fmt.Sprintf("pkg%d/f%d.go", i%10, i), "package x\n")
	}
	st, err := newProfiler(t, root).CurrentStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.SizeClass != Medium {
		t.Errorf("SizeClass = %s, want medium", st.SizeClass)
	}
	// Every file is new on the first run, so the change volume raises the
	// timeout past the medium default.
	if st.SuggestedTimeout != 300 {
		t.Errorf("SuggestedTimeout = %d, want 300", st.SuggestedTimeout)
	}
}

func TestClassify(t *testing.T) {
	p := newProfiler(t, t.TempDir())
	tests := []struct {
		files int
		want  SizeClass
	}{
		{0, Small}, {99, Small}, {100, Medium}, {499, Medium}, {500, Large},
	}
	for _, tt := range tests {
		if got := p.Classify(tt.files); got != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.files, got, tt.want)
		}
	}
}

func TestSuggestTimeout(t *testing.T) {
	p := newProfiler(t, t.TempDir())
	tests := []struct {
		class   SizeClass
		changed int
		want    int
	}{
		{Small, 0, 60},
		{Medium, 0, 120},
		{Large, 0, 180},
		{Small, 21, 180},
		{Small, 51, 240},
		{Large, 101, 300},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.class, tt.changed), func(t *testing.T) {
			if got := p.SuggestTimeout(tt.class, tt.changed); got != tt.want {
				t.Errorf("SuggestTimeout() = %d, want %d", got, tt.want)
			}
		})
	}

	p.maxTimeout = 200
	if got := p.SuggestTimeout(Large, 101); got != 200 {
		t.Errorf("SuggestTimeout() should be capped at 200, got %d", got)
	}
}

func TestNew_InvalidGlob(t *testing.T) {
	cfg := config.Default().Profiler
	cfg.LineGlobs = []string{"[oops"}
	if _, err := New(t.TempDir(), t.TempDir(), cfg, 300, nil, nil); err == nil {
		t.Error("New() should reject an invalid glob")
	}
}

func TestCountFileLines(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"one", 1},
		{"one\n", 1},
		{"one\ntwo", 2},
		{"\n\n", 2},
	}
	for i, tt := range tests {
		path := filepath.Join(dir, fmt.Sprintf("f%d", i))
		if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
			t.Fatal(err)
		}
		got, err := countFileLines(path)
		if err != nil || got != tt.want {
			t.Errorf("countFileLines(%q) = %d, %v, want %d", tt.content, got, err, tt.want)
		}
	}
}
