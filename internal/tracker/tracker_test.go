package tracker

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ciatc/band/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

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

func newTracker(t *testing.T, root string, mutate func(*config.TrackerConfig)) *Tracker {
	t.Helper()
	cfg := config.Default().Tracker
	if mutate != nil {
		mutate(&cfg)
	}
	return New(root, filepath.Join(root, ".band_cache"), cfg, nil)
}

func mustCompute(t *testing.T, tr *Tracker) []string {
	t.Helper()
	changed, err := tr.ComputeChangedFiles(context.Background())
	if err != nil {
		t.Fatalf("ComputeChangedFiles() error = %v", err)
	}
	return changed
}

func TestComputeChangedFiles_SecondRunIsEmpty(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "pkg/a.go", "package pkg")
	writeFile(t, root, "README.md", "# demo")

	tr := newTracker(t, root, nil)

	first := mustCompute(t, tr)
	if want := []string{"README.md", "main.go", "pkg/a.go"}; !slices.Equal(first, want) {
		t.Errorf("first run = %v, want %v", first, want)
	}

	if second := mustCompute(t, tr); len(second) != 0 {
		t.Errorf("second run with no modifications = %v, want empty", second)
	}

	// A fresh tracker reads the persisted cache.
	if again := mustCompute(t, newTracker(t, root, nil)); len(again) != 0 {
		t.Errorf("fresh tracker = %v, want empty", again)
	}
}

func TestComputeChangedFiles_DetectsEditsAndAdds(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "one")
	writeFile(t, root, "b.txt", "two")

	tr := newTracker(t, root, nil)
	mustCompute(t, tr)

	writeFile(t, root, "a.txt", "one, edited")
	writeFile(t, root, "c.txt", "three")

	if got := mustCompute(t, tr); !slices.Equal(got, []string{"a.txt", "c.txt"}) {
		t.Errorf("changed = %v, want [a.txt c.txt]", got)
	}
}

func TestComputeChangedFiles_Removed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.txt", "k")
	writeFile(t, root, "gone.txt", "g")

	tr := newTracker(t, root, nil)
	mustCompute(t, tr)

	if err := os.Remove(filepath.Join(root, "gone.txt")); err != nil {
		t.Fatal(err)
	}
	if got := mustCompute(t, tr); len(got) != 0 {
		t.Errorf("deleting a file should not report changes, got %v", got)
	}
	if got := tr.Removed(); !slices.Equal(got, []string{"gone.txt"}) {
		t.Errorf("Removed() = %v", got)
	}
	if _, ok := tr.Snapshot().Fingerprints["gone.txt"]; ok {
		t.Error("removed file should be dropped from the snapshot")
	}
}

func TestComputeChangedFiles_CacheDeletedOrCorrupt(t *testing.T) {
	for _, corrupt := range []bool{false, true} {
		name := "deleted"
		if corrupt {
			name = "corrupt"
		}
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, root, "a.go", "a")
			writeFile(t, root, "b.go", "b")

			tr := newTracker(t, root, nil)
			mustCompute(t, tr)

			if corrupt {
				if err := os.WriteFile(tr.CachePath(), []byte("{not json"), 0644); err != nil {
					t.Fatal(err)
				}
			} else if err := os.Remove(tr.CachePath()); err != nil {
				t.Fatal(err)
			}

			if got := mustCompute(t, tr); !slices.Equal(got, []string{"a.go", "b.go"}) {
				t.Errorf("after cache loss = %v, want all files", got)
			}
			if _, err := os.Stat(tr.CachePath()); err != nil {
				t.Errorf("cache should be rebuilt: %v", err)
			}
			if got := mustCompute(t, tr); len(got) != 0 {
				t.Errorf("after rebuild = %v, want empty", got)
			}
		})
	}
}

func TestComputeChangedFiles_Exclusions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/app.go", "package src")
	writeFile(t, root, ".git/HEAD", "ref")
	writeFile(t, root, "node_modules/x/index.js", "x")
	writeFile(t, root, "__pycache__/m.pyc", "x")
	writeFile(t, root, ".venv/lib.py", "x")
	writeFile(t, root, ".claude/settings.json", "{}")
	writeFile(t, root, "build/out.bin", "x")
	writeFile(t, root, "debug.log", "x")
	writeFile(t, root, "notes/tmp.scratch", "x")
	writeFile(t, root, ".gitignore", "# comment\nbuild/\n*.log\n")

	tr := newTracker(t, root, func(c *config.TrackerConfig) {
		c.Ignore = []string{"*.scratch"}
	})

	got := mustCompute(t, tr)
	want := []string{".claude/settings.json", ".gitignore", "src/app.go"}
	if !slices.Equal(got, want) {
		t.Errorf("changed = %v, want %v", got, want)
	}
	for path := range tr.Snapshot().Fingerprints {
		if strings.HasPrefix(path, ".band_cache") {
			t.Errorf("cache dir should be excluded, found %s", path)
		}
	}
}

func TestComputeChangedFiles_GitignoreDisabled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "debug.log", "x")
	writeFile(t, root, ".gitignore", "*.log\n")

	tr := newTracker(t, root, func(c *config.TrackerConfig) { c.UseGitignore = false })
	if got := mustCompute(t, tr); !slices.Contains(got, "debug.log") {
		t.Errorf("with gitignore disabled, debug.log should be tracked: %v", got)
	}
}

func TestComputeChangedFiles_ThresholdKinds(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.txt", "tiny")
	writeFile(t, root, "large.txt", strings.Repeat("x", 64))

	tr := newTracker(t, root, func(c *config.TrackerConfig) { c.HashThresholdBytes = 32 })
	mustCompute(t, tr)

	snap := tr.Snapshot()
	if k := Kind(snap.Fingerprints["small.txt"]); k != KindHash {
		t.Errorf("small file kind = %s, want %s", k, KindHash)
	}
	if k := Kind(snap.Fingerprints["large.txt"]); k != KindMtime {
		t.Errorf("large file kind = %s, want %s", k, KindMtime)
	}

	// Growing past the threshold changes the kind, which counts as changed
	// even before comparing values.
	writeFile(t, root, "small.txt", strings.Repeat("y", 40))
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(filepath.Join(root, "small.txt"), later, later); err != nil {
		t.Fatal(err)
	}
	if got := mustCompute(t, tr); !slices.Equal(got, []string{"small.txt"}) {
		t.Errorf("changed = %v, want [small.txt]", got)
	}
}

func TestComputeChangedFiles_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTracker(t, root, nil).ComputeChangedFiles(ctx); err == nil {
		t.Error("ComputeChangedFiles() should fail on a cancelled context")
	}
}

func TestCacheFormat(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "a")
	tr := newTracker(t, root, nil)
	mustCompute(t, tr)

	data, err := os.ReadFile(tr.CachePath())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"fingerprints"`, `"last_updated"`, `"a.go": "sha256:`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("cache file missing %s:\n%s", key, data)
		}
	}

	snap := newTracker(t, root, nil).Snapshot()
	if snap.Len() != 1 || snap.LastUpdated.IsZero() {
		t.Errorf("Snapshot() from disk = %+v", snap)
	}
}

func TestSame(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"sha256:ab", "sha256:ab", true},
		{"sha256:ab", "sha256:cd", false},
		{"", "", false},
		{"mtime:1:2", "sha256:1:2", false},
	}
	for _, tt := range tests {
		if got := Same(tt.a, tt.b); got != tt.want {
			t.Errorf("Same(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestPeek_LeavesCacheUntouched(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "one")
	tr := newTracker(t, root, nil)
	mustCompute(t, tr)

	writeFile(t, root, "a.txt", "changed")
	writeFile(t, root, "b.txt", "new")

	for i := 0; i < 2; i++ {
		peeked, err := tr.DryRun().ComputeChangedFiles(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if want := []string{"a.txt", "b.txt"}; !slices.Equal(peeked, want) {
			t.Errorf("peek %d = %v, want %v", i, peeked, want)
		}
	}
	if n := tr.DryRun().Snapshot().Len(); n != 2 {
		t.Errorf("snapshot after peek has %d files, want 2", n)
	}

	// The real run still sees the changes.
	if got := mustCompute(t, tr); len(got) != 2 {
		t.Errorf("ComputeChangedFiles() after peek = %v", got)
	}
}

func TestIgnored(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "build/\n*.log\n")
	tr := newTracker(t, root, nil)

	tests := []struct {
		rel   string
		isDir bool
		want  bool
	}{
		{"src/app.go", false, false},
		{"src", true, false},
		{".git", true, true},
		{".git/HEAD", false, true},
		{"node_modules/x/index.js", false, true},
		{"build/out.bin", false, true},
		{"logs/debug.log", false, true},
		{".claude/settings.json", false, false},
		{".venv/lib.py", false, true},
		{".band_cache/file_hashes.json", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			if got := tr.Ignored(tt.rel, tt.isDir); got != tt.want {
				t.Errorf("Ignored(%q, %v) = %v, want %v", tt.rel, tt.isDir, got, tt.want)
			}
		})
	}
}
