package tracker

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/fsutil"
	"github.com/ciatc/band/internal/logging"
)

const (
	// CacheFileName is the snapshot cache inside the cache directory.
	CacheFileName = "file_hashes.json"
	lockFileName  = "file_hashes.lock"
)

// Tracker computes changed files against a cached snapshot.
type Tracker struct {
	root      string
	cacheDir  string
	threshold int64
	workers   int
	rules     *ignoreRules
	logger    *logging.Logger

	mu       sync.Mutex
	snapshot Snapshot
	removed  []string
	scanned  bool
	now      func() time.Time
}

// New creates a Tracker for the project at root, caching in cacheDir.
func New(root, cacheDir string, cfg config.TrackerConfig, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	workers := cfg.HashWorkers
	if workers <= 0 {
		workers = 1
	}
	threshold := cfg.HashThresholdBytes
	if threshold <= 0 {
		threshold = config.Default().Tracker.HashThresholdBytes
	}
	return &Tracker{
		root:      root,
		cacheDir:  cacheDir,
		threshold: threshold,
		workers:   workers,
		rules:     newIgnoreRules(root, cacheDir, cfg.Ignore, cfg.UseGitignore),
		logger:    logger.With("component", "tracker"),
		now:       time.Now,
	}
}

// Root returns the project root.
func (t *Tracker) Root() string { return t.root }

// Ignored reports whether rel (slash-separated, relative to the root) is
// excluded from tracking, either itself or through a parent directory.
func (t *Tracker) Ignored(rel string, isDir bool) bool {
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if t.rules.skipDir(strings.Join(parts[:i], "/"), parts[i-1]) {
			return true
		}
	}
	if isDir {
		return t.rules.skipDir(rel, parts[len(parts)-1])
	}
	return t.rules.skipFile(rel)
}

// CachePath returns the path of the snapshot cache.
func (t *Tracker) CachePath() string {
	return filepath.Join(t.cacheDir, CacheFileName)
}

// ComputeChangedFiles walks the tree, returns the sorted project-relative
// paths that are new or whose fingerprint differs from the cached snapshot,
// and persists the new snapshot. Deleted files are dropped from the snapshot
// and reported by Removed.
func (t *Tracker) ComputeChangedFiles(ctx context.Context) ([]string, error) {
	return t.compute(ctx, true)
}

// Peek is ComputeChangedFiles without writing the cache, so the changes
// are still reported to the next hook run.
func (t *Tracker) Peek(ctx context.Context) ([]string, error) {
	return t.compute(ctx, false)
}

// DryRun returns a view of t whose ComputeChangedFiles is Peek.
func (t *Tracker) DryRun() DryRun { return DryRun{t: t} }

// DryRun is a read-only change source.
type DryRun struct{ t *Tracker }

// ComputeChangedFiles calls Peek.
func (d DryRun) ComputeChangedFiles(ctx context.Context) ([]string, error) { return d.t.Peek(ctx) }

// Snapshot returns the tracker's snapshot.
func (d DryRun) Snapshot() Snapshot { return d.t.Snapshot() }

func (t *Tracker) compute(ctx context.Context, persist bool) ([]string, error) {
	lock := fsutil.NewFileLock(filepath.Join(t.cacheDir, lockFileName))
	if err := lock.Lock(); err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock() }()

	prev := t.load()

	files, err := t.walk(ctx)
	if err != nil {
		return nil, err
	}
	fps, err := t.fingerprintAll(ctx, files)
	if err != nil {
		return nil, err
	}

	next := Snapshot{Fingerprints: make(map[string]string, len(fps)), LastUpdated: t.now()}
	var changed []string
	for i, f := range files {
		if fps[i] == "" {
			continue
		}
		next.Fingerprints[f.rel] = fps[i]
		if !Same(prev.Fingerprints[f.rel], fps[i]) {
			changed = append(changed, f.rel)
		}
	}

	var removed []string
	for path := range prev.Fingerprints {
		if _, ok := next.Fingerprints[path]; !ok {
			removed = append(removed, path)
		}
	}
	slices.Sort(changed)
	slices.Sort(removed)

	if persist {
		if err := fsutil.WriteJSONAtomic(t.CachePath(), toCache(next)); err != nil {
			// The result is still correct for this run; the next run rescans.
			t.logger.Warn("failed to write change cache", "error", err)
		}
	}

	t.mu.Lock()
	t.snapshot = next
	t.removed = removed
	t.scanned = true
	t.mu.Unlock()

	t.logger.Debug("computed changed files",
		"files", len(next.Fingerprints),
		"changed", len(changed),
		"removed", len(removed))
	return changed, nil
}

// load reads the cached snapshot. Missing or corrupt caches yield an empty
// snapshot so every file is reported as changed.
func (t *Tracker) load() Snapshot {
	var c cacheFile
	if err := fsutil.ReadJSON(t.CachePath(), &c); err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warn("change cache unreadable, rescanning", "error", err)
		}
		return Snapshot{Fingerprints: map[string]string{}}
	}
	return fromCache(c)
}

// Snapshot returns the snapshot from the last ComputeChangedFiles call, or
// the cached one if none ran yet.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.scanned {
		return t.load()
	}
	return t.snapshot.clone()
}

// Removed returns the files dropped by the last ComputeChangedFiles call.
func (t *Tracker) Removed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.removed)
}

type walkedFile struct {
	rel  string
	path string
	info fs.FileInfo
}

// walk lists regular files under root that are not ignored.
func (t *Tracker) walk(ctx context.Context) ([]walkedFile, error) {
	var files []walkedFile
	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == t.root {
				return err
			}
			// Unreadable entries are skipped, like files that vanish mid-walk.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == t.root {
			return nil
		}

		rel, relErr := filepath.Rel(t.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if t.rules.skipDir(rel, d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || t.rules.skipFile(rel) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		files = append(files, walkedFile{rel: rel, path: path, info: info})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// fingerprintAll fingerprints files on a bounded worker pool. Files that
// cannot be read get an empty fingerprint and are left out of the snapshot.
func (t *Tracker) fingerprintAll(ctx context.Context, files []walkedFile) ([]string, error) {
	fps := make([]string, len(files))

	var g errgroup.Group
	g.SetLimit(t.workers)
	for i, f := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fp, err := Fingerprint(f.path, f.info, t.threshold)
			if err != nil {
				t.logger.Debug("skipping unreadable file", "path", f.rel, "error", err)
				return nil
			}
			fps[i] = fp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fps, nil
}
