// Package profiler derives coarse project statistics used to size agent
// time budgets. Line counts are computed incrementally: each cached count
// remembers the fingerprint it was taken at, and only files whose current
// fingerprint differs are read again.
package profiler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"

	"github.com/ciatc/band/internal/config"
	"github.com/ciatc/band/internal/fsutil"
	"github.com/ciatc/band/internal/logging"
	"github.com/ciatc/band/internal/tracker"
)

const (
	// LineCacheFileName holds per-file line counts inside the cache directory.
	LineCacheFileName = "line_counts.json"
	lineLockFileName  = "line_counts.lock"
)

// SizeClass is a coarse project size.
type SizeClass string

const (
	Small  SizeClass = "small"
	Medium SizeClass = "medium"
	Large  SizeClass = "large"
)

// Stats summarizes the project for the conductor.
type Stats struct {
	FileCount        int       `json:"file_count"`
	TotalLines       int       `json:"total_lines"`
	ChangedFiles     []string  `json:"changed_files"`
	SizeClass        SizeClass `json:"size_class"`
	SuggestedTimeout int       `json:"suggested_timeout"`
}

// ChangeSource is the part of the tracker the profiler drives.
type ChangeSource interface {
	ComputeChangedFiles(ctx context.Context) ([]string, error)
	Snapshot() tracker.Snapshot
}

// Profiler computes Stats for one project.
type Profiler struct {
	root       string
	cacheDir   string
	cfg        config.ProfilerConfig
	maxTimeout int
	globs      []glob.Glob
	source     ChangeSource
	logger     *logging.Logger
}

// New creates a Profiler. maxTimeout caps the suggested timeout; zero means
// no cap.
func New(root, cacheDir string, cfg config.ProfilerConfig, maxTimeout int, source ChangeSource, logger *logging.Logger) (*Profiler, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	globs := make([]glob.Glob, 0, len(cfg.LineGlobs))
	for _, p := range cfg.LineGlobs {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid line glob %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return &Profiler{
		root:       root,
		cacheDir:   cacheDir,
		cfg:        cfg,
		maxTimeout: maxTimeout,
		globs:      globs,
		source:     source,
		logger:     logger.With("component", "profiler"),
	}, nil
}

// CurrentStats refreshes the change cache and returns the project statistics.
func (p *Profiler) CurrentStats(ctx context.Context) (Stats, error) {
	changed, err := p.source.ComputeChangedFiles(ctx)
	if err != nil {
		return Stats{}, err
	}
	snap := p.source.Snapshot()

	total, err := p.countLines(ctx, snap)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		FileCount:    snap.Len(),
		TotalLines:   total,
		ChangedFiles: changed,
	}
	st.SizeClass = p.Classify(st.FileCount)
	st.SuggestedTimeout = p.SuggestTimeout(st.SizeClass, len(changed))
	return st, nil
}

// Classify maps a file count to a size class.
func (p *Profiler) Classify(fileCount int) SizeClass {
	switch {
	case fileCount < p.cfg.SmallMaxFiles:
		return Small
	case fileCount < p.cfg.MediumMaxFiles:
		return Medium
	default:
		return Large
	}
}

// SuggestTimeout returns the default agent timeout in seconds for a size
// class, raised when many files changed and capped by the conductor maximum.
func (p *Profiler) SuggestTimeout(class SizeClass, changed int) int {
	timeout := p.cfg.LargeTimeoutSeconds
	switch class {
	case Small:
		timeout = p.cfg.SmallTimeoutSeconds
	case Medium:
		timeout = p.cfg.MediumTimeoutSeconds
	}

	var floor int
	switch {
	case changed > 100:
		floor = 300
	case changed > 50:
		floor = 240
	case changed > 20:
		floor = 180
	}
	timeout = max(timeout, floor)

	if p.maxTimeout > 0 {
		timeout = min(timeout, p.maxTimeout)
	}
	return timeout
}

func (p *Profiler) counted(rel string) bool {
	for _, g := range p.globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// lineEntry is one cached line count, tied to the fingerprint the file had
// when it was counted.
type lineEntry struct {
	Fingerprint string `json:"fingerprint"`
	Lines       int    `json:"lines"`
}

// countLines totals line counts over the snapshot. A file is read again only
// when its snapshot fingerprint differs from the one its cached count was
// taken at, so counts stay correct no matter who advanced the snapshot.
func (p *Profiler) countLines(ctx context.Context, snap tracker.Snapshot) (int, error) {
	lock := fsutil.NewFileLock(filepath.Join(p.cacheDir, lineLockFileName))
	if err := lock.Lock(); err != nil {
		return 0, err
	}
	defer func() { _ = lock.Unlock() }()

	path := filepath.Join(p.cacheDir, LineCacheFileName)
	cached := map[string]lineEntry{}
	if err := fsutil.ReadJSON(path, &cached); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("line cache unreadable, recounting", "error", err)
		cached = map[string]lineEntry{}
	}

	next := make(map[string]lineEntry, len(cached))
	total, recounted := 0, 0
	for rel, fp := range snap.Fingerprints {
		if err := ctx.Err(); err != nil {
			// Every entry carries its own fingerprint, so a partial pass
			// can be merged with what was cached before.
			for rel, e := range cached {
				if _, ok := next[rel]; !ok {
					next[rel] = e
				}
			}
			p.save(path, next)
			return 0, err
		}
		if !p.counted(rel) {
			continue
		}
		e, ok := cached[rel]
		if !ok || !tracker.Same(e.Fingerprint, fp) {
			n, err := countFileLines(filepath.Join(p.root, filepath.FromSlash(rel)))
			if err != nil {
				p.logger.Debug("skipping line count", "path", rel, "error", err)
				continue
			}
			e = lineEntry{Fingerprint: fp, Lines: n}
			recounted++
		}
		next[rel] = e
		total += e.Lines
	}

	p.save(path, next)
	p.logger.Debug("counted lines", "files", len(next), "recounted", recounted, "total", total)
	return total, nil
}

func (p *Profiler) save(path string, entries map[string]lineEntry) {
	if err := fsutil.WriteJSONAtomic(path, entries); err != nil {
		p.logger.Warn("failed to write line cache", "error", err)
	}
}

// countFileLines counts lines, including a final line without a newline.
func countFileLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	buf := make([]byte, 32*1024)
	lines := 0
	var last byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			lines += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if last != 0 && last != '\n' {
		lines++
	}
	return lines, nil
}
