// Package watch reports project file changes as they happen, debounced, so
// caches can be refreshed between hook runs.
package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ciatc/band/internal/logging"
)

// DefaultDebounce collects bursts of editor writes into one notification.
const DefaultDebounce = 500 * time.Millisecond

// Filter reports whether a project-relative, slash-separated path is
// ignored.
type Filter func(rel string, isDir bool) bool

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	Ignore   Filter
	// OnChange receives the sorted relative paths touched since the last
	// call. It runs on the watch goroutine.
	OnChange func(paths []string)
	Logger   *logging.Logger
}

// Watcher watches a directory tree.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration
	ignore   Filter
	onChange func([]string)
	logger   *logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a Watcher for root. Call Start to begin watching.
func New(root string, opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Ignore == nil {
		opts.Ignore = func(string, bool) bool { return false }
	}
	if opts.OnChange == nil {
		opts.OnChange = func([]string) {}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	return &Watcher{
		watcher:  fw,
		root:     root,
		debounce: opts.Debounce,
		ignore:   opts.Ignore,
		onChange: opts.OnChange,
		logger:   opts.Logger.With("component", "watch"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start adds every non-ignored directory under root and starts the event
// loop.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.root); err != nil {
		_ = w.watcher.Close()
		close(w.done)
		return err
	}
	w.addTree(w.root)
	go w.loop()
	return nil
}

// Stop ends the event loop and waits for it to exit. It must follow Start
// and is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	<-w.done
}

// addTree watches dir and its subdirectories.
func (w *Watcher) addTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root {
			rel, ok := w.rel(path)
			if !ok || w.ignore(rel, true) {
				return filepath.SkipDir
			}
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Debug("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Many editors emit several events for one save.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	pending := make(map[string]bool)
	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if rel, keep := w.handle(ev); keep {
				pending[rel] = true
				timer.Reset(w.debounce)
			}

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			slices.Sort(paths)
			pending = make(map[string]bool)
			w.onChange(paths)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// handle filters one event, watching newly created directories. It returns
// the relative path when the event should be reported.
func (w *Watcher) handle(ev fsnotify.Event) (string, bool) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return "", false
	}
	rel, ok := w.rel(ev.Name)
	if !ok {
		return "", false
	}

	if ev.Op&fsnotify.Create != 0 && isDir(ev.Name) {
		if w.ignore(rel, true) {
			return "", false
		}
		w.addTree(ev.Name)
		return "", false
	}
	if w.ignore(rel, false) {
		return "", false
	}
	return rel, true
}

func isDir(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.IsDir()
}
