// Package watcher reports files matching glob patterns when they are created or written.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/embedkit/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches the base directories of a set of doublestar patterns, recursively, and
// calls onChange once a matching file has been quiet for the debounce interval.
type Watcher struct {
	patterns []string
	onChange func(path string)
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	timers  map[string]*time.Timer
	watched map[string]struct{}

	done     chan struct{}
	stopOnce sync.Once
}

type Option func(*Watcher)

func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must be quiet before onChange fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

func New(patterns []string, onChange func(path string), opts ...Option) *Watcher {
	w := &Watcher{
		onChange: onChange,
		debounce: defaultDebounce,
		timers:   make(map[string]*time.Timer),
		watched:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	for _, p := range patterns {
		w.patterns = append(w.patterns, filepath.Clean(p))
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.LoggerOrNop(w.logger).Named("watcher")
	return w
}

// Roots returns the directories that are watched for the patterns.
func Roots(patterns []string) []string {
	seen := make(map[string]struct{})
	var roots []string
	for _, p := range patterns {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(filepath.Clean(p)))
		root := filepath.FromSlash(base)
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		roots = append(roots, root)
	}
	return roots
}

// Match reports whether path matches any pattern.
func (w *Watcher) Match(path string) bool {
	path = filepath.Clean(path)
	for _, p := range w.patterns {
		if ok, _ := doublestar.PathMatch(p, path); ok {
			return true
		}
	}
	return false
}

// Start watches every pattern root. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.fsw = fsw
	for _, root := range Roots(w.patterns) {
		if err := w.addTreeLocked(root); err != nil {
			w.mu.Unlock()
			_ = fsw.Close()
			return err
		}
	}
	w.mu.Unlock()
	w.logger.Debug("watcher started", zap.Strings("patterns", w.patterns))
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) addTreeLocked(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if _, ok := w.watched[path]; ok {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		w.watched[path] = struct{}{}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.Match(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
	}
}

// handleNewDirectory watches a directory created under a root and reports the matching
// files already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	if err := w.addTreeLocked(dir); err != nil {
		w.logger.Debug("watch new directory failed", zap.String("path", dir), zap.Error(err))
	}
	w.mu.Unlock()
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && w.Match(path) {
			w.schedule(path)
		}
		return nil
	})
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.logger.Debug("file changed", zap.String("path", path))
		w.onChange(path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

// Stop releases the fsnotify watcher and drops pending callbacks. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	if w.fsw != nil {
		_ = w.fsw.Close()
		w.fsw = nil
	}
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
