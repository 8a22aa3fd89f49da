// Package watch re-runs a callback when the module tree, the catalog or the
// activation directory changes on disk.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Handler receives the paths that settled since the last call.
type Handler func(ctx context.Context, paths []string)

// Options configures a Watcher.
type Options struct {
	// Dirs are watched together with their subdirectories, down to Depth
	// levels.
	Dirs  []string
	Depth int
	// Files are watched through their parent directory; events for siblings
	// are ignored.
	Files []string

	Debounce time.Duration // quiet time before a path is reported (default 500ms)
	Handler  Handler
	Logger   *zap.Logger
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Runs          int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Watcher debounces filesystem events and hands settled paths to a Handler.
type Watcher struct {
	mu      sync.Mutex
	runMu   sync.Mutex // held while the handler runs
	watcher *fsnotify.Watcher
	opts    Options
	files   map[string]bool
	pending map[string]time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	stats   Stats
	logger  *zap.Logger
}

// ErrNoHandler is returned by New without a handler.
var ErrNoHandler = errors.New("watch: handler is required")

// New creates a watcher. Nothing is watched until Start.
func New(opts Options) (*Watcher, error) {
	if opts.Handler == nil {
		return nil, ErrNoHandler
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	files := make(map[string]bool, len(opts.Files))
	for _, f := range opts.Files {
		files[filepath.Clean(f)] = true
	}
	return &Watcher{
		watcher: fw,
		opts:    opts,
		files:   files,
		pending: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  opts.Logger,
	}, nil
}

// Start registers the watches and begins the event loop in a goroutine.
// Paths that do not exist yet are skipped with a warning.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, dir := range w.opts.Dirs {
		w.addTree(dir, w.opts.Depth)
	}
	for f := range w.files {
		w.add(filepath.Dir(f))
	}

	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Error("close watcher", zap.Error(err))
	}
	w.logger.Debug("watcher stopped")
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) add(dir string) {
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("cannot watch", zap.String("dir", dir), zap.Error(err))
		return
	}
	w.logger.Debug("watching", zap.String("dir", dir))
}

func (w *Watcher) addTree(dir string, depth int) {
	w.add(dir)
	if depth <= 0 {
		return
	}
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, d := range dirents {
		if d.IsDir() && !hidden(d.Name()) {
			w.addTree(filepath.Join(dir, d.Name()), depth-1)
		}
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.opts.Debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebounced(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod || hidden(filepath.Base(event.Name)) {
		return
	}
	path := filepath.Clean(event.Name)
	if !w.relevant(path) {
		return
	}

	// New module directories are picked up without a restart.
	if event.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			w.addTree(path, 1)
		}
	}

	w.logger.Debug("change", zap.String("path", path), zap.String("op", event.Op.String()))

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventPath = path
	w.stats.LastEventTime = time.Now()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

// relevant filters out siblings of watched files.
func (w *Watcher) relevant(path string) bool {
	if w.files[path] {
		return true
	}
	for _, dir := range w.opts.Dirs {
		rel, err := filepath.Rel(filepath.Clean(dir), path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) processDebounced(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.opts.Debounce {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	if len(settled) > 0 {
		w.stats.Runs++
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}
	sort.Strings(settled)
	w.Trigger(ctx, settled)
}

// Trigger runs the handler for paths. Handler calls never overlap, whether
// they come from Trigger or from the event loop.
func (w *Watcher) Trigger(ctx context.Context, paths []string) {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	w.opts.Handler(ctx, paths)
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
