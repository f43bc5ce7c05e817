// Package watcher reports files created under a set of directories once they stop changing.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Config selects what is watched.
type Config struct {
	Roots []string
	// Extensions filters reported files; empty reports every file.
	Extensions []string
	Recursive  bool
	// Debounce is how long a new file must go without writes before it is reported.
	Debounce time.Duration
}

// Handler is called once for each new file. Calls are made one at a time from the watcher's
// goroutine, so a slow handler delays later reports but never overlaps them.
type Handler func(ctx context.Context, path string)

// Watcher reports newly created files. Notes are never updated in place, so writes to files
// that existed before they were seen are ignored.
type Watcher struct {
	cfg    Config
	exts   map[string]bool
	handle Handler
	logger *zap.Logger

	ready chan firing

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]*pendingFile
	seq     uint64
	cancel  context.CancelFunc
	stopped chan struct{}
}

type pendingFile struct {
	seq   uint64
	timer *time.Timer
}

type firing struct {
	path string
	seq  uint64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for watcher diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New returns a watcher for cfg. It does nothing until Start.
func New(cfg Config, handle Handler, opts ...Option) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	w := &Watcher{
		cfg:     cfg,
		exts:    make(map[string]bool, len(cfg.Extensions)),
		handle:  handle,
		ready:   make(chan firing),
		pending: make(map[string]*pendingFile),
	}
	for _, e := range cfg.Extensions {
		w.exts[normalizeExt(e)] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Start watches the roots, creating any that are missing, and processes events in the
// background until ctx is done or Stop is called. Starting twice is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range w.cfg.Roots {
		if err := w.addRoot(fsw, filepath.Clean(root)); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	w.logger.Debug("watcher started", zap.Strings("roots", w.cfg.Roots),
		zap.Strings("extensions", w.cfg.Extensions), zap.Bool("recursive", w.cfg.Recursive))

	runCtx, cancel := context.WithCancel(ctx)
	w.fsw, w.cancel, w.stopped = fsw, cancel, make(chan struct{})
	go w.run(runCtx, fsw, w.stopped)
	return nil
}

// Stop ends event processing, waits for a running handler to return, and drops pending files.
// It must not be called from a Handler.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, stopped := w.cancel, w.stopped
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Pending returns the number of new files still inside their debounce period.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, stopped chan struct{}) {
	defer func() {
		w.mu.Lock()
		for path, p := range w.pending {
			p.timer.Stop()
			delete(w.pending, path)
		}
		_ = fsw.Close()
		w.fsw, w.cancel = nil, nil
		w.mu.Unlock()
		close(stopped)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case f := <-w.ready:
			if w.take(f) && w.handle != nil {
				w.logger.Debug("new file settled", zap.String("path", f.path))
				w.handle(ctx, f.path)
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if ignored(path) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.addDirectory(ctx, fsw, path)
			return
		}
		if w.wanted(path) {
			w.schedule(ctx, path)
		}
	case ev.Has(fsnotify.Write):
		w.postpone(path)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.drop(path)
	}
}

// addDirectory watches a directory that appeared under a root and schedules the files
// already inside it, since their Create events may have fired before the watch existed.
func (w *Watcher) addDirectory(ctx context.Context, fsw *fsnotify.Watcher, dir string) {
	if !w.cfg.Recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				w.logger.Warn("cannot watch directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if w.wanted(path) {
			w.schedule(ctx, path)
		}
		return nil
	})
}

func (w *Watcher) addRoot(fsw *fsnotify.Watcher, root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !w.cfg.Recursive {
		return fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignored(path) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

// schedule starts, or restarts, the debounce period for a new file.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Reset(w.cfg.Debounce)
		return
	}
	w.seq++
	f := firing{path: path, seq: w.seq}
	w.pending[path] = &pendingFile{
		seq: f.seq,
		timer: time.AfterFunc(w.cfg.Debounce, func() {
			select {
			case w.ready <- f:
			case <-ctx.Done():
			}
		}),
	}
}

// postpone extends the debounce of a pending file. Files that are not pending are left alone.
func (w *Watcher) postpone(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Reset(w.cfg.Debounce)
	}
}

func (w *Watcher) drop(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

// take removes the pending entry a firing belongs to. Stale firings, from a file that was
// removed and created again, are rejected.
func (w *Watcher) take(f firing) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pending[f.path]
	if !ok || p.seq != f.seq {
		return false
	}
	delete(w.pending, f.path)
	return true
}

func (w *Watcher) wanted(path string) bool {
	return len(w.exts) == 0 || w.exts[normalizeExt(filepath.Ext(path))]
}

func normalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(ext), ".")
}

// ignored reports hidden entries and editor scratch files.
func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".tmp")
}
