// Package watch monitors a source tree and reports debounced batches of
// changed files.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherClosed is returned when an operation is attempted on a closed watcher.
var ErrWatcherClosed = errors.New("watch: watcher already closed")

// ChangeFunc receives the sorted set of paths changed during a debounce window.
type ChangeFunc func(paths []string)

// Watcher recursively watches a directory tree. fsnotify is not recursive, so
// directories are added as they are discovered.
type Watcher struct {
	root          string
	skip          func(dir string) bool
	files         map[string]struct{}
	fsWatcher     *fsnotify.Watcher
	onChange      ChangeFunc
	debounceDelay time.Duration
	logger        *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounceDelay sets the debounce delay for file change events.
// Default is 100ms.
func WithDebounceDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithSkipFunc excludes every directory, typically the build output, for
// which skip returns true. It is consulted on each event, so the excluded set
// may change while watching.
func WithSkipFunc(skip func(dir string) bool) Option {
	return func(w *Watcher) {
		w.skip = skip
	}
}

// WithFiles also watches individual files, which may live outside the root.
// Only the named files are reported from their directories.
func WithFiles(paths ...string) Option {
	return func(w *Watcher) {
		for _, p := range paths {
			if abs, err := filepath.Abs(p); err == nil {
				w.files[abs] = struct{}{}
			}
		}
	}
}

// New creates a watcher for root. node_modules and hidden directories are
// never watched.
func New(root string, onChange ChangeFunc, logger *zap.Logger, opts ...Option) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:          absRoot,
		files:         make(map[string]struct{}),
		fsWatcher:     fsWatcher,
		onChange:      onChange,
		debounceDelay: 100 * time.Millisecond,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addTree(absRoot); err != nil {
		w.closeAfterFailure()
		return nil, err
	}
	for file := range w.files {
		if w.within(file) {
			continue
		}
		// Watching the directory survives editors that replace the file.
		if err := fsWatcher.Add(filepath.Dir(file)); err != nil {
			w.closeAfterFailure()
			return nil, err
		}
	}

	return w, nil
}

// Root returns the absolute path being watched.
func (w *Watcher) Root() string {
	return w.root
}

// Watch delivers debounced change batches until ctx is cancelled. It returns
// nil when the context ends or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context) error {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending = make(map[string]struct{})
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if !w.shouldProcessEvent(event) {
				continue
			}
			if event.Has(fsnotify.Create) && w.within(event.Name) {
				if err := w.addTree(event.Name); err != nil {
					w.logger.Debug("watch new path", zap.String("path", event.Name), zap.Error(err))
				}
			}
			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounceDelay)
			} else {
				timer.Reset(w.debounceDelay)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			w.logger.Debug("source change detected", zap.Strings("paths", paths))
			w.onChange(paths)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("source watcher error", zap.Error(err))
		}
	}
}

// shouldProcessEvent drops chmod-only events and events for ignored paths.
func (w *Watcher) shouldProcessEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if _, ok := w.files[event.Name]; ok {
		return true
	}
	if !w.within(event.Name) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return !w.ignored(event.Name)
}

func (w *Watcher) ignored(path string) bool {
	for dir := path; ; dir = filepath.Dir(dir) {
		if w.skipped(dir) {
			return true
		}
		if dir == w.root || dir == filepath.Dir(dir) {
			return false
		}
		if name := filepath.Base(dir); name == "node_modules" || (strings.HasPrefix(name, ".") && dir != path) {
			return true
		}
	}
}

func (w *Watcher) skipped(dir string) bool {
	return w.skip != nil && w.skip(dir)
}

// within reports whether path is the root or lies beneath it.
func (w *Watcher) within(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	return err == nil && (rel == "." || filepath.IsLocal(rel))
}

// addTree registers path and every directory beneath it.
func (w *Watcher) addTree(path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root {
			name := d.Name()
			if name == "node_modules" || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if w.skipped(p) {
				return filepath.SkipDir
			}
		}
		return w.fsWatcher.Add(p)
	})
}

func (w *Watcher) closeAfterFailure() {
	if err := w.fsWatcher.Close(); err != nil {
		w.logger.Error("failed to close watcher after add failure", zap.Error(err))
	}
}

// Close stops watching and releases resources.
// Returns ErrWatcherClosed if already closed.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	w.closed = true
	return w.fsWatcher.Close()
}
