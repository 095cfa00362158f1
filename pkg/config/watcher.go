package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/compozy/strata/pkg/logger"
)

// Watcher reports changes to individual files. It watches each file's
// directory so files created, replaced or removed after Watch is called are
// still seen.
type Watcher struct {
	watcher *fsnotify.Watcher
	log     logger.Logger
	mu      sync.RWMutex
	// callbacks per watched absolute file path
	callbacks map[string][]func()
	// dirs counts watched files per directory
	dirs      map[string]int
	stopCh    chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewWatcher creates a file watcher. A nil logger uses the default one.
func NewWatcher(log logger.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Watcher{
		watcher:   fsWatcher,
		log:       log,
		callbacks: make(map[string][]func()),
		dirs:      make(map[string]int),
		stopCh:    make(chan struct{}),
	}, nil
}

// Watch calls fn whenever path is written, created, removed or renamed. The
// registration ends when ctx is done.
func (w *Watcher) Watch(ctx context.Context, path string, fn func()) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	dir := filepath.Dir(absPath)

	w.mu.Lock()
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			w.mu.Unlock()
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.callbacks[absPath] = append(w.callbacks[absPath], fn)
	w.mu.Unlock()

	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
			case <-w.stopCh:
				return
			}
			w.unwatch(absPath, dir)
		}()
	}
	w.startOnce.Do(func() {
		go w.handleEvents()
	})
	return nil
}

func (w *Watcher) unwatch(absPath, dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.callbacks, absPath)
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return
	}
	delete(w.dirs, dir)
	if err := w.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		w.log.Debug("failed to stop watching directory", "dir", dir, "error", err)
	}
}

// Paths lists the files currently watched.
func (w *Watcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.callbacks))
	for p := range w.callbacks {
		out = append(out, p)
	}
	return out
}

func (w *Watcher) handleEvents() {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&relevant == 0 {
				continue
			}
			w.notify(filepath.Clean(event.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.log.Warn("file watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) notify(path string) {
	w.mu.RLock()
	callbacks := append([]func(){}, w.callbacks[path]...)
	w.mu.RUnlock()
	for _, callback := range callbacks {
		if callback != nil {
			callback()
		}
	}
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	var closeErr error
	w.closeOnce.Do(func() {
		close(w.stopCh)
		if err := w.watcher.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close watcher: %w", err)
		}
	})
	return closeErr
}
