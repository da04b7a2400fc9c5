package workspace

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DirWatcher watches the parent directories of registered worktrees and
// reports when a worktree directory is removed or renamed away. The hub uses
// that signal to archive the workspace's sessions.
type DirWatcher struct {
	fw        *fsnotify.Watcher
	onRemoved func(path string)

	mu      sync.Mutex
	watched map[string]string // worktree path -> parent dir
	parents map[string]int    // parent dir -> refcount
	done    chan struct{}
	closed  sync.Once
}

// NewDirWatcher starts a watcher. onRemoved is called from the watcher's own
// goroutine with the worktree path that disappeared.
func NewDirWatcher(onRemoved func(path string)) (*DirWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	w := &DirWatcher{
		fw:        fw,
		onRemoved: onRemoved,
		watched:   make(map[string]string),
		parents:   make(map[string]int),
		done:      make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch begins watching a worktree path. Watching the same path twice is a
// no-op.
func (w *DirWatcher) Watch(path string) error {
	path = filepath.Clean(path)
	parent := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.watched[path]; ok {
		return nil
	}
	if w.parents[parent] == 0 {
		if err := w.fw.Add(parent); err != nil {
			return fmt.Errorf("watching %s: %w", parent, err)
		}
	}
	w.parents[parent]++
	w.watched[path] = parent
	return nil
}

// Unwatch stops watching a worktree path.
func (w *DirWatcher) Unwatch(path string) {
	path = filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	parent, ok := w.watched[path]
	if !ok {
		return
	}
	delete(w.watched, path)
	w.parents[parent]--
	if w.parents[parent] <= 0 {
		delete(w.parents, parent)
		_ = w.fw.Remove(parent)
	}
}

func (w *DirWatcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			path := filepath.Clean(ev.Name)

			w.mu.Lock()
			_, tracked := w.watched[path]
			w.mu.Unlock()

			if tracked && w.onRemoved != nil {
				w.onRemoved(path)
			}
		case _, ok := <-w.fw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher. Safe to call more than once.
func (w *DirWatcher) Close() error {
	var err error
	w.closed.Do(func() {
		close(w.done)
		err = w.fw.Close()
	})
	return err
}
