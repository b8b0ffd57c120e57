package store

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a FileStore whenever its backing file changes on disk —
// useful when a second dbugctl instance (or a hand edit) touches the same
// session file. Debounced, since editors commonly fire several write
// events for a single atomic save.
type Watcher struct {
	fs       *FileStore
	debounce time.Duration
	onChange func()

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
}

// NewWatcher starts watching fs's backing file. onChange, if non-nil, is
// called after each debounced reload.
func NewWatcher(fs *FileStore, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(fs.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fs: fs, debounce: 300 * time.Millisecond, onChange: onChange, fsWatcher: fsw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	var pending *time.Timer
	for {
		select {
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.fs.path) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.debounce, w.reload)
		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	reloaded, err := NewFileStore(w.fs.path)
	if err != nil {
		return
	}
	w.fs.mu.Lock()
	w.fs.data = reloaded.data
	w.fs.mu.Unlock()
	if w.onChange != nil {
		w.onChange()
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.done) })
	return w.fsWatcher.Close()
}
