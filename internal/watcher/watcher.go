// Package watcher reports changes to individual files, debounced so that an
// editor's burst of writes produces one notification.
package watcher

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 500 * time.Millisecond

// ChangeCallback is called with the watched path when its content changes.
type ChangeCallback func(path string)

// Watcher monitors files for content changes.
type Watcher struct {
	mu       sync.RWMutex
	watchers map[string]*fileWatcher // cleaned path → watcher
	debounce time.Duration
	callback ChangeCallback
	log      *slog.Logger
}

type fileWatcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}

	mu          sync.Mutex
	lastContent []byte
}

// New creates a new file watcher. A non-positive debounce uses the default.
func New(debounce time.Duration, callback ChangeCallback, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = debounceInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		watchers: make(map[string]*fileWatcher),
		debounce: debounce,
		callback: callback,
		log:      logger,
	}
}

// Watch starts watching path. The file's directory is watched so that
// editors which replace the file on save are still followed.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.RLock()
	_, exists := w.watchers[abs]
	w.mu.RUnlock()
	if exists {
		return nil
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsW.Add(filepath.Dir(abs)); err != nil {
		fsW.Close()
		return fmt.Errorf("watch %s: %w", abs, err)
	}

	fw := &fileWatcher{
		path:      abs,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
	}
	fw.lastContent, _ = os.ReadFile(abs)

	w.mu.Lock()
	if _, exists := w.watchers[abs]; exists {
		w.mu.Unlock()
		fsW.Close()
		return nil
	}
	w.watchers[abs] = fw
	w.mu.Unlock()

	go w.watchLoop(fw)
	return nil
}

// Unwatch stops watching path.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	fw, ok := w.watchers[abs]
	if ok {
		delete(w.watchers, abs)
	}
	w.mu.Unlock()

	if ok {
		close(fw.cancel)
		fw.fsWatcher.Close()
	}
}

// Watching reports whether path is being watched.
func (w *Watcher) Watching(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.watchers[abs]
	return ok
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(fw *fileWatcher) {
	var timer *time.Timer

	for {
		select {
		case <-fw.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fw.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				w.reload(fw)
			})

		case err, ok := <-fw.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "path", fw.path, "error", err)
		}
	}
}

// reload notifies the callback if the file content changed.
func (w *Watcher) reload(fw *fileWatcher) {
	select {
	case <-fw.cancel:
		return
	default:
	}

	content, err := os.ReadFile(fw.path)
	if err != nil {
		// Mid-replace; the following Create event retries.
		return
	}

	fw.mu.Lock()
	changed := !bytes.Equal(content, fw.lastContent)
	fw.lastContent = content
	fw.mu.Unlock()

	if changed && w.callback != nil {
		w.callback(fw.path)
	}
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.watchers))
	for path := range w.watchers {
		paths = append(paths, path)
	}
	w.mu.Unlock()

	for _, path := range paths {
		w.Unwatch(path)
	}
}
