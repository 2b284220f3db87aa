package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nebulaforge/nebulaforge/internal/logging"
)

const watchDebounce = 250 * time.Millisecond

// Watcher reloads configuration when the config file changes on disk
// and notifies a callback with the fresh config. Rapid successive
// writes (editor save patterns) are debounced.
type Watcher struct {
	mu       sync.Mutex
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)
	logger   *logging.Logger
	stop     chan struct{}
	timer    *time.Timer
}

// NewWatcher creates a watcher for the given config file. The callback
// runs on the watcher goroutine after every successful reload.
func NewWatcher(path string, onReload func(*Config), logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: atomic-rename saves replace
	// the inode and would silently drop a file watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		watcher:  fw,
		onReload: onReload,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err.Error())
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := NewLoader().WithConfigFile(w.path).Load()
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config", "error", err.Error())
		return
	}
	w.logger.Info("config reloaded", "file", w.path)
	w.onReload(cfg)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
