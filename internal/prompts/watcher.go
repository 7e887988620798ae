package prompts

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the burst of events an editor save produces.
var debounceDelay = 100 * time.Millisecond

// newWatcher creates an fsnotify watcher; tests may replace it to inject errors.
var newWatcher = fsnotify.NewWatcher

// Watcher keeps a Prompt in sync with an override file. Removing the file
// puts the built-in template back.
type Watcher struct {
	path   string
	prompt *Prompt
	logger *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	timer   *time.Timer
}

// NewWatcher creates a watcher for the override at path.
func NewWatcher(path string, prompt *Prompt, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, prompt: prompt, logger: logger}
}

// Start loads the override if it exists and begins watching its directory,
// so the file may be created later.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return errors.New("prompts: watcher already started")
	}

	w.reload()
	fw, err := newWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw
	w.done = make(chan struct{})
	go w.loop(fw, w.done)
	return nil
}

// Stop ends watching. Safe to call when not started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	close(w.done)
	if w.timer != nil {
		w.timer.Stop()
	}
	err := w.watcher.Close()
	w.watcher = nil
	return err
}

func (w *Watcher) loop(fw *fsnotify.Watcher, done chan struct{}) {
	target := filepath.Base(w.path)
	for {
		select {
		case <-done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(debounceDelay, func() {
				w.mu.Lock()
				defer w.mu.Unlock()
				w.reload()
			})
			w.mu.Unlock()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("prompt watcher error", "error", err)
		}
	}
}

// reload must be called with w.mu held.
func (w *Watcher) reload() {
	if _, err := os.Stat(w.path); errors.Is(err, os.ErrNotExist) {
		if w.prompt.Source() != "builtin" {
			w.prompt.Reset()
			w.logger.Info("system prompt override removed", "path", w.path)
		}
		return
	}
	if err := w.prompt.Load(w.path); err != nil {
		w.logger.Warn("system prompt override rejected", "path", w.path, "error", err)
		return
	}
	w.logger.Info("system prompt override loaded", "path", w.path)
}
