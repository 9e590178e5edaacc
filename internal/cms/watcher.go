package cms

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"copydesk/internal/logging"
)

// Watcher serves the current selector map and swaps it when the file
// changes on disk. A reload that fails validation keeps the previous
// map; the provider never sees a half-written file.
type Watcher struct {
	mu      sync.RWMutex
	path    string
	current *SelectorMap

	watcher     *fsnotify.Watcher
	pendingAt   time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	reloads  int
	failures int
}

// NewWatcher loads the selector map at path. The initial load must
// succeed; hot reloads are best-effort after that.
func NewWatcher(path string) (*Watcher, error) {
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Watcher{
		path:        abs,
		current:     m,
		watcher:     fw,
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Current returns the active selector map. The returned map is never
// mutated after load; callers may hold it across a publish attempt.
func (w *Watcher) Current() *SelectorMap {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching the selector file's directory. Watching the
// directory rather than the file survives editors that replace the file
// on save. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.CMS("selector watcher: watching %s", w.path)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit.
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
		logging.Get(logging.CategoryCMS).Error("selector watcher: close: %v", err)
	}
	logging.CMS("selector watcher: stopped")
}

// Reloads returns how many hot reloads have been applied.
func (w *Watcher) Reloads() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

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
			logging.Get(logging.CategoryCMS).Error("selector watcher: %v", err)

		case <-ticker.C:
			w.reloadIfSettled()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	logging.CMSDebug("selector watcher: %s changed (%s)", w.path, event.Op)

	// Debounce rapid saves; the ticker applies the change once writes settle.
	w.mu.Lock()
	w.pendingAt = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) reloadIfSettled() {
	w.mu.Lock()
	pending := !w.pendingAt.IsZero() && time.Since(w.pendingAt) >= w.debounceDur
	if pending {
		w.pendingAt = time.Time{}
	}
	w.mu.Unlock()
	if !pending {
		return
	}

	m, err := Load(w.path)
	if err != nil {
		w.mu.Lock()
		w.failures++
		w.mu.Unlock()
		logging.Get(logging.CategoryCMS).Warn("selector watcher: reload rejected, keeping previous map: %v", err)
		return
	}

	w.mu.Lock()
	w.current = m
	w.reloads++
	n := w.reloads
	w.mu.Unlock()
	logging.CMS("selector watcher: reloaded %s (version %d, reload #%d)", w.path, m.Version, n)
}
