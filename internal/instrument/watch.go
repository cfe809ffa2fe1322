package instrument

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"witlab/internal/logging"
)

// WatcherStats tracks watcher activity.
type WatcherStats struct {
	Events    int
	Extracted int
	Errors    int
	LastFile  string
}

// Watcher extracts IV files as they land in a directory.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	extractor   *Extractor
	dir         string
	onReport    func(path string, rep *Report)
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       WatcherStats
}

// NewWatcher creates a watcher over dir. onReport is called from the watcher
// goroutine once per settled file.
func NewWatcher(dir string, ex *Extractor, settle time.Duration, onReport func(string, *Report)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:     fw,
		extractor:   ex,
		dir:         dir,
		onReport:    onReport,
		debounceMap: make(map[string]time.Time),
		debounceDur: settle,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	logging.Watch("watching %s (settle %v)", w.dir, w.debounceDur)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.WatchError("error closing watcher: %v", err)
	}
	logging.Watch("watcher stopped")
}

// Done is closed when the event loop exits.
func (w *Watcher) Done() <-chan struct{} { return w.doneCh }

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounceDur / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WatchError("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.processSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !IsIVName(ev.Name) || !isText(ev.Name) {
		return
	}
	w.mu.Lock()
	w.stats.Events++
	w.debounceMap[ev.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, t := range w.debounceMap {
		if now.Sub(t) >= w.debounceDur {
			ready = append(ready, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		rep, err := w.extractor.Extract(ctx, []string{path})
		if err != nil {
			logging.WatchError("extract %s: %v", path, err)
			continue
		}
		w.mu.Lock()
		w.stats.Extracted++
		w.stats.LastFile = path
		w.mu.Unlock()
		logging.Watch("extracted %s", path)
		if w.onReport != nil {
			w.onReport(path, rep)
		}
	}
}
