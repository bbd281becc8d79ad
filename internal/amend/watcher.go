package amend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"sleuth/internal/logging"
	"sleuth/internal/plan"
)

// Applier applies a change set to a running plan.
type Applier interface {
	Modify(ctx context.Context, cs plan.ChangeSet) (*plan.WorkflowPlan, error)
}

// Suffixes appended to processed inbox files.
const (
	AppliedSuffix  = ".applied"
	RejectedSuffix = ".rejected"
)

// Result reports the outcome of one inbox file.
type Result struct {
	Path    string
	Version int // plan version after the change, zero on error
	Err     error
	At      time.Time
}

// WatcherStats tracks inbox activity.
type WatcherStats struct {
	Applied  int
	Rejected int
	Errors   int
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long a file must be quiet before it is read.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounceDur = d }
}

// WithOnResult registers a callback invoked after every processed file.
func WithOnResult(fn func(Result)) WatcherOption {
	return func(w *Watcher) { w.onResult = fn }
}

// Watcher applies change-set files dropped into an inbox directory. Files
// are renamed with AppliedSuffix or RejectedSuffix once processed.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	dir         string
	applier     Applier
	debounceMap map[string]time.Time
	debounceDur time.Duration
	onResult    func(Result)
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	closed      bool
	stats       WatcherStats
}

// NewWatcher creates a Watcher for dir. The directory is created if needed.
func NewWatcher(dir string, applier Applier, opts ...WatcherOption) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create amendment inbox: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		watcher:     fw,
		dir:         dir,
		applier:     applier,
		debounceMap: make(map[string]time.Time),
		debounceDur: 200 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. Files already waiting in the inbox are queued.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("amendment watcher is stopped")
	}
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	entries, err := os.ReadDir(w.dir)
	if err == nil {
		w.mu.Lock()
		for _, e := range entries {
			if !e.IsDir() && IsChangeSetFile(e.Name()) {
				w.debounceMap[filepath.Join(w.dir, e.Name())] = time.Now()
			}
		}
		w.mu.Unlock()
	}
	logging.Planner("Watching amendment inbox %s", w.dir)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit. A stopped
// watcher cannot be restarted.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running, closed := w.running, w.closed
	w.running, w.closed = false, true
	w.mu.Unlock()
	if closed {
		return
	}

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryPlanner).Error("Amendment watcher close failed: %v", err)
	}
}

// Stats returns inbox counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

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
			logging.Get(logging.CategoryPlanner).Error("Amendment watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-tick.C:
			w.processSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !IsChangeSetFile(ev.Name) {
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	logging.PlannerDebug("Amendment inbox %s: %s", ev.Op, ev.Name)
	w.mu.Lock()
	w.debounceMap[ev.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			ready = append(ready, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.apply(ctx, path)
	}
}

func (w *Watcher) apply(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return
	}

	res := Result{Path: path, At: time.Now()}
	if err != nil {
		res.Err = fmt.Errorf("failed to read change set: %w", err)
	} else if cs, perr := ParseChangeSet(path, data); perr != nil {
		res.Err = perr
	} else if np, merr := w.applier.Modify(ctx, cs); merr != nil {
		res.Err = merr
	} else {
		res.Version = np.Version
	}

	suffix := AppliedSuffix
	w.mu.Lock()
	if res.Err != nil {
		suffix = RejectedSuffix
		w.stats.Rejected++
	} else {
		w.stats.Applied++
	}
	w.mu.Unlock()

	if res.Err != nil {
		logging.Get(logging.CategoryPlanner).Warn("Rejected amendment %s: %v", filepath.Base(path), res.Err)
	} else {
		logging.Planner("Applied amendment %s, plan now v%d", filepath.Base(path), res.Version)
	}
	if err := os.Rename(path, path+suffix); err != nil {
		logging.Get(logging.CategoryPlanner).Error("Failed to mark %s processed: %v", path, err)
	}
	if w.onResult != nil {
		w.onResult(res)
	}
}
