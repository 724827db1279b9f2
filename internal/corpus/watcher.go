package corpus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Op describes what happened to a document.
type Op string

const (
	OpWrite  Op = "write"
	OpCreate Op = "create"
	OpRemove Op = "remove"
)

// Change is a settled filesystem change to one document.
type Change struct {
	ID string
	Op Op
}

// Subscriber receives settled changes. Subscribers run on the watcher
// goroutine and must not block for long.
type Subscriber func(Change)

// Watcher observes the corpus directory and notifies subscribers when a
// document changes, after a debounce window so rapid saves collapse into
// one notification.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	root        string
	log         *zap.Logger
	subscribers []Subscriber
	pending     map[string]pendingChange
	debounce    time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

type pendingChange struct {
	op   Op
	seen time.Time
}

// NewWatcher creates a Watcher for the corpus rooted at root.
func NewWatcher(root string, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{
		watcher:  fw,
		root:     root,
		log:      log,
		pending:  make(map[string]pendingChange),
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Subscribe registers fn for future changes.
func (w *Watcher) Subscribe(fn Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, fn)
}

// Start adds the corpus directories to the watch list and begins the event
// loop in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
	if err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	w.log.Info("watching memory bank", zap.String("root", w.root))
	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the underlying watcher.
// Safe to call more than once, and before Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		w.log.Debug("closing watcher", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(w.debounce / 2)
	defer tick.Stop()

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
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		case <-tick.C:
			w.flush(time.Now())
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.log.Warn("watching new directory", zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
	}
	if !IsDocumentFile(filepath.Base(event.Name)) {
		return
	}

	var op Op
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpWrite
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		op = OpRemove
	default:
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	id := filepath.ToSlash(rel)

	w.mu.Lock()
	w.pending[id] = pendingChange{op: op, seen: time.Now()}
	w.mu.Unlock()
}

// flush delivers every pending change older than the debounce window.
func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	var ready []Change
	for id, pc := range w.pending {
		if now.Sub(pc.seen) >= w.debounce {
			ready = append(ready, Change{ID: id, Op: pc.op})
			delete(w.pending, id)
		}
	}
	subs := make([]Subscriber, len(w.subscribers))
	copy(subs, w.subscribers)
	w.mu.Unlock()

	for _, c := range ready {
		w.log.Debug("document changed", zap.String("id", c.ID), zap.String("op", string(c.Op)))
		for _, fn := range subs {
			fn(c)
		}
	}
}
