package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sweeney/irrigator/internal/logic"
)

// Change reports that an event file was written or removed.
type Change struct {
	ID      logic.EventID
	Removed bool
}

// Watcher reports changes to event files in a directory. Rapid writes to
// the same file are collapsed into one Change.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	debounce time.Duration
	changes  chan Change

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher starts watching dir.
func NewWatcher(dir string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		watcher:  fw,
		dir:      dir,
		debounce: debounce,
		changes:  make(chan Change, 16),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Changes delivers debounced changes. It is never closed.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Run processes filesystem notifications until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if _, ok := IDFromPath(ev.Name); !ok {
				continue
			}
			w.schedule(ctx, ev.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("store: watch error: %v", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		id, _ := IDFromPath(path)
		_, err := os.Stat(filepath.Join(w.dir, filepath.Base(path)))
		c := Change{ID: id, Removed: errors.Is(err, os.ErrNotExist)}
		select {
		case w.changes <- c:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	w.watcher.Close()
}
