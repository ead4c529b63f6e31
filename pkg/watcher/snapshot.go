package watcher

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// SnapshotWatcher watches a plan snapshot file and fires a debounced callback
// when it changes. Consumers rebuild the tree wholesale on each callback;
// snapshot changes are never applied incrementally.
type SnapshotWatcher struct {
	path     string
	fsw      *fsnotify.Watcher
	debounce *Debouncer
	log      *zap.Logger
	done     chan struct{}
}

// NewSnapshotWatcher watches path. The parent directory is registered rather
// than the file itself so atomic save patterns (write temp, rename over) keep
// working.
func NewSnapshotWatcher(path string, logger *zap.Logger) (*SnapshotWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("resolve snapshot path: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &SnapshotWatcher{
		path:     abs,
		fsw:      fsw,
		debounce: NewDebouncer(0),
		log:      logger,
		done:     make(chan struct{}),
	}, nil
}

// Start begins delivering change notifications. onChange runs debounced, off
// the watcher goroutine.
func (w *SnapshotWatcher) Start(onChange func()) {
	go func() {
		for {
			select {
			case <-w.done:
				return
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != w.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.log.Debug("snapshot changed", zap.String("path", w.path), zap.String("op", ev.Op.String()))
				w.debounce.Trigger(onChange)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.log.Warn("watch error", zap.Error(err))
			}
		}
	}()
}

// Close stops watching and cancels any pending debounced callback.
func (w *SnapshotWatcher) Close() error {
	close(w.done)
	w.debounce.Cancel()
	return w.fsw.Close()
}
