// internal/session/watcher.go
package session

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"keel/internal/logging"
)

// watcher flags the workspace as stale when another process touches the
// repository directory. Consumers poll Stale and reload on their own terms.
type watcher struct {
	fs     *fsnotify.Watcher
	stale  atomic.Bool
	done   chan struct{}
	logger *logging.Logger
}

// Watch starts monitoring the given directory for external changes.
func (ws *Workspace) Watch(path string) error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fs.Add(path); err != nil {
		fs.Close()
		return err
	}

	w := &watcher{
		fs:     fs,
		done:   make(chan struct{}),
		logger: ws.logger,
	}
	ws.watcher = w
	go w.run()
	return nil
}

func (w *watcher) run() {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.stale.Store(true)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

// Stale reports whether an external change was observed since the last clear.
func (ws *Workspace) Stale() bool {
	return ws.watcher != nil && ws.watcher.stale.Load()
}

// ClearStale acknowledges the pending change, typically after a reload.
func (ws *Workspace) ClearStale() {
	if ws.watcher != nil {
		ws.watcher.stale.Store(false)
	}
}

// Close stops the watcher and releases its resources.
func (ws *Workspace) Close() error {
	if ws.watcher == nil {
		return nil
	}
	close(ws.watcher.done)
	return ws.watcher.fs.Close()
}
