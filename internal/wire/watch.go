// ABOUTME: Optional fsnotify wakeup layered on top of directory polling.
// ABOUTME: Polling remains the correctness path; the watcher only cuts latency.

package wire

import (
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher coalesces filesystem events on a directory into a wakeup channel.
// A failed watch setup degrades to nothing: Wake returns a nil channel, which
// blocks forever in a select, and the caller's poll ticker covers delivery.
type Watcher struct {
	fs   *fsnotify.Watcher
	wake chan struct{}
	done chan struct{}
}

// WatchDir starts watching dir. Never fails hard; on error it logs and
// returns an inert watcher.
func WatchDir(dir string, logger *slog.Logger) *Watcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug("fsnotify unavailable, falling back to polling", "error", err)
		return &Watcher{}
	}
	if err := fsw.Add(dir); err != nil {
		logger.Debug("cannot watch directory, falling back to polling", "dir", dir, "error", err)
		fsw.Close()
		return &Watcher{}
	}

	w := &Watcher{
		fs:   fsw,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go w.forward()
	return w
}

// Wake returns a channel that receives after a file is published in the
// watched directory. Nil (block forever) on an inert watcher.
func (w *Watcher) Wake() <-chan struct{} {
	if w.fs == nil {
		return nil
	}
	return w.wake
}

// Close stops the watcher. Safe on an inert watcher.
func (w *Watcher) Close() {
	if w.fs == nil {
		return
	}
	close(w.done)
	w.fs.Close()
}

func (w *Watcher) forward() {
	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fs.Events:
			if !ok {
				return
			}
			// Only renames/creates matter: that is the atomic publish
			// point. In-flight .tmp writes are noise.
			if !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if strings.HasSuffix(evt.Name, TmpSuffix) {
				continue
			}
			select {
			case w.wake <- struct{}{}:
			default:
			}
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}
