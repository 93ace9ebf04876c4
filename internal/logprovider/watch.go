package logprovider

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// WakeupSource wraps an fsnotify watch on a provider's directory. It never
// decides anything on its own — the session dispatch loop still polls on its
// normal interval — it just sends a signal on Wake() so the loop can check
// sooner after a write instead of waiting out the rest of its tick.
type WakeupSource struct {
	watcher *fsnotify.Watcher
	wake    chan struct{}
	done    chan struct{}
}

// Watch starts watching path (non-recursively) and returns a WakeupSource.
// If fsnotify can't watch the path (doesn't exist yet, permission denied), it
// returns a source whose Wake channel simply never fires — polling alone
// still works.
func Watch(path string) *WakeupSource {
	w := &WakeupSource{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		close(w.done)
		return w
	}
	if err := watcher.Add(path); err != nil {
		log.Printf("logprovider: watch %s: %v (falling back to polling only)", path, err)
		_ = watcher.Close()
		close(w.done)
		return w
	}
	w.watcher = watcher

	go w.run()
	return w
}

func (w *WakeupSource) run() {
	defer close(w.done)
	for {
		select {
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			select {
			case w.wake <- struct{}{}:
			default:
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Wake fires (non-blockingly buffered) whenever the watched directory
// changes.
func (w *WakeupSource) Wake() <-chan struct{} { return w.wake }

// Close stops the underlying watcher.
func (w *WakeupSource) Close() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	<-w.done
}
