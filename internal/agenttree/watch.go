package agenttree

import (
	"github.com/fsnotify/fsnotify"
)

// dirWatch turns filesystem events in a set of agent dirs into wake-ups for the
// wait loop. Polling stays authoritative; a watch only shortens the sleep.
type dirWatch struct {
	watcher *fsnotify.Watcher
	wake    chan struct{}
	done    chan struct{}
}

func watchDirs(dirs []string) (*dirWatch, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}
	w := &dirWatch{
		watcher: watcher,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *dirWatch) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
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

// C is nil for a nil watch, which blocks forever in a select.
func (w *dirWatch) C() <-chan struct{} {
	if w == nil {
		return nil
	}
	return w.wake
}

func (w *dirWatch) Close() {
	if w == nil {
		return
	}
	_ = w.watcher.Close()
	<-w.done
}
