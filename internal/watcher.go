package internal

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher turns fsnotify events in the watch directory into "something new
// arrived" signals. A burst of events for allowed files produces one signal
// once the directory has been quiet for the settle delay.
type Watcher struct {
	watcher *fsnotify.Watcher
	dir     string
	allowed map[string]bool
	settle  time.Duration

	changes chan struct{}
	errors  chan error
	done    chan struct{}
	once    sync.Once
}

// NewWatcher watches dir, not its subdirectories.
func NewWatcher(dir string, allowed map[string]bool, settle time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: fsWatcher,
		dir:     filepath.Clean(dir),
		allowed: allowed,
		settle:  settle,
		changes: make(chan struct{}, 1),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var (
		timer  *time.Timer
		settle <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == w.dir && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
				w.error(fmt.Errorf("%w: %s was removed", ErrDirectoryUnreadable, w.dir))
				continue
			}
			// a screenshot moved into place shows up as Create
			created := event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
			if !created || !IsAllowed(event.Name, w.allowed) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.settle)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.settle)
			}
			settle = timer.C

		case <-settle:
			settle = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.error(err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) error(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// Changes fires once per settled burst. Signals are coalesced while
// nobody is receiving.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
