package collection

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"planstore/internal/document"
	"planstore/internal/planstore"
)

// Watched is a document-backed collection the Watcher can notify.
type Watched interface {
	Name() string
	ExternalChange(digest string) bool
}

// Watcher observes the data directory and tells collections when another
// process has replaced their document, so cached snapshots do not outlive
// the data on disk.
type Watcher struct {
	dir     string
	targets map[string]Watched // keyed by digest file name
	logger  planstore.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
	stop    chan struct{}
	once    sync.Once
}

// NewWatcher starts watching dir for digest changes of the given collections.
func NewWatcher(dir string, logger planstore.Logger, targets ...Watched) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w := &Watcher{
		dir:     dir,
		targets: make(map[string]Watched, len(targets)),
		logger:  planstore.EnsureLogger(logger),
		watcher: fw,
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	for _, t := range targets {
		w.targets[t.Name()+document.DigestSuffix] = t
	}
	go w.run()
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Events may have been dropped; assume every document changed.
			w.logger.Warn("watcher error, invalidating caches", "dir", w.dir, "error", err)
			for _, t := range w.targets {
				t.ExternalChange("")
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	target, ok := w.targets[filepath.Base(ev.Name)]
	if !ok {
		return
	}
	raw, err := os.ReadFile(ev.Name)
	if err != nil {
		// Replaced again before we got to it; the next event carries it.
		return
	}
	target.ExternalChange(strings.TrimSpace(string(raw)))
}
