package cache

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/Georgexzy/quest-tracker/internal/logging"
)

// Watcher re-precaches the shell generation when a listed asset changes on
// disk, so a changed shell does not require a daemon restart. Failures are
// logged and swallowed; the previous cached copy keeps serving.
type Watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// WatchAssets starts watching assetsDir and refreshes generation whenever a
// listed shell asset is written or created.
func WatchAssets(store *Store, generation, assetsDir string, assets []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(assetsDir); err != nil {
		fsw.Close()
		return nil, err
	}

	listed := make(map[string]bool, len(assets))
	for _, asset := range assets {
		rel := asset
		if rel == "/" {
			rel = "/index.html"
		}
		listed[filepath.Base(rel)] = true
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{})}
	log := logging.WithField("component", "cache-watcher")

	go func() {
		for {
			select {
			case <-w.done:
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if !listed[filepath.Base(event.Name)] {
					continue
				}
				if err := store.Precache(generation, assetsDir, assets); err != nil {
					log.Warn("shell re-precache failed: %v", err)
				} else {
					log.Info("shell assets changed, refreshed %s", generation)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warn("watch error: %v", err)
			}
		}
	}()

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
