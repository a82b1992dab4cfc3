package catalog

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the catalog when its document is edited by another
// process. The catalog's own temp-file + rename writes also trigger it; the
// reload is then a no-op because the document matches memory.
type Watcher struct {
	cat  *Catalog
	path string
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	timerMu sync.Mutex
	timer   *time.Timer

	reloads atomic.Int64
}

// NewWatcher creates a watcher for the document at path.
func NewWatcher(cat *Catalog, path string, log zerolog.Logger) *Watcher {
	return &Watcher{
		cat:  cat,
		path: filepath.Clean(path),
		log:  log.With().Str("component", "catalog-watcher").Logger(),
		done: make(chan struct{}),
	}
}

// Start watches the document's directory. Watching the directory instead of
// the file survives rename-based rewrites.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw

	w.log.Info().Str("path", w.path).Msg("catalog watcher started")
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop closes the watcher and cancels any pending reload.
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	close(w.done)
	w.watcher.Close()
	w.wg.Wait()

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	w.log.Info().Int64("reloads", w.reloads.Load()).Msg("catalog watcher stopped")
}

// Reloads returns the number of reloads that changed the in-memory index.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// schedule coalesces bursts of events into one reload.
func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Reset(reloadDebounce)
		return
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}
	changed, err := w.cat.Reload()
	if err != nil {
		w.log.Warn().Err(err).Msg("catalog reload failed")
		return
	}
	if changed {
		w.reloads.Add(1)
		w.log.Debug().Msg("catalog reloaded")
	}
}
