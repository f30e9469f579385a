package catalog

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watcher reloads the catalog when the backing file changes. Events are
// debounced so editors that write in multiple steps trigger one reload.
type watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	onChange func()
	logger   zerolog.Logger

	debounce  *time.Timer
	debounceM sync.Mutex
	done      chan struct{}
	stopOnce  sync.Once
}

const debounceWindow = 200 * time.Millisecond

func newWatcher(path string, onChange func(), logger zerolog.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog watcher: %w", err)
	}

	return &watcher{
		fsw:      fsw,
		path:     path,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

func (w *watcher) start() error {
	// Watch the directory rather than the file: editors replace files by
	// rename, which drops a file-level watch.
	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}

	go w.loop()

	w.logger.Info().Str("path", w.path).Msg("Catalog watcher started")
	return nil
}

func (w *watcher) stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

func (w *watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Catalog watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *watcher) scheduleReload() {
	w.debounceM.Lock()
	defer w.debounceM.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(debounceWindow, func() {
		w.logger.Debug().Str("path", w.path).Msg("Catalog file changed, reloading")
		w.onChange()
	})
}
