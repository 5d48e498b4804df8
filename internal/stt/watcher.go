package stt

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

// ModelWatcher monitors the models directory and fires onChange when the
// configured model file is (re)written, e.g. by a download finishing.
type ModelWatcher struct {
	watcher  *fsnotify.Watcher
	target   string
	debounce time.Duration
	onChange func()
	stopCh   chan struct{}
	stopOnce sync.Once

	mu           sync.Mutex
	pendingTimer *time.Timer
}

// NewModelWatcher creates a watcher for modelsDir/model.
func NewModelWatcher(modelsDir, model string, debounce time.Duration, onChange func()) (*ModelWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(modelsDir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	L_debug("stt: watching models directory", "dir", modelsDir, "model", model)

	return &ModelWatcher{
		watcher:  fsWatcher,
		target:   filepath.Clean(filepath.Join(modelsDir, model)),
		debounce: debounce,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching for file changes.
// This spawns a goroutine internally.
func (w *ModelWatcher) Start() {
	go w.run()
}

// Stop stops the watcher and cancels any pending reload.
func (w *ModelWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.pendingTimer != nil {
			w.pendingTimer.Stop()
		}
		w.mu.Unlock()
		w.watcher.Close()
	})
}

func (w *ModelWatcher) run() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("stt: model watcher error", "error", err)
		}
	}
}

func (w *ModelWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.target {
		return
	}
	// Download renames <model>.download into place, which shows up as Create.
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	L_debug("stt: model file changed", "path", event.Name, "op", event.Op.String())
	w.triggerReload()
}

// triggerReload debounces bursts of writes into one onChange call.
func (w *ModelWatcher) triggerReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		L_info("stt: model file updated, reloading")
		w.onChange()
	})
}
