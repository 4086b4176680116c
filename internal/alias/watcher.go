package alias

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/JackTn/azure-sdk-usage-agent/internal/observability"
)

// DefaultReloadDebounce collapses the burst of events editors emit per save
const DefaultReloadDebounce = 250 * time.Millisecond

// Watcher reloads a Store when its backing file changes. It watches the
// parent directory so that rename-over-target saves are seen.
type Watcher struct {
	store    *Store
	path     string
	debounce time.Duration
	logger   *observability.Logger

	fw      *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool

	// reloaded is signalled after each reload attempt; tests use it
	reloaded chan struct{}
}

// NewWatcher creates a watcher for the file behind source
func NewWatcher(store *Store, source *FileSource, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	absPath, err := filepath.Abs(source.Path())
	if err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		store:    store,
		path:     absPath,
		debounce: debounce,
		logger:   observability.NewLogger("alias-watcher"),
		fw:       fw,
		done:     make(chan struct{}),
		reloaded: make(chan struct{}, 1),
	}, nil
}

// Start begins watching; reloads run on the watcher goroutine
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info(ctx, "Watching alias configuration", map[string]interface{}{"path": w.path})
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "File watcher error", map[string]interface{}{"error": err.Error()})

		case <-timer.C:
			w.reload(ctx)

		case <-w.done:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	changed, err := w.store.Reload(ctx)
	if err != nil {
		w.logger.Error(ctx, "Alias configuration reload failed, keeping previous aliases", err, map[string]interface{}{
			"path": w.path,
		})
	} else if changed {
		w.logger.Info(ctx, "Alias configuration change applied", map[string]interface{}{"path": w.path})
	}

	select {
	case w.reloaded <- struct{}{}:
	default:
	}
}

// Stop ends monitoring and waits for the watcher goroutine. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.done)
	err := w.fw.Close()
	w.wg.Wait()
	return err
}
