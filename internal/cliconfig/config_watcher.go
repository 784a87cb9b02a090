package cliconfig

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/serialbatch/pkg/log"
)

// reloadDebounce coalesces the editor write bursts fsnotify reports for a
// single save into one reload.
const reloadDebounce = 100 * time.Millisecond

// Tunable is the part of a running port that can be reconfigured without a
// reopen. Both setters take effect on the next trigger evaluation.
type Tunable interface {
	SetBlockSize(n int)
	SetFlushTimeout(d time.Duration)
}

// ConfigWatcher monitors the config file via fsnotify and applies changed
// coalescing tunables (block_size, flush_timeout) to a running port.
// Line settings (device, baud, parity) require a reopen and are ignored.
type ConfigWatcher struct {
	path   string
	target Tunable
	logger log.Logger

	mu       sync.Mutex
	debounce *time.Timer
}

// NewConfigWatcher creates a watcher for the config file at path.
func NewConfigWatcher(path string, target Tunable, logger log.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		path:   path,
		target: target,
		logger: logger,
	}
}

// Run watches the config file's directory until the context is canceled.
// Watching the directory rather than the file survives the
// write-temp-then-rename dance most editors do.
func (w *ConfigWatcher) Run(ctx context.Context) {
	if w.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("config watcher: create watcher", log.Err(err))
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		w.logger.Error("config watcher: watch dir", log.String("dir", dir), log.Err(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			w.stopDebounce()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounceReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher: watch error", log.Err(err))
		}
	}
}

func (w *ConfigWatcher) debounceReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *ConfigWatcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
}

// reload re-reads the file and applies the coalescing tunables.
func (w *ConfigWatcher) reload() {
	fc, err := LoadFileConfig(w.path)
	if err != nil {
		w.logger.Error("config watcher: reload", log.Err(err))
		return
	}

	if fc.BlockSize > 0 {
		w.target.SetBlockSize(fc.BlockSize)
		w.logger.Info("config watcher: applied block size", log.Int("block_size", fc.BlockSize))
	}
	if fc.FlushTimeout != "" {
		d, err := time.ParseDuration(fc.FlushTimeout)
		if err != nil {
			w.logger.Error("config watcher: parse flush_timeout", log.Err(err))
			return
		}
		if d > 0 {
			w.target.SetFlushTimeout(d)
			w.logger.Info("config watcher: applied flush timeout", log.Duration("flush_timeout", d))
		}
	}
}
