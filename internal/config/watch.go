package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/sdss/archond/internal/archonerr"
	"github.com/sdss/archond/internal/logging"
)

// Run watches the config file for changes until ctx is cancelled,
// reloading and swapping in a new Config on every write/create event. A
// reload that fails to parse is logged and the previous Config is kept in
// place, so a typo in the file being edited never takes the daemon down.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return archonerr.Wrap(archonerr.Config, "", "config: create watcher failed", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return archonerr.Wrap(archonerr.Config, "", "config: watch "+w.path+" failed", err)
	}

	log := logging.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "err", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Warn("config reload failed, keeping previous config", "err", err)
				continue
			}
			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()
			log.Info("config reloaded", "path", w.path)
		}
	}
}
