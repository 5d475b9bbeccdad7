package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/log"
)

// Watch reloads the config file at path whenever it changes on disk and
// invokes onReload with the freshly parsed Config. A parse error on
// reload is logged and the previous config stays in effect; Watch never
// returns on a bad reload, since the failure is a write-time validation
// error for whoever edited the file, not a reason to crash the engine.
func Watch(ctx context.Context, path string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		logger := log.WithComponent("config-watch")
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Error().Err(err).Msg("config reload failed, keeping previous configuration")
					continue
				}
				logger.Info().Msg("configuration reloaded")
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("config watcher error")
			}
		}
	}()

	return nil
}
