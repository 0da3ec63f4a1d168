package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"

	"github.com/beachside/beach/internal/logger"
)

// debounceWindow coalesces the burst of write/chmod events one file save
// usually produces into a single reload.
const debounceWindow = 200 * time.Millisecond

// Watch reloads path (via Load) whenever it changes on disk and publishes
// each successfully parsed Config on the returned channel. It closes the
// channel and stops watching when ctx is done. A reload that fails to
// parse is logged and skipped; the previous Config keeps being used by
// whoever is holding it.
func Watch(ctx context.Context, path string, flags *pflag.FlagSet) (<-chan Config, error) {
	if path == "" {
		defPath, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defPath
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan Config, 1)
	go func() {
		defer watcher.Close()
		defer close(out)

		var pending *time.Timer
		reload := func() {
			cfg, err := Load(path, flags)
			if err != nil {
				logger.Log.Warn("config: reload failed", "path", path, "err", err)
				return
			}
			select {
			case out <- cfg:
			default:
				<-out
				out <- cfg
			}
		}

		for {
			select {
			case <-ctx.Done():
				if pending != nil {
					pending.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(debounceWindow, reload)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Log.Warn("config: watcher error", "err", werr)
			}
		}
	}()

	return out, nil
}
