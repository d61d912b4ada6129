package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/codefionn/bfrelay/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file at path whenever it changes on disk and hands
// the freshly loaded config to onChange. The parent directory is watched so
// editors that replace the file on save are picked up. Watch blocks until ctx
// is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(absPath)
			if err != nil {
				logger.Warn("Ignoring config change, reload failed: %v", err)
				continue
			}
			logger.Info("Config reloaded from %s", absPath)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error: %v", err)
		}
	}
}
