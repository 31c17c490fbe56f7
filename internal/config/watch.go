package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the config file for rewrites made by other processes (the
// credential refresher in particular) and marks the store stale. It watches
// the parent directory so atomic rename-based writers are seen too. The
// watcher stops when ctx is done. onChange, when non-nil, is called after the
// store is marked stale.
func (c *Config) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	dir, err := filepath.Abs(c.Dir())
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: resolve %s: %w", c.Dir(), err)
	}
	target, err := filepath.Abs(c.path)
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: resolve %s: %w", c.path, err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	go c.watchLoop(ctx, watcher, target, onChange)
	return nil
}

func (c *Config) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, target string, onChange func()) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			if c.markIfChanged() && onChange != nil {
				onChange()
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
