package goalpipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the manager's templates whenever a definition file under
// paths changes, until ctx is done. Running pipe instances keep executing
// their clones; a reload only affects pipes instantiated afterwards.
// onReload, when set, is called after every reload attempt.
func Watch(ctx context.Context, m *Manager, paths []string, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, p := range paths {
		dir := p
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			dir = filepath.Dir(p)
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
	}

	logger := m.Logger()
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 || !isDefinitionFile(event.Name) {
				continue
			}
			pending = time.After(reloadDebounce)
		case <-pending:
			pending = nil
			err := Reload(m, paths)
			if err != nil {
				logger.Error("goal pipe reload failed", log.Error(err))
			} else {
				logger.Info("goal pipes reloaded", log.Strings("pipes", m.Names()))
			}
			if onReload != nil {
				onReload(err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("goal pipe watcher error", log.Error(err))
		}
	}
}

func isDefinitionFile(name string) bool {
	switch filepath.Ext(name) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
