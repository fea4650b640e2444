package content

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the pools whenever a JSON file in the directory changes. It
// only sees changes made on the host filesystem and blocks until ctx is done.
func (p *Pools) Watch(ctx context.Context) error {
	if p.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file system watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(p.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", p.dir, err)
	}
	p.logger.Info("Watching content directory", "dir", p.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			p.logger.Debug("Content file changed", "event", event.Op.String(), "path", event.Name)
			if err := p.Load(); err != nil {
				p.logger.Error("Failed to reload content", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Error("Content watcher error", "error", err)
		}
	}
}
