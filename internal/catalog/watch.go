package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch ingests CSV files as they appear in dir. Writes are debounced so a
// file still being copied is loaded once, after it settles. The loop exits
// when ctx is cancelled. Ingest failures are logged and do not stop the
// watcher.
func (c *Catalog) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	c.logger.Info("watching data directory", zap.String("dir", dir))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".csv") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				pending[event.Name] = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("watcher error", zap.Error(err))

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < time.Second {
					continue
				}
				delete(pending, path)
				if _, err := c.Ingest(ctx, path, ""); err != nil {
					c.logger.Warn("auto-ingest failed",
						zap.String("file", path), zap.Error(err))
				}
			}
		}
	}
}
