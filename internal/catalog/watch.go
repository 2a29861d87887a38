package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watcher reloads the dynamic family when the dynamic index file changes
// size. Events are handled on a single goroutine.
type watcher struct {
	fs       *fsnotify.Watcher
	path     string
	lastSize int64
	stop     chan struct{}
	done     chan struct{}
}

// Watch starts watching the dynamic correlation index. It is a no-op when
// a watcher is already running.
func (c *Catalog) Watch(ctx context.Context) error {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watcher != nil {
		return nil
	}

	path, err := filepath.Abs(c.cfg.Paths.DynamicCorrelation)
	if err != nil {
		return err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(path)); err != nil {
		fs.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &watcher{
		fs:       fs,
		path:     path,
		lastSize: fileSize(path),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.watcher = w
	go c.watchLoop(ctx, w)

	c.log.Debug("watching dynamic index", "path", path)
	return nil
}

func (c *Catalog) watchLoop(ctx context.Context, w *watcher) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			c.log.Warn("file watcher error", "error", err)
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			size := fileSize(w.path)
			if size < 0 || size == w.lastSize {
				continue
			}
			c.log.Debug("dynamic index changed", "size", size)
			if err := c.Reload(ctx, Dynamic); err != nil {
				// Likely a partial write; the next event retries.
				c.log.Warn("failed to reload dynamic icons", "error", err)
				continue
			}
			w.lastSize = size
		}
	}
}

func (c *Catalog) stopWatch() {
	c.watchMu.Lock()
	w := c.watcher
	c.watcher = nil
	c.watchMu.Unlock()
	if w == nil {
		return
	}
	close(w.stop)
	<-w.done
	w.fs.Close()
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}
