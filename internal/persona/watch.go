package persona

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 200 * time.Millisecond

// Watch reloads the registry whenever a .md file in the personas directory
// changes. It blocks until ctx is cancelled. Rapid saves are coalesced.
func (r *Registry) Watch(ctx context.Context) error {
	if r.dir == "" {
		<-ctx.Done()
		return nil
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("create personas dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}
	r.log.Debug("watching personas", "dir", r.dir)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".md") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.log.Debug("persona changed", "file", filepath.Base(ev.Name), "op", ev.Op.String())
			timer.Reset(debounce)

		case <-timer.C:
			if err := r.Reload(); err != nil {
				r.log.Error("reload personas", "err", err)
				continue
			}
			r.log.Info("personas reloaded", "count", len(r.List()))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("persona watcher error", "err", err)
		}
	}
}
