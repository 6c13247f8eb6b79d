package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last file event before a
// reload runs.
const DefaultDebounce = time.Second

// Watch reloads r whenever a rule file in dir changes, until ctx ends.
// Bursts of events within debounce trigger a single reload.
func Watch(ctx context.Context, dir string, debounce time.Duration, r *Reloader, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch rules directory %s: %w", dir, err)
	}
	logger.Info("hot-reload watcher started", "dir", dir, "debounce", debounce)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !IsRuleFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			logger.Debug("rule file changed", "file", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			// errors are logged and counted by Reload
			_, _ = r.Reload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("rules watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}
