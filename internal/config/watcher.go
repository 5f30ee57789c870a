package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounceDelay = 500 * time.Millisecond

// StartWatcher reloads the config whenever the config file or one of
// extraPaths (the wordlist) changes, and hands the new config to
// onConfigReload. A config that fails to load or validate is logged and
// dropped. It blocks until ctx is done.
func StartWatcher(ctx context.Context, configPath string, extraPaths []string, onConfigReload func(*Config), debounceDelay time.Duration) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create config file watcher", "error", err)
		return
	}
	defer watcher.Close()

	watched := make(map[string]struct{}, len(extraPaths)+1)
	dirs := make(map[string]struct{})
	for _, p := range append([]string{configPath}, extraPaths...) {
		if p == "" {
			continue
		}
		clean := filepath.Clean(p)
		watched[clean] = struct{}{}
		dirs[filepath.Dir(clean)] = struct{}{}
	}

	// Directories are watched so editors that replace files on save are seen.
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			slog.Error("Failed to add config path to watcher", "path", dir, "error", err)
			return
		}
	}

	delay := debounceDelay
	if delay <= 0 {
		delay = defaultDebounceDelay
	}

	slog.Info("Started configuration watcher", "path", configPath, "extra_paths", extraPaths, "debounce", delay)

	var debounceTimer *time.Timer
	var mu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			mu.Unlock()
			slog.Info("Stopping configuration watcher...")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				slog.Warn("Watcher events channel closed unexpectedly, stopping watcher.")
				return
			}

			_, isWatched := watched[filepath.Clean(event.Name)]
			isRelevantEvent := isWatched &&
				(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename))

			if isRelevantEvent {
				mu.Lock()
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(delay, func() {
					slog.Info("Config file changed, attempting to reload...", "path", configPath, "changed", event.Name)
					newCfg, _, err := Load(configPath, false)
					if err != nil {
						slog.Error("Failed to reload config file, keeping old configuration", "path", configPath, "error", err)
						return
					}

					onConfigReload(newCfg)
					slog.Info("Configuration reloaded and applied successfully", "path", configPath)
				})
				mu.Unlock()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				slog.Warn("Watcher errors channel closed unexpectedly, stopping watcher.")
				return
			}
			slog.Error("Error watching config file", "error", err)
		}
	}
}
