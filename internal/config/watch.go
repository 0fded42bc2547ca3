package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

// Watch reloads fileName on every write and hands each valid result to
// onChange. Env and flag overrides still apply. Invalid edits are logged and
// skipped. It returns once the watcher is running; ctx stops it.
func Watch(ctx context.Context, fileName string, fs *pflag.FlagSet, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// Editors often replace the file, so watch its directory.
	dir := filepath.Dir(fileName)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}
	go watchLoop(ctx, watcher, filepath.Clean(fileName), fs, onChange)
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, fileName string, fs *pflag.FlagSet, onChange func(*Config)) {
	defer watcher.Close()
	logger := log.With().Str("module", "config").Str("file", fileName).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fileName || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := load(fileName, fs)
			if err != nil {
				logger.Error().Err(err).Msg("config reload rejected")
				continue
			}
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}
