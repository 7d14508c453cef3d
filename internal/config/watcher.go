// Package config provides service configuration for configd.
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch hot-reloads the defaults directory on file changes until the
// context is cancelled. Events are debounced so editors that write a file
// in several operations trigger a single reload.
func (d *Defaults) Watch(ctx context.Context) error {
	if d.dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(d.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch defaults dir: %w", err)
	}

	go d.watchLoop(ctx, watcher)
	log.Info().Str("dir", d.dir).Msg("Watching defaults directory")
	return nil
}

func (d *Defaults) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			ext := strings.ToLower(filepath.Ext(event.Name))
			if ext != ".yml" && ext != ".yaml" {
				continue
			}
			if !event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := d.Reload(); err != nil {
				log.Error().Err(err).Msg("Defaults reload failed")
			} else {
				log.Info().Msg("Defaults reloaded")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Defaults watcher error")
		}
	}
}
