package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 250 * time.Millisecond

// Watch reloads path whenever it changes and sends each valid snapshot on
// the returned channel. Invalid files are logged and skipped. The channel is
// closed when ctx is done.
//
// The parent directory is watched rather than the file so editors that
// replace the file on save are handled.
func Watch(ctx context.Context, path string, logger *slog.Logger) (<-chan *Settings, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}

	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch %q: %w", filepath.Dir(abs), err)
	}

	out := make(chan *Settings, 1)

	go func() {
		defer close(out)
		defer w.Close()

		var (
			timer  *time.Timer
			timerC  <-chan time.Time
		)

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				timerC = timer.C

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "err", err)

			case <-timerC:
				timerC = nil

				s, err := Load(abs)
				if err != nil {
					logger.Warn("config reload rejected", "path", abs, "err", err)
					continue
				}

				logger.Info("config reloaded", "path", abs)

				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
