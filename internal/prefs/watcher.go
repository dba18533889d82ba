package prefs

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/xhsdl/internal/naming"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the store whenever its file changes, until ctx is
// cancelled. The parent directory is watched so editors that replace the
// file by rename are picked up. onChange (if non-nil) is called after each
// successful reload.
func (s *Store) Watch(ctx context.Context, logger *slog.Logger, onChange func(naming.Preferences)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(s.path)

	logger.Info("prefs: watching", slog.String("path", s.path))

	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(reloadDebounce)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(reloadDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			logger.Info("prefs: watcher stopped")
			return nil

		case <-reloadCh:
			p, err := s.Reload()
			if err != nil {
				logger.Warn("prefs: reload failed", slog.String("error", err.Error()))
				continue
			}
			logger.Debug("prefs: reloaded",
				slog.Bool("enabled", p.Enabled),
				slog.String("template", p.Template))
			if onChange != nil {
				onChange(p)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("prefs: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
