package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/divertscan/fieldsync/internal/config"
	ferrors "github.com/divertscan/fieldsync/internal/foundation/errors"
	"github.com/divertscan/fieldsync/internal/logfields"
)

// configWatcher reloads the hot-reloadable configuration subset when the
// config file changes on disk. Editors save through renames, so the watcher
// monitors the containing directory and filters by file name.
type configWatcher struct {
	path     string
	daemon   *Daemon
	watcher  *fsnotify.Watcher
	debounce time.Duration
	stop     chan struct{}
}

func newConfigWatcher(path string, d *Daemon) (*configWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDaemon, "create file watcher").Build()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryDaemon, "resolve config path").Build()
	}
	return &configWatcher{
		path:     abs,
		daemon:   d,
		watcher:  watcher,
		debounce: 2 * time.Second,
		stop:     make(chan struct{}),
	}, nil
}

func (cw *configWatcher) Start(ctx context.Context) error {
	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryDaemon, "watch config directory").Build()
	}
	slog.Info("Watching config file for changes", "path", cw.path)
	go cw.loop(ctx)
	return nil
}

func (cw *configWatcher) Stop() {
	close(cw.stop)
	if err := cw.watcher.Close(); err != nil {
		slog.Error("Error closing file watcher", logfields.Error(err))
	}
}

func (cw *configWatcher) loop(ctx context.Context) {
	name := filepath.Base(cw.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stop:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce the burst of events a single save produces.
			if timer == nil {
				timer = time.NewTimer(cw.debounce)
			} else {
				timer.Reset(cw.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			cw.reload()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", logfields.Error(err))
		}
	}
}

func (cw *configWatcher) reload() {
	next, err := config.Load(cw.path)
	if err != nil {
		slog.Error("Config reload failed, keeping current configuration", logfields.Error(err))
		return
	}
	slog.Info("Config file changed, applying reloadable settings")
	cw.daemon.applyReload(next)
}
