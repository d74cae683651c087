package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/fsnotify/fsnotify"

	"github.com/plexus/gateway/common/logger"
)

// Watcher reloads a Snapshot from disk whenever its backing YAML file
// changes and hands the new Snapshot to onReload. Editors often replace a
// file rather than writing in place (rename-over-write), so both Write and
// Create events on the file's directory trigger a reload attempt.
type Watcher struct {
	path     string
	onReload func(*Snapshot)
	fw       *fsnotify.Watcher
}

// NewWatcher starts watching path's parent directory. Reload failures are
// logged and otherwise ignored: a bad edit never tears down the process or
// the currently-served Snapshot.
func NewWatcher(ctx context.Context, path string, onReload func(*Snapshot)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}

	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "watch config directory %q", dir)
	}

	w := &Watcher{path: path, onReload: onReload, fw: fw}
	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.fw.Close()

	// Debounce bursts of events from editors that write a file in several
	// syscalls (truncate, write, chmod all fire separately).
	var pending *time.Timer
	reload := func() {
		snap, err := Load(w.path)
		if err != nil {
			logger.L().Warn("config reload failed, keeping previous snapshot", zap.Error(err))
			return
		}
		logger.L().Info("config reloaded")
		w.onReload(snap)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !(ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logger.L().Warn("config watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
