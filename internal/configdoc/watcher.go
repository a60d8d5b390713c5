package configdoc

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

type ChangeEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher reports out-of-band edits to the config document and auth store so
// the sync loop can push them early instead of waiting a full interval.
type Watcher struct {
	paths  []string
	logger *slog.Logger
	events chan ChangeEvent
}

func NewWatcher(logger *slog.Logger, paths ...string) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		paths:  paths,
		logger: logger,
		events: make(chan ChangeEvent, 16),
	}
}

func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, file := range w.paths {
		_ = fsw.Add(file)
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.events <- ChangeEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
				w.logger.Info("config document changed", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
