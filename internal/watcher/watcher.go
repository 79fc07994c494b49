// Package watcher keeps the index in step with the data directory: .txt
// files that are created or modified are re-ingested and removed files are
// deleted from the index.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"docchat/internal/loader"
	"docchat/internal/model"
)

type Handler interface {
	IngestFile(ctx context.Context, path, source string) (*model.Document, error)
	DeleteIfExists(ctx context.Context, name string) (bool, error)
}

type action int

const (
	actionIngest action = iota + 1
	actionDelete
)

type Watcher struct {
	dir      string
	handler  Handler
	debounce time.Duration
	logger   *zap.Logger
	fs       *fsnotify.Watcher

	fire   chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher for dir. Bursts of events on one file within
// debounce collapse into a single action.
func New(dir string, handler Handler, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher failed: %w", err)
	}
	return &Watcher{
		dir:      dir,
		handler:  handler,
		debounce: debounce,
		logger:   logger.With(zap.String("component", "watcher")),
		fs:       fsw,
		fire:     make(chan string, 16),
	}, nil
}

func (w *Watcher) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}
	if err := w.fs.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s failed: %w", w.dir, err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(loopCtx)
	}()
	w.logger.Info("watching data directory", zap.String("dir", w.dir))
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	pending := map[string]action{}
	timers := map[string]*time.Timer{}
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(event.Name), loader.ExtText) {
				continue
			}
			var act action
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				act = actionIngest
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				act = actionDelete
			default:
				continue
			}
			path := event.Name
			pending[path] = act
			if t, ok := timers[path]; ok {
				t.Stop()
			}
			timers[path] = time.AfterFunc(w.debounce, func() {
				select {
				case w.fire <- path:
				case <-ctx.Done():
				}
			})
		case path := <-w.fire:
			act, ok := pending[path]
			if !ok {
				continue
			}
			delete(pending, path)
			delete(timers, path)
			w.apply(ctx, path, act)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		}
	}
}

func (w *Watcher) apply(ctx context.Context, path string, act action) {
	switch act {
	case actionIngest:
		doc, err := w.handler.IngestFile(ctx, path, model.SourceWatch)
		if err != nil {
			w.logger.Warn("ingest changed file failed", zap.String("path", path), zap.Error(err))
			return
		}
		w.logger.Info("file ingested", zap.String("document", doc.Name), zap.Int("chunks", doc.ChunkCount))
	case actionDelete:
		name := loader.DocumentName(path)
		deleted, err := w.handler.DeleteIfExists(ctx, name)
		if err != nil {
			w.logger.Warn("delete removed file failed", zap.String("document", name), zap.Error(err))
			return
		}
		if deleted {
			w.logger.Info("document removed", zap.String("document", name))
		}
	}
}

func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.fs.Close()
	w.wg.Wait()
	return err
}
