package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/schaermu/wcsync/internal/wcpath"
)

// ChangeFunc receives the resources touched since the previous call.
type ChangeFunc func(ctx context.Context, paths []wcpath.Path)

// Watcher reports filesystem changes below a working copy as resource
// paths. Events arriving within the quiet period are delivered together.
type Watcher struct {
	lister *Lister
	quiet  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[wcpath.Path]struct{}
}

// NewWatcher creates a watcher for the lister's root.
func NewWatcher(lister *Lister, quiet time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		lister:  lister,
		quiet:   quiet,
		logger:  logger,
		pending: make(map[wcpath.Path]struct{}),
	}
}

// Run watches until ctx is done and calls onChange with each batch of
// touched paths. New directories are watched as they appear.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	defer func() {
		_ = fw.Close()
	}()

	if err := w.addTree(fw, wcpath.Root); err != nil {
		return err
	}
	w.logger.Info("watching workspace", "root", w.lister.Root())

	timer := time.NewTimer(w.quiet)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			p, err := w.lister.Resolve(ev.Name)
			if err != nil || (w.lister.filter != nil && !w.lister.filter.IsSupervised(p)) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if err := w.addTree(fw, p); err != nil {
					w.logger.Warn("failed to watch new directory", "path", p, "error", err)
				}
			}
			w.mu.Lock()
			w.pending[p] = struct{}{}
			w.mu.Unlock()
			timer.Reset(w.quiet)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watcher error", "error", err)

		case <-timer.C:
			if paths := w.drain(); len(paths) > 0 {
				w.logger.Debug("workspace changed", "paths", len(paths))
				onChange(ctx, paths)
			}
		}
	}
}

// drain returns and clears the pending paths.
func (w *Watcher) drain() []wcpath.Path {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]wcpath.Path, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[wcpath.Path]struct{})
	wcpath.Sort(paths)
	return paths
}

// addTree watches the directory p and every supervised directory below it.
// Non-directories are ignored.
func (w *Watcher) addTree(fw *fsnotify.Watcher, p wcpath.Path) error {
	root := w.lister.Abs(p)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rp, err := w.lister.Resolve(path)
		if err != nil {
			return filepath.SkipDir
		}
		if w.lister.filter != nil && !w.lister.filter.IsSupervised(rp) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
