package bundler

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

// Watch builds the bundle once and then again after every debounced batch of
// file changes under its watch paths. The returned channel yields one result
// per build and is closed when ctx is cancelled.
func (b *Bundler) Watch(ctx context.Context, cfg domain.BuildConfig, bundle string) (<-chan domain.BuildResult, error) {
	bc, ok := b.bundle(bundle)
	if !ok {
		return nil, fmt.Errorf("unknown bundle %q", bundle)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	for _, p := range bc.WatchPaths {
		if err := b.addTree(watcher, b.resolve(p)); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	out := make(chan domain.BuildResult, 1)
	go b.watchLoop(ctx, watcher, cfg, bundle, out)
	return out, nil
}

func (b *Bundler) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, cfg domain.BuildConfig, bundle string, out chan<- domain.BuildResult) {
	defer close(out)
	defer watcher.Close()

	log := b.log.With().Str("bundle", bundle).Logger()

	emit := func() {
		result, _ := b.BuildBundle(ctx, cfg, bundle)
		if ctx.Err() != nil {
			return
		}
		select {
		case out <- result:
		case <-ctx.Done():
		}
	}

	emit()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !b.relevant(watcher, event) {
				continue
			}
			log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("change detected")

			// Reset or start debounce timer
			if timer == nil {
				timer = time.NewTimer(b.config.Debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(b.config.Debounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			log.Warn().Err(err).Msg("watch error")

		case <-fire:
			fire = nil
			emit()
		}
	}
}

// relevant filters events and follows newly created directories
func (b *Bundler) relevant(watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	if b.ignored(event.Name) {
		return false
	}
	if event.Op == fsnotify.Chmod {
		return false
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := b.addTree(watcher, event.Name); err != nil {
				b.log.Warn().Err(err).Str("path", event.Name).Msg("cannot watch new directory")
			}
		}
	}
	return true
}

// addTree watches dir and all of its subdirectories
func (b *Bundler) addTree(watcher *fsnotify.Watcher, dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		b.log.Warn().Str("path", dir).Msg("watch path does not exist")
		return nil
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && b.ignored(path) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// ignored reports source maps, paths inside dependency or hidden
// directories below the project directory, and configured output directories
func (b *Bundler) ignored(path string) bool {
	if strings.HasSuffix(path, ".map") {
		return true
	}
	if b.config.Dir != "" {
		if rel, err := filepath.Rel(b.config.Dir, path); err == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}
	}
	path = filepath.ToSlash(path)
	for _, out := range b.config.Ignore {
		out = strings.TrimSuffix(filepath.ToSlash(filepath.Clean(out)), "/")
		if path == out || strings.HasPrefix(path, out+"/") {
			return true
		}
	}
	for _, part := range strings.Split(path, "/") {
		if part == "node_modules" || (len(part) > 1 && strings.HasPrefix(part, ".") && part != "..") {
			return true
		}
	}
	return false
}

func (b *Bundler) bundle(name string) (Bundle, bool) {
	for _, bc := range b.config.Bundles {
		if bc.Name == name {
			return bc, true
		}
	}
	return Bundle{}, false
}

func (b *Bundler) resolve(path string) string {
	if filepath.IsAbs(path) || b.config.Dir == "" {
		return path
	}
	return filepath.Join(b.config.Dir, path)
}
