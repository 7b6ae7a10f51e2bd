package config

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces the bursts editors produce when saving.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watcher signals when the config file or any file it includes changes on
// disk.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration

	mu    sync.Mutex
	paths map[string]struct{}
	dirs  map[string]struct{}

	logger   *slog.Logger
	onChange chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher for the given config files, typically the
// main file plus LoadResult.Files. The files do not need to exist yet; their
// directories do.
func NewWatcher(paths []string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Watcher{
		fsWatcher: fsw,
		paths:     cleanPaths(paths),
		dirs:      map[string]struct{}{},
		debounce:  debounce,
		logger:    logger,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

func cleanPaths(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p != "" {
			set[filepath.Clean(p)] = struct{}{}
		}
	}
	return set
}

// Start begins watching the config directories. Editors replace files by
// rename, so directories are watched rather than the files themselves.
// Returns a channel that receives a signal when the config changes.
func (w *Watcher) Start() (<-chan struct{}, error) {
	w.mu.Lock()
	err := w.addDirsLocked()
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}

	go w.loop()

	return w.onChange, nil
}

// SetPaths replaces the watched file set, e.g. after a reload changed the
// includes. Directories already watched stay watched.
func (w *Watcher) SetPaths(paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paths = cleanPaths(paths)
	return w.addDirsLocked()
}

func (w *Watcher) addDirsLocked() error {
	for p := range w.paths {
		dir := filepath.Dir(p)
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watching directory %s: %w", dir, err)
		}
		w.dirs[dir] = struct{}{}
	}
	return nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		var fire <-chan time.Time
		if timer != nil {
			fire = timer.C
		}

		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = true

		case <-fire:
			if pending {
				// Drop the signal if one is already queued.
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.paths[filepath.Clean(event.Name)]
	return ok
}
