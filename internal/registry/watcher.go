// Copyright 2026 The Ratchet Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ratchetworks/ratchet/internal/log"
)

// Watcher hot-reloads the registry when definition files change. Bursts of
// filesystem events (editor saves, rsync) are coalesced into one reload by a
// debounce window; every reload is a full directory scan, so the watcher
// never has to reason about individual files.
type Watcher struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher over the registry's directory tree. fsnotify
// watches are not recursive, so every subdirectory is added individually and
// newly created subdirectories are picked up from their create events.
func NewWatcher(registry *Registry, interval time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		registry: registry,
		interval: interval,
		logger:   log.WithComponent(logger, "watcher"),
		fsw:      fsw,
	}
	if err := w.watchTree(registry.Dir()); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// watchTree adds the directory and all current subdirectories.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Start launches the watch loop.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx)
	w.logger.Info("workflow watcher started", log.String("dir", w.registry.Dir()))
}

// Stop halts the watch loop and releases the filesystem watches.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	doneCh := w.doneCh
	w.mu.Unlock()

	<-doneCh
	return w.fsw.Close()
}

// loop turns filesystem events into debounced reloads. The reload runs on
// this goroutine, so stopping the loop also stops any future reload.
func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	var debounce *time.Timer
	var reloadC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("definition change detected",
				log.String("file", event.Name),
				log.String("op", event.Op.String()),
			)
			if debounce == nil {
				debounce = time.NewTimer(w.interval)
				reloadC = debounce.C
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(w.interval)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", log.Error(err))
		case <-reloadC:
			debounce = nil
			reloadC = nil
			recordReload()
			if _, err := w.registry.Load(ctx); err != nil {
				w.logger.Error("hot reload failed", log.Error(err))
			}
		}
	}
}

// relevant reports whether an event should schedule a reload. Chmod-only
// events are ignored. A created directory is added to the watch set and
// counts as relevant since files may have arrived with it; a removed or
// renamed entry that was itself watched was a directory of definitions.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	const ops = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	if event.Op&ops == 0 {
		return false
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				w.logger.Error("failed to watch new directory",
					log.String("dir", event.Name),
					log.Error(err),
				)
			}
			return true
		}
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		for _, watched := range w.fsw.WatchList() {
			if watched == event.Name {
				return true
			}
		}
	}

	rel, err := filepath.Rel(w.registry.Dir(), event.Name)
	if err != nil {
		return false
	}
	return w.registry.matches(filepath.ToSlash(rel))
}
