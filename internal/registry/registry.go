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

// Package registry loads workflow definition files from a directory and
// keeps storage and an in-memory snapshot in sync with them. The snapshot
// feeds the scheduler and the timeout supervisor; storage preserves the
// trigger cursor across reloads.
package registry

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ratchetworks/ratchet/internal/log"
	"github.com/ratchetworks/ratchet/internal/storage"
	"github.com/ratchetworks/ratchet/pkg/model"
)

// Registry owns the mapping from definition files to registered workflows.
// Load replaces the whole registered set: workflows that disappeared from
// the directory are deleted from storage, everything else is upserted.
type Registry struct {
	dir      string
	patterns []string
	store    storage.WorkflowStore
	logger   *slog.Logger

	mu        sync.RWMutex
	workflows map[model.WorkflowID]model.Workflow
}

// LoadResult summarizes one load pass. Per-file problems land in Errors and
// do not abort the pass; a broken file must not take down the rest of the
// directory on a hot reload.
type LoadResult struct {
	Files    int
	Loaded   int
	Removed  int
	Problems []error
}

// New creates a Registry over a definition directory. Patterns are
// doublestar globs matched against paths relative to dir.
func New(dir string, patterns []string, store storage.WorkflowStore, logger *slog.Logger) (*Registry, error) {
	for _, pattern := range patterns {
		if _, err := doublestar.Match(pattern, "probe"); err != nil {
			return nil, fmt.Errorf("invalid workflow pattern %q: %w", pattern, err)
		}
	}
	return &Registry{
		dir:       dir,
		patterns:  patterns,
		store:     store,
		logger:    log.WithComponent(logger, "registry"),
		workflows: make(map[model.WorkflowID]model.Workflow),
	}, nil
}

// Load scans the directory, parses every matching definition file, upserts
// the result into storage and swaps the in-memory snapshot. Returns an error
// only when the scan or storage itself fails; malformed files are reported
// in the result and skipped.
func (r *Registry) Load(ctx context.Context) (LoadResult, error) {
	var result LoadResult

	files, err := r.matchFiles()
	if err != nil {
		return result, err
	}
	result.Files = len(files)

	next := make(map[model.WorkflowID]model.Workflow)
	owner := make(map[model.WorkflowID]string)

	for _, path := range files {
		def, err := r.loadFile(path)
		if err != nil {
			result.Problems = append(result.Problems, fmt.Errorf("%s: %w", path, err))
			r.logger.Warn("skipping definition file",
				log.String("file", path),
				log.Error(err),
			)
			continue
		}
		for _, wf := range def.Models() {
			if other, dup := owner[wf.ID]; dup {
				err := fmt.Errorf("%s: workflow %s already defined in %s", path, wf.ID, other)
				result.Problems = append(result.Problems, err)
				r.logger.Warn("skipping duplicate workflow", log.Error(err))
				continue
			}
			next[wf.ID] = wf
			owner[wf.ID] = path
		}
	}

	for _, wf := range next {
		if err := r.store.SaveWorkflow(ctx, wf); err != nil {
			return result, fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
		}
	}

	r.mu.Lock()
	previous := r.workflows
	r.workflows = next
	r.mu.Unlock()

	for id := range previous {
		if _, ok := next[id]; ok {
			continue
		}
		if err := r.store.DeleteWorkflow(ctx, id); err != nil {
			return result, fmt.Errorf("failed to delete workflow %s: %w", id, err)
		}
		result.Removed++
		r.logger.Info("workflow removed", log.String(log.WorkflowKey, id.String()))
	}

	result.Loaded = len(next)
	recordLoad(len(next), len(result.Problems))
	r.logger.Info("workflow definitions loaded",
		log.Int("files", result.Files),
		log.Int("workflows", result.Loaded),
		log.Int("removed", result.Removed),
		log.Int("problems", len(result.Problems)),
	)
	return result, nil
}

// Snapshot returns a copy of the registered workflows. The signature matches
// the supplier the timeout handler and execution handler consume.
func (r *Registry) Snapshot() map[model.WorkflowID]model.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[model.WorkflowID]model.Workflow, len(r.workflows))
	for id, wf := range r.workflows {
		snapshot[id] = wf
	}
	return snapshot
}

// Get returns one registered workflow.
func (r *Registry) Get(id model.WorkflowID) (model.Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[id]
	return wf, ok
}

// Count returns the number of registered workflows.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workflows)
}

// Dir returns the definition directory the registry scans.
func (r *Registry) Dir() string {
	return r.dir
}

// matchFiles walks the directory and returns the files matching any
// configured pattern, as absolute-ish paths in walk order.
func (r *Registry) matchFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.dir, path)
		if err != nil {
			return err
		}
		if r.matches(filepath.ToSlash(rel)) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow directory %s: %w", r.dir, err)
	}
	return files, nil
}

// matches reports whether a slash-separated relative path matches any
// configured pattern.
func (r *Registry) matches(rel string) bool {
	for _, pattern := range r.patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// loadFile parses and validates one definition file.
func (r *Registry) loadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to read file: %w", err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return Definition{}, err
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}
