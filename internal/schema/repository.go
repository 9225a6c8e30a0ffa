// Package schema loads and serves the task catalog.
package schema

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tomwchan/fourset/internal/model"
)

// setsFile holds the set groupings; every other JSON file in the catalog
// directory is one task schema document.
const setsFile = "sets.json"

// Repository is an explicit, injected task-schema store with a
// load-once/memoize contract and an explicit invalidation hook. The catalog
// is read-only for the process lifetime between invalidations.
type Repository struct {
	dir string

	mu     sync.RWMutex
	loaded bool
	tasks  map[string]model.TaskSchema
	sets   []model.TaskSet
}

// NewRepository creates a repository over a catalog directory.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Load reads the catalog from disk. Calling it on an already-loaded
// repository is a no-op; use Invalidate to force a reload.
func (r *Repository) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

func (r *Repository) loadLocked() error {
	if r.loaded {
		return nil
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read catalog dir: %w", err)
	}

	tasks := make(map[string]model.TaskSchema)
	var sets []model.TaskSet

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		if e.Name() == setsFile {
			if err := json.Unmarshal(data, &sets); err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			continue
		}

		var sch model.TaskSchema
		if err := json.Unmarshal(data, &sch); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if sch.ID == "" {
			slog.Warn("task schema without id, skipping", "path", path)
			continue
		}
		if _, dup := tasks[sch.ID]; dup {
			return fmt.Errorf("duplicate task schema %q in %s", sch.ID, path)
		}
		tasks[sch.ID] = sch
	}

	r.tasks = tasks
	r.sets = sets
	r.loaded = true
	slog.Info("loaded task catalog", "dir", r.dir, "tasks", len(tasks), "sets", len(sets))
	return nil
}

// ensure lazily loads the catalog on first use.
func (r *Repository) ensure() {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		slog.Error("catalog load failed", "dir", r.dir, "error", err)
	}
}

// Task returns the schema for a task id.
func (r *Repository) Task(id string) (model.TaskSchema, bool) {
	r.ensure()
	r.mu.RLock()
	defer r.mu.RUnlock()
	sch, ok := r.tasks[id]
	return sch, ok
}

// Sets returns the task set groupings in catalog order.
func (r *Repository) Sets() []model.TaskSet {
	r.ensure()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sets
}

// Invalidate discards the memoized catalog; the next access reloads it.
func (r *Repository) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
	r.tasks = nil
	r.sets = nil
}

// SecondaryOwned reports whether a field belongs to a task whose data is
// owned by the secondary platform. Fields are matched by task-id prefix,
// the naming convention of the survey exports.
func (r *Repository) SecondaryOwned(field string) bool {
	r.ensure()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, sch := range r.tasks {
		if sch.Authority != model.SourceQualtrics {
			continue
		}
		if field == id || strings.HasPrefix(field, id+"_") {
			return true
		}
	}
	return false
}
