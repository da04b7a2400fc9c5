// Package workspace tracks the worktrees whose sessions the hub coordinates.
// Creating, merging, and deleting worktrees is someone else's job; this
// package only registers them and notices when one disappears.
package workspace

import (
	"fmt"
	"sync"
)

// Workspace is one isolated checkout in which agent sessions run.
type Workspace struct {
	ID        string
	Path      string
	ProjectID string
}

// Registry holds known workspaces in insertion order. That order is also the
// stable iteration order the status aggregator depends on.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byID   map[string]Workspace
	byPath map[string]string // path -> id
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]Workspace),
		byPath: make(map[string]string),
	}
}

// Add registers a workspace. Re-adding an existing id updates it in place
// without disturbing its position.
func (r *Registry) Add(ws Workspace) error {
	if ws.ID == "" || ws.Path == "" {
		return fmt.Errorf("workspace needs id and path")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byID[ws.ID]; ok {
		delete(r.byPath, old.Path)
		r.byID[ws.ID] = ws
		r.byPath[ws.Path] = ws.ID
		return nil
	}
	r.order = append(r.order, ws.ID)
	r.byID[ws.ID] = ws
	r.byPath[ws.Path] = ws.ID
	return nil
}

// Remove drops a workspace from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byPath, ws.Path)
	for i := range r.order {
		if r.order[i] == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a workspace by id.
func (r *Registry) Get(id string) (Workspace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.byID[id]
	return ws, ok
}

// ByPath resolves a worktree path to its workspace.
func (r *Registry) ByPath(path string) (Workspace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPath[path]
	if !ok {
		return Workspace{}, false
	}
	return r.byID[id], true
}

// List returns all workspaces in insertion order.
func (r *Registry) List() []Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Workspace, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
