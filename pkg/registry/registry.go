package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/archflow/archflow/pkg/flow"
	"github.com/archflow/archflow/pkg/mcpbroker"
	"github.com/bmatcuk/doublestar/v4"
)

// Registry holds every workflow discovered from a directory tree,
// keyed by declared id. Safe for concurrent reads and a single
// concurrent Load/reload.
type Registry struct {
	mu sync.RWMutex
	workflows map[string]*WorkflowFile
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{workflows: make(map[string]*WorkflowFile)}
}

// Load discovers every *.yaml/*.yml file under root (recursively, via
// a doublestar "**" glob so nested directories are included) and
// parses each as a workflow definition, replacing the registry's
// current contents wholesale. A single malformed file fails the whole
// load and leaves the current contents unchanged; there is no
// partial-load mode.
func (r *Registry) Load(root string) error {
	var matches []string
	for _, ext := range []string{"*.yaml", "*.yml"} {
		found, err := doublestar.FilepathGlob(filepath.Join(root, "**", ext))
		if err != nil {
			return fmt.Errorf("registry: glob %s: %w", root, err)
		}
		matches = append(matches, found...)
	}
	sort.Strings(matches)

	loaded := make(map[string]*WorkflowFile, len(matches))
	for _, path := range matches {
		wf, err := loadFile(path)
		if err != nil {
			return err
		}
		if existing, ok := loaded[wf.ID]; ok {
			return fmt.Errorf("registry: duplicate workflow id %q (already loaded from a prior file, conflicting with %s)", wf.ID, existing.ID)
		}
		loaded[wf.ID] = wf
	}

	r.mu.Lock()
	r.workflows = loaded
	r.mu.Unlock()
	return nil
}

func loadFile(path string) (*WorkflowFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	wf, err := ParseWorkflowFile(data)
	if err != nil {
		return nil, fmt.Errorf("registry: %s: %w", path, err)
	}
	return wf, nil
}

// Get returns the workflow registered under id.
func (r *Registry) Get(id string) (*WorkflowFile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[id]
	return wf, ok
}

// Definition resolves id to its runtime flow.Definition.
func (r *Registry) Definition(id string) (flow.Definition, bool) {
	wf, ok := r.Get(id)
	if !ok {
		return flow.Definition{}, false
	}
	return wf.ToDefinition(), true
}

// ListWorkflows implements mcpbroker.WorkflowSource, so a Registry can
// be handed directly to mcpbroker.New.
func (r *Registry) ListWorkflows() []mcpbroker.WorkflowInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcpbroker.WorkflowInfo, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf.ToWorkflowInfo())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports how many workflows are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workflows)
}
