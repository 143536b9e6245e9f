package tools

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// ChangeKind distinguishes registry mutations.
type ChangeKind int

const (
	// ToolAdded signals a new descriptor was registered.
	ToolAdded ChangeKind = iota
	// ToolRemoved signals a descriptor was unregistered.
	ToolRemoved
)

// ChangeEvent notifies subscribers (the retriever, primarily) that the tool
// set changed after startup.
type ChangeEvent struct {
	Kind ChangeKind
	Name string
}

// Registry owns the flat list of tool descriptors. Reads return a snapshot of
// the backing slice (copy-on-write), so callers may iterate without holding
// any lock while rare Add/Remove calls swap the slice under the mutex.
type Registry struct {
	mu    sync.RWMutex
	list  []*Descriptor
	index map[string]*Descriptor

	subsMu sync.Mutex
	subs   []chan ChangeEvent

	logger *slog.Logger
}

// NewRegistry builds a registry from the given descriptors. Duplicate names
// are rejected; registration order is preserved for List.
func NewRegistry(descriptors []*Descriptor) (*Registry, error) {
	r := &Registry{
		index:  make(map[string]*Descriptor, len(descriptors)),
		logger: slog.Default(),
	}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("tool descriptor with empty name")
		}
		if _, dup := r.index[d.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", d.Name)
		}
		r.index[d.Name] = d
		r.list = append(r.list, d)
	}
	return r, nil
}

// List returns a snapshot of all descriptors in registration order.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.list)
}

// ListByBackend returns descriptors belonging to any of the given backends,
// preserving registration order.
func (r *Registry) ListByBackend(backendIDs []string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Descriptor
	for _, d := range r.list {
		if slices.Contains(backendIDs, Backend(d.Name)) {
			out = append(out, d)
		}
	}
	return out
}

// Find returns the descriptor for name, or nil when unknown.
func (r *Registry) Find(name string) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index[name]
}

// Names returns the set of registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.list))
	for i, d := range r.list {
		names[i] = d.Name
	}
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.list)
}

// ToolSchema is the JSON-serializable description of a tool, used both for
// LLM prompting and retrieval indexing.
type ToolSchema struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

// Schema returns the serializable schema of every registered tool.
func (r *Registry) Schema() []ToolSchema {
	return schemaOf(r.List())
}

// SchemaByBackend returns the serializable schema of tools on the given
// backends.
func (r *Registry) SchemaByBackend(backendIDs []string) []ToolSchema {
	return schemaOf(r.ListByBackend(backendIDs))
}

func schemaOf(descriptors []*Descriptor) []ToolSchema {
	out := make([]ToolSchema, len(descriptors))
	for i, d := range descriptors {
		out[i] = ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

// Add registers a new descriptor after startup and notifies subscribers.
func (r *Registry) Add(d *Descriptor) error {
	r.mu.Lock()
	if _, dup := r.index[d.Name]; dup {
		r.mu.Unlock()
		return fmt.Errorf("duplicate tool name %q", d.Name)
	}
	next := slices.Clone(r.list)
	next = append(next, d)
	r.list = next
	r.index[d.Name] = d
	r.mu.Unlock()

	r.logger.Info("Tool registered", "tool", d.Name)
	r.notify(ChangeEvent{Kind: ToolAdded, Name: d.Name})
	return nil
}

// Remove unregisters a descriptor and notifies subscribers. Removing an
// unknown name is a no-op returning false.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	if _, ok := r.index[name]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.index, name)
	next := make([]*Descriptor, 0, len(r.list)-1)
	for _, d := range r.list {
		if d.Name != name {
			next = append(next, d)
		}
	}
	r.list = next
	r.mu.Unlock()

	r.logger.Info("Tool unregistered", "tool", name)
	r.notify(ChangeEvent{Kind: ToolRemoved, Name: name})
	return true
}

// Subscribe returns a channel receiving future change events. The channel is
// buffered; slow consumers drop events rather than block registry mutation.
func (r *Registry) Subscribe() <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 16)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()
	return ch
}

func (r *Registry) notify(ev ChangeEvent) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.logger.Warn("Dropping registry change event, subscriber is slow",
				"tool", ev.Name)
		}
	}
}
