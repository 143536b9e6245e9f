package pulse

import (
	"strings"
	"sync"

	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// ResourceIndex maps (kind, name) to the locations where the resource was
// last observed. Populated from pulse probe payloads; each probe replaces the
// entries previously contributed by its backend.
type ResourceIndex struct {
	mu sync.RWMutex
	// kind -> name -> locations
	entries map[string]map[string][]tools.ResourceLocation
}

// NewResourceIndex returns an empty index.
func NewResourceIndex() *ResourceIndex {
	return &ResourceIndex{entries: make(map[string]map[string][]tools.ResourceLocation)}
}

// Update replaces the backend's contribution from a pod-list payload. The
// payload shape follows the backend servers: a "pods" array of objects with
// "name" and "namespace" fields, optionally a "deployments" array alike.
func (x *ResourceIndex) Update(backendID string, payload map[string]any) {
	observed := map[string]map[string][]tools.ResourceLocation{}
	for _, kind := range []string{"pods", "deployments"} {
		items, ok := payload[kind].([]any)
		if !ok {
			continue
		}
		byName := map[string][]tools.ResourceLocation{}
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, _ := obj["name"].(string)
			if name == "" {
				continue
			}
			ns, _ := obj["namespace"].(string)
			if ns == "" {
				ns = "default"
			}
			byName[name] = append(byName[name], tools.ResourceLocation{Backend: backendID, Namespace: ns})
		}
		observed[kind] = byName
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for kind, byName := range observed {
		names := x.entries[kind]
		if names == nil {
			names = map[string][]tools.ResourceLocation{}
			x.entries[kind] = names
		}
		// Drop this backend's stale entries before adding fresh ones.
		for name, locs := range names {
			kept := locs[:0]
			for _, loc := range locs {
				if loc.Backend != backendID {
					kept = append(kept, loc)
				}
			}
			if len(kept) == 0 {
				delete(names, name)
			} else {
				names[name] = kept
			}
		}
		for name, locs := range byName {
			names[name] = append(names[name], locs...)
		}
	}
}

// Lookup returns the known locations of a resource, or nil. Kind is
// normalized to its plural lowercase form.
func (x *ResourceIndex) Lookup(kind, name string) []tools.ResourceLocation {
	kind = strings.ToLower(kind)
	if !strings.HasSuffix(kind, "s") {
		kind += "s"
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	locs := x.entries[kind][name]
	if len(locs) == 0 {
		return nil
	}
	out := make([]tools.ResourceLocation, len(locs))
	copy(out, locs)
	return out
}
