// Package rag maintains the tool-description vector index used to retrieve
// a small candidate tool set for the LLM agent. The index is a flat
// inner-product store over unit-normalized vectors, persisted atomically
// next to a JSON metadata sidecar.
package rag

import (
	"fmt"
	"sort"
	"sync"

	"github.com/codeready-toolchain/dispatch/pkg/llm"
)

// ToolMeta records where a tool's vector sits in the flat store.
type ToolMeta struct {
	Idx         int    `json:"idx"`
	Description string `json:"description"`
}

// Metadata is the JSON sidecar of the vector store. Tools and IdxToTool are
// a bijection: Tools[name].Idx == i exactly when IdxToTool[i] == name.
type Metadata struct {
	Tools     map[string]ToolMeta `json:"tools"`
	IdxToTool []string            `json:"idx_to_tool"`
}

// Match is one search hit.
type Match struct {
	Name  string
	Score float32
}

// Index is the in-memory flat store. Vectors must be unit-normalized by the
// caller; search scores are plain inner products.
type Index struct {
	dim int

	mu      sync.RWMutex
	vectors [][]float32
	meta    Metadata
}

// NewIndex returns an empty index for vectors of the given dimension.
func NewIndex(dim int) *Index {
	return &Index{
		dim:  dim,
		meta: Metadata{Tools: map[string]ToolMeta{}},
	}
}

// Dim returns the vector dimension.
func (x *Index) Dim() int { return x.dim }

// Count returns the number of indexed tools.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Names returns the indexed tool names in slot order.
func (x *Index) Names() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, len(x.meta.IdxToTool))
	copy(out, x.meta.IdxToTool)
	return out
}

// Has reports whether a tool is indexed.
func (x *Index) Has(name string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.meta.Tools[name]
	return ok
}

// Add appends a tool vector. Adding an already-indexed name or a vector of
// the wrong dimension is an error.
func (x *Index) Add(name, description string, vec []float32) error {
	if len(vec) != x.dim {
		return fmt.Errorf("vector for %q has dimension %d, index wants %d", name, len(vec), x.dim)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, dup := x.meta.Tools[name]; dup {
		return fmt.Errorf("tool %q already indexed", name)
	}
	x.meta.Tools[name] = ToolMeta{Idx: len(x.vectors), Description: description}
	x.meta.IdxToTool = append(x.meta.IdxToTool, name)
	x.vectors = append(x.vectors, vec)
	return nil
}

// Remove drops a tool and compacts the slots above it, keeping the bijection
// intact. Removing an unknown name is a no-op returning false.
func (x *Index) Remove(name string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	meta, ok := x.meta.Tools[name]
	if !ok {
		return false
	}
	idx := meta.Idx
	x.vectors = append(x.vectors[:idx], x.vectors[idx+1:]...)
	x.meta.IdxToTool = append(x.meta.IdxToTool[:idx], x.meta.IdxToTool[idx+1:]...)
	delete(x.meta.Tools, name)
	for i := idx; i < len(x.meta.IdxToTool); i++ {
		shifted := x.meta.Tools[x.meta.IdxToTool[i]]
		shifted.Idx = i
		x.meta.Tools[x.meta.IdxToTool[i]] = shifted
	}
	return true
}

// Search returns the top-k tools by inner product with the query vector.
func (x *Index) Search(query []float32, k int) ([]Match, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("query has dimension %d, index wants %d", len(query), x.dim)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	matches := make([]Match, len(x.vectors))
	for i, vec := range x.vectors {
		matches[i] = Match{Name: x.meta.IdxToTool[i], Score: llm.Dot(vec, query)}
	}
	sort.SliceStable(matches, func(a, b int) bool { return matches[a].Score > matches[b].Score })
	if k > 0 && k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// Verify checks the metadata bijection and the vector count. A failure means
// the persisted state is corrupt and the index must be rebuilt.
func (x *Index) Verify() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.vectors) != len(x.meta.IdxToTool) {
		return fmt.Errorf("index has %d vectors but %d slot entries", len(x.vectors), len(x.meta.IdxToTool))
	}
	if len(x.meta.Tools) != len(x.meta.IdxToTool) {
		return fmt.Errorf("index has %d tools but %d slot entries", len(x.meta.Tools), len(x.meta.IdxToTool))
	}
	for i, name := range x.meta.IdxToTool {
		meta, ok := x.meta.Tools[name]
		if !ok {
			return fmt.Errorf("slot %d names unknown tool %q", i, name)
		}
		if meta.Idx != i {
			return fmt.Errorf("tool %q maps to slot %d but occupies slot %d", name, meta.Idx, i)
		}
	}
	return nil
}

// snapshot returns deep copies of the vectors and metadata for persistence.
func (x *Index) snapshot() ([][]float32, Metadata) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	vecs := make([][]float32, len(x.vectors))
	for i, v := range x.vectors {
		vecs[i] = append([]float32(nil), v...)
	}
	meta := Metadata{
		Tools:     make(map[string]ToolMeta, len(x.meta.Tools)),
		IdxToTool: append([]string(nil), x.meta.IdxToTool...),
	}
	for k, v := range x.meta.Tools {
		meta.Tools[k] = v
	}
	return vecs, meta
}

// restore replaces the index contents. Used when loading from disk.
func (x *Index) restore(vectors [][]float32, meta Metadata) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = vectors
	x.meta = meta
	if x.meta.Tools == nil {
		x.meta.Tools = map[string]ToolMeta{}
	}
}
