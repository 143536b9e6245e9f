package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/codeready-toolchain/dispatch/pkg/llm"
	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// DefaultTopK is the candidate set size handed to the LLM agent.
const DefaultTopK = 8

// Retriever keeps the vector index in sync with the tool registry and
// answers similarity queries. When the embedder is unavailable it degrades
// to keyword overlap so the agent still receives candidates.
type Retriever struct {
	registry *tools.Registry
	embedder llm.Embedder
	dir      string
	logger   *slog.Logger

	// mu guards index: rebuilds swap the pointer from the Watch goroutine
	// while request goroutines search it.
	mu    sync.RWMutex
	index *Index
}

func (r *Retriever) idx() *Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index
}

// NewRetriever loads the persisted index from dir when present and valid,
// otherwise starts empty. Call Sync before serving queries.
func NewRetriever(registry *tools.Registry, embedder llm.Embedder, dir string) *Retriever {
	logger := slog.Default()
	index, err := Load(dir, embedder.Dim())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Discarding persisted tool index", "error", err)
		}
		index = NewIndex(embedder.Dim())
	}
	return &Retriever{
		registry: registry,
		embedder: embedder,
		index:    index,
		dir:      dir,
		logger:   logger,
	}
}

// embedText is what gets vectorized for one tool.
func embedText(name, description string) string {
	return name + ": " + description
}

// Sync reconciles the index with the registry: missing tools are embedded
// and added, tools that no longer exist trigger a full rebuild. Saves when
// anything changed.
func (r *Retriever) Sync(ctx context.Context) error {
	registered := map[string]*tools.Descriptor{}
	for _, d := range r.registry.List() {
		registered[d.Name] = d
	}

	index := r.idx()
	for _, name := range index.Names() {
		if _, ok := registered[name]; !ok {
			r.logger.Info("Indexed tool no longer registered, rebuilding index", "tool", name)
			return r.rebuild(ctx)
		}
	}

	var added int
	for name, d := range registered {
		if index.Has(name) {
			continue
		}
		vec, err := r.embedder.Embed(ctx, embedText(name, d.Description))
		if err != nil {
			return fmt.Errorf("embed tool %q: %w", name, err)
		}
		if err := index.Add(name, d.Description, vec); err != nil {
			return err
		}
		added++
	}
	if added == 0 {
		return nil
	}
	r.logger.Info("Tool index synced", "added", added, "total", index.Count())
	return index.Save(r.dir)
}

// rebuild re-embeds every registered tool from its descriptor. Used after
// removals and after integrity failures.
func (r *Retriever) rebuild(ctx context.Context) error {
	fresh := NewIndex(r.embedder.Dim())
	for _, d := range r.registry.List() {
		vec, err := r.embedder.Embed(ctx, embedText(d.Name, d.Description))
		if err != nil {
			return fmt.Errorf("embed tool %q: %w", d.Name, err)
		}
		if err := fresh.Add(d.Name, d.Description, vec); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.index = fresh
	r.mu.Unlock()
	return fresh.Save(r.dir)
}

// Watch applies registry change events until the context ends. Run it on its
// own goroutine.
func (r *Retriever) Watch(ctx context.Context, events <-chan tools.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := r.apply(ctx, ev); err != nil {
				r.logger.Error("Failed to apply registry change to tool index",
					"tool", ev.Name, "error", err)
			}
		}
	}
}

func (r *Retriever) apply(ctx context.Context, ev tools.ChangeEvent) error {
	switch ev.Kind {
	case tools.ToolAdded:
		d := r.registry.Find(ev.Name)
		if d == nil {
			return nil // removed again before we got to it
		}
		vec, err := r.embedder.Embed(ctx, embedText(d.Name, d.Description))
		if err != nil {
			return err
		}
		index := r.idx()
		if err := index.Add(d.Name, d.Description, vec); err != nil {
			return err
		}
		return index.Save(r.dir)
	case tools.ToolRemoved:
		return r.rebuild(ctx)
	default:
		return nil
	}
}

// Retrieve returns up to k candidate tool schemas for the query, restricted
// to the given backends when the list is non-empty.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, backendIDs []string) []tools.ToolSchema {
	if k <= 0 {
		k = DefaultTopK
	}

	names := r.searchNames(ctx, query)
	var out []tools.ToolSchema
	for _, name := range names {
		if len(backendIDs) > 0 && !slices.Contains(backendIDs, tools.Backend(name)) {
			continue
		}
		d := r.registry.Find(name)
		if d == nil {
			continue
		}
		out = append(out, tools.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
		if len(out) == k {
			break
		}
	}
	return out
}

// searchNames ranks all indexed tools for the query, falling back to keyword
// overlap when embedding fails.
func (r *Retriever) searchNames(ctx context.Context, query string) []string {
	vec, err := r.embedder.Embed(ctx, query)
	if err == nil {
		matches, serr := r.idx().Search(vec, 0)
		if serr == nil {
			names := make([]string, len(matches))
			for i, m := range matches {
				names[i] = m.Name
			}
			return names
		}
		err = serr
	}
	r.logger.Warn("Vector retrieval unavailable, falling back to keyword match", "error", err)
	return r.keywordFallback(query)
}

// keywordFallback scores tools by word overlap between the query and the
// tool's name plus description.
func (r *Retriever) keywordFallback(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	type scored struct {
		name  string
		score int
	}
	var ranked []scored
	for _, d := range r.registry.List() {
		haystack := strings.ToLower(d.Name + " " + d.Description)
		score := 0
		for _, w := range words {
			if strings.Contains(haystack, w) {
				score++
			}
		}
		ranked = append(ranked, scored{name: d.Name, score: score})
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })
	names := make([]string, len(ranked))
	for i, s := range ranked {
		names[i] = s.name
	}
	return names
}
