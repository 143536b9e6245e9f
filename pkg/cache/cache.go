// Package cache implements the semantic answer cache. A near-duplicate of a
// previously answered query is served from here for the cost of one
// embedding, skipping routing, the LLM and the backends entirely.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/codeready-toolchain/dispatch/pkg/llm"
	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// DefaultThreshold is the minimum similarity for a hit. High on purpose:
// "list pods" and "delete pods" are close in embedding space but must never
// collide.
const DefaultThreshold = 0.98

// maxEntries bounds the cache; the oldest entry is dropped first.
const maxEntries = 500

// Entry is one cached turn.
type Entry struct {
	Query     string       `json:"query"`
	Embedding []float32    `json:"embedding"`
	Output    string       `json:"output"`
	ToolCalls []tools.Call `json:"tool_calls"`
	Scope     string       `json:"scope,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Hit is a successful lookup.
type Hit struct {
	Output    string
	ToolCalls []tools.Call
	Score     float32
}

// Cache is the semantic cache. Lookups and inserts are safe to call
// concurrently; disk writes happen on the caller's goroutine of Add.
type Cache struct {
	path      string
	threshold float32
	embedder  llm.Embedder
	logger    *slog.Logger

	mu      sync.RWMutex
	entries []Entry
}

// New loads the cache from path when present. A corrupt file starts empty.
func New(path string, threshold float32, embedder llm.Embedder) *Cache {
	c := &Cache{
		path:      path,
		threshold: threshold,
		embedder:  embedder,
		logger:    slog.Default(),
	}
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &c.entries); err != nil {
			c.logger.Warn("Discarding unreadable semantic cache", "path", path)
			c.entries = nil
		}
	}
	return c
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Lookup returns the best cached answer scoring at or above the threshold.
// When scope is non-empty only entries recorded under the same scope are
// considered, so a docker answer never satisfies a kubernetes query.
func (c *Cache) Lookup(ctx context.Context, query, scope string) *Hit {
	c.mu.RLock()
	empty := len(c.entries) == 0
	c.mu.RUnlock()
	if empty {
		return nil
	}

	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		c.logger.Warn("Semantic cache lookup skipped", "error", err)
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var best *Entry
	bestScore := float32(-1)
	for i := range c.entries {
		e := &c.entries[i]
		if scope != "" && e.Scope != scope {
			continue
		}
		score := llm.Cosine(vec, e.Embedding)
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	if best == nil || bestScore < c.threshold {
		return nil
	}
	c.logger.Info("Semantic cache hit", "score", bestScore, "cached_query", best.Query)
	return &Hit{Output: best.Output, ToolCalls: best.ToolCalls, Score: bestScore}
}

// Add records a finished turn. Failed outputs and confirmation requests are
// never cached; both are transient. Duplicate query texts are kept once.
func (c *Cache) Add(ctx context.Context, query, output string, calls []tools.Call, scope string) {
	lower := strings.ToLower(output)
	if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
		return
	}
	if strings.Contains(lower, "confirmation") {
		return
	}

	c.mu.RLock()
	for i := range c.entries {
		if c.entries[i].Query == query {
			c.mu.RUnlock()
			return
		}
	}
	c.mu.RUnlock()

	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		c.logger.Warn("Semantic cache insert skipped", "error", err)
		return
	}

	c.mu.Lock()
	c.entries = append(c.entries, Entry{
		Query:     query,
		Embedding: vec,
		Output:    output,
		ToolCalls: calls,
		Scope:     scope,
		Timestamp: time.Now(),
	})
	if len(c.entries) > maxEntries {
		c.entries = c.entries[1:]
	}
	snapshot := make([]Entry, len(c.entries))
	copy(snapshot, c.entries)
	c.mu.Unlock()

	if err := c.save(snapshot); err != nil {
		c.logger.Warn("Could not persist semantic cache", "error", err)
	}
}

// save writes the snapshot atomically under a file lock.
func (c *Cache) save(entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	lock := flock.New(c.path + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
