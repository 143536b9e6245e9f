package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/dispatch/pkg/llm"
	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// semanticThreshold is the minimum cosine similarity for an intent match.
// Below it the query falls through to the LLM agent.
const semanticThreshold = 0.82

// inputCacheCapacity bounds the exact-match tier.
const inputCacheCapacity = 100

// intentsFile is the on-disk shape of the intents configuration.
type intentsFile struct {
	Templates []*Template      `yaml:"templates"`
	Semantic  []semanticIntent `yaml:"semantic"`
}

// semanticIntent is one example utterance bound to a tool call.
type semanticIntent struct {
	Text string         `yaml:"text"`
	Tool string         `yaml:"tool"`
	Args map[string]any `yaml:"args"`

	embedding []float32
}

// cachedRoute records a prior decision for the exact-match tier. Misses are
// cached too so repeated unroutable queries skip the cascade.
type cachedRoute struct {
	calls []tools.Call
}

// Router is the layered pre-LLM router. Tiers in order: exact input cache,
// regex templates, semantic intents.
type Router struct {
	path      string
	cachePath string
	embedder  llm.Embedder
	registry  *tools.Registry
	logger    *slog.Logger

	mu        sync.RWMutex
	templates []*Template
	intents   []semanticIntent

	cacheMu    sync.Mutex
	inputCache map[string]cachedRoute
}

// New builds a router reading intents from path and persisting intent
// embeddings at cachePath. Call Load before routing.
func New(path, cachePath string, embedder llm.Embedder, registry *tools.Registry) *Router {
	return &Router{
		path:       path,
		cachePath:  cachePath,
		embedder:   embedder,
		registry:   registry,
		logger:     slog.Default(),
		inputCache: make(map[string]cachedRoute, inputCacheCapacity),
	}
}

// Load reads the intents file, appends auto-inferred templates for tools
// that have no manual one, and ensures every semantic intent has an
// embedding (generating and persisting missing ones). A missing intents
// file is not an error; auto templates still load.
func (r *Router) Load(ctx context.Context) error {
	var file intentsFile
	raw, err := os.ReadFile(r.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return fmt.Errorf("parse intents file %s: %w", r.path, err)
		}
	case os.IsNotExist(err):
		r.logger.Warn("Intents file not found, using auto templates only", "path", r.path)
	default:
		return fmt.Errorf("read intents file %s: %w", r.path, err)
	}

	templates := file.Templates
	manualTools := map[string]bool{}
	for _, t := range templates {
		if err := t.compile(); err != nil {
			return err
		}
		manualTools[t.Tool] = true
	}
	// Manual templates take priority over inferred ones for the same tool.
	for _, t := range InferTemplates(r.registry.Names()) {
		if manualTools[t.Tool] {
			continue
		}
		if err := t.compile(); err != nil {
			return err
		}
		templates = append(templates, t)
	}

	intents, err := r.embedIntents(ctx, file.Semantic)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.templates = templates
	r.intents = intents
	r.mu.Unlock()

	r.cacheMu.Lock()
	r.inputCache = make(map[string]cachedRoute, inputCacheCapacity)
	r.cacheMu.Unlock()

	r.logger.Info("Router loaded",
		"templates", len(templates), "semantic_intents", len(intents))
	return nil
}

// embedIntents fills in embeddings from the disk cache, generating and
// persisting the missing ones.
func (r *Router) embedIntents(ctx context.Context, raw []semanticIntent) ([]semanticIntent, error) {
	cache := map[string][]float32{}
	if data, err := os.ReadFile(r.cachePath); err == nil {
		if err := json.Unmarshal(data, &cache); err != nil {
			r.logger.Warn("Discarding unreadable intent embedding cache", "path", r.cachePath)
			cache = map[string][]float32{}
		}
	}

	dirty := false
	out := make([]semanticIntent, 0, len(raw))
	for _, intent := range raw {
		if intent.Text == "" || intent.Tool == "" {
			continue
		}
		vec, ok := cache[intent.Text]
		if !ok {
			var err error
			vec, err = r.embedder.Embed(ctx, intent.Text)
			if err != nil {
				return nil, fmt.Errorf("embed intent %q: %w", intent.Text, err)
			}
			cache[intent.Text] = vec
			dirty = true
		}
		intent.embedding = vec
		out = append(out, intent)
	}

	if dirty {
		if err := r.saveEmbeddingCache(cache); err != nil {
			r.logger.Warn("Could not persist intent embedding cache", "error", err)
		}
	}
	return out, nil
}

func (r *Router) saveEmbeddingCache(cache map[string][]float32) error {
	if err := os.MkdirAll(filepath.Dir(r.cachePath), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(cache)
	if err != nil {
		return err
	}
	tmp := r.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.cachePath)
}

// Route resolves a query to tool calls without involving the LLM. Returns
// nil when no tier matched; the caller then falls through to the agent.
func (r *Router) Route(ctx context.Context, query string) []tools.Call {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	r.cacheMu.Lock()
	if hit, ok := r.inputCache[query]; ok {
		r.cacheMu.Unlock()
		return hit.calls
	}
	r.cacheMu.Unlock()

	calls := r.routeUncached(ctx, query)

	r.cacheMu.Lock()
	if len(r.inputCache) >= inputCacheCapacity {
		r.inputCache = make(map[string]cachedRoute, inputCacheCapacity)
	}
	r.inputCache[query] = cachedRoute{calls: calls}
	r.cacheMu.Unlock()
	return calls
}

func (r *Router) routeUncached(ctx context.Context, query string) []tools.Call {
	r.mu.RLock()
	templates := r.templates
	intents := r.intents
	r.mu.RUnlock()

	for _, t := range templates {
		if call := t.match(query); call != nil {
			r.logger.Info("Regex template matched",
				"template", t.Name, "tool", call.Name)
			return []tools.Call{*call}
		}
	}

	if len(intents) == 0 {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("Semantic tier unavailable", "error", err)
		return nil
	}
	var best *semanticIntent
	bestScore := float32(-1)
	for i := range intents {
		score := llm.Cosine(vec, intents[i].embedding)
		if score > bestScore {
			bestScore = score
			best = &intents[i]
		}
	}
	if best != nil && bestScore > semanticThreshold {
		r.logger.Info("Semantic intent matched",
			"intent", best.Text, "tool", best.Tool, "score", bestScore)
		args := best.Args
		if args == nil {
			args = map[string]any{}
		}
		return []tools.Call{{Name: best.Tool, Arguments: args}}
	}
	return nil
}

// WatchReload reloads the router whenever the intents file changes on disk.
// Blocks until the context ends; run it on its own goroutine.
func (r *Router) WatchReload(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create intents watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors replace files rather than write in place.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watch intents directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(r.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			r.logger.Info("Intents file changed, reloading", "path", r.path)
			if err := r.Load(ctx); err != nil {
				r.logger.Error("Intents reload failed, keeping previous state", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("Intents watcher error", "error", err)
		}
	}
}
