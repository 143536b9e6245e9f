package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder turns a text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// OpenAIEmbedder is an Embedder backed by an OpenAI-compatible embeddings
// endpoint. Vectors are unit-normalized so inner product equals cosine
// similarity everywhere downstream.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

// NewEmbedder connects to host (an Ollama base URL without the /v1 suffix).
func NewEmbedder(host, model string, dim int) *OpenAIEmbedder {
	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = strings.TrimRight(host, "/") + "/v1"
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dim:    dim,
	}
}

// Dim returns the configured vector dimension.
func (e *OpenAIEmbedder) Dim() int { return e.dim }

// Embed returns the unit-normalized embedding of text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding with model %q failed: %w", e.model, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding with model %q returned no data", e.model)
	}
	vec := resp.Data[0].Embedding
	if e.dim > 0 && len(vec) != e.dim {
		return nil, fmt.Errorf("embedding dimension mismatch: want %d, got %d", e.dim, len(vec))
	}
	return Normalize(vec), nil
}

// memoCapacity bounds the embedding memo. On overflow the whole map is
// cleared rather than evicted entry by entry; recomputing a few embeddings is
// cheaper than tracking recency.
const memoCapacity = 256

// CachedEmbedder memoizes embeddings of repeated texts (tool descriptions,
// intent examples, hot queries).
type CachedEmbedder struct {
	inner Embedder

	mu   sync.Mutex
	memo map[string][]float32

	logger *slog.Logger
}

// NewCachedEmbedder wraps inner with a bounded memo.
func NewCachedEmbedder(inner Embedder) *CachedEmbedder {
	return &CachedEmbedder{
		inner:  inner,
		memo:   make(map[string][]float32, memoCapacity),
		logger: slog.Default(),
	}
}

// Dim returns the inner embedder's dimension.
func (c *CachedEmbedder) Dim() int { return c.inner.Dim() }

// Embed returns the memoized vector when available, otherwise delegates.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	if vec, ok := c.memo[text]; ok {
		c.mu.Unlock()
		return vec, nil
	}
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.memo) >= memoCapacity {
		c.logger.Debug("Embedding memo full, clearing", "entries", len(c.memo))
		c.memo = make(map[string][]float32, memoCapacity)
	}
	c.memo[text] = vec
	c.mu.Unlock()
	return vec, nil
}
