package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/dispatch/pkg/llm"
	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// axisEmbedder gives known texts exact axes; everything else sits between
// axes 0 and 1, close to both but above the threshold for neither.
type axisEmbedder struct {
	axes map[string]int
}

func (e *axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 4)
	if i, ok := e.axes[text]; ok {
		vec[i] = 1
	} else {
		vec[0], vec[1] = 0.707, 0.707
	}
	return llm.Normalize(vec), nil
}

func (e *axisEmbedder) Dim() int { return 4 }

func testCache(t *testing.T, emb llm.Embedder) *Cache {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "semantic_cache.json"), DefaultThreshold, emb)
}

func TestCache_HitAndMiss(t *testing.T) {
	emb := &axisEmbedder{axes: map[string]int{
		"list all pods":  2,
		"show every pod": 2,
		"prune docker":   3,
	}}
	c := testCache(t, emb)
	calls := []tools.Call{{Name: "remote_k8s_list_pods", Arguments: map[string]any{}}}
	c.Add(context.Background(), "list all pods", "3 pods running", calls, "")

	hit := c.Lookup(context.Background(), "show every pod", "")
	require.NotNil(t, hit)
	assert.Equal(t, "3 pods running", hit.Output)
	assert.Equal(t, calls, hit.ToolCalls)
	assert.GreaterOrEqual(t, hit.Score, float32(DefaultThreshold))

	assert.Nil(t, c.Lookup(context.Background(), "prune docker", ""))
}

func TestCache_NeverCachesFailuresOrConfirmations(t *testing.T) {
	c := testCache(t, &axisEmbedder{})

	c.Add(context.Background(), "q1", "❌ Error: connection refused", nil, "")
	c.Add(context.Background(), "q2", "The deployment failed to start", nil, "")
	c.Add(context.Background(), "q3", "🛑 Confirmation required before deleting", nil, "")
	assert.Zero(t, c.Len())
}

func TestCache_ScopeIsolation(t *testing.T) {
	emb := &axisEmbedder{axes: map[string]int{"list workloads": 2}}
	c := testCache(t, emb)
	c.Add(context.Background(), "list workloads", "2 containers", nil, "docker")

	assert.Nil(t, c.Lookup(context.Background(), "list workloads", "k8s_remote"),
		"a docker answer must not satisfy a kubernetes-scoped query")
	require.NotNil(t, c.Lookup(context.Background(), "list workloads", "docker"))
}

func TestCache_DeduplicatesByQueryText(t *testing.T) {
	emb := &axisEmbedder{axes: map[string]int{"list all pods": 2}}
	c := testCache(t, emb)
	c.Add(context.Background(), "list all pods", "3 pods", nil, "")
	c.Add(context.Background(), "list all pods", "4 pods", nil, "")

	require.Equal(t, 1, c.Len())
	hit := c.Lookup(context.Background(), "list all pods", "")
	require.NotNil(t, hit)
	assert.Equal(t, "3 pods", hit.Output, "first insert wins")
}

func TestCache_EvictsOldestBeyondCapacity(t *testing.T) {
	emb := &axisEmbedder{axes: map[string]int{}}
	for i := 0; i <= maxEntries; i++ {
		emb.axes[fmt.Sprintf("q%d", i)] = i % 4
	}
	c := testCache(t, emb)
	for i := 0; i <= maxEntries; i++ {
		c.Add(context.Background(), fmt.Sprintf("q%d", i), "ok", nil, "")
	}
	assert.Equal(t, maxEntries, c.Len())

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Equal(t, "q1", c.entries[0].Query, "oldest entry evicted first")
}

func TestCache_PersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "semantic_cache.json")
	emb := &axisEmbedder{axes: map[string]int{"list all pods": 2}}

	c := New(path, DefaultThreshold, emb)
	c.Add(context.Background(), "list all pods", "3 pods", nil, "")

	reloaded := New(path, DefaultThreshold, emb)
	require.Equal(t, 1, reloaded.Len())
	hit := reloaded.Lookup(context.Background(), "list all pods", "")
	require.NotNil(t, hit)
	assert.Equal(t, "3 pods", hit.Output)
}
