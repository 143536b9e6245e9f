package rag

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/dispatch/pkg/llm"
	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

const testDim = 8

// fakeEmbedder produces deterministic vectors. Texts sharing a seed word
// land close together so similarity search is testable.
type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, assert.AnError
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(seedWord(text)))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	vec := make([]float32, testDim)
	for i := range vec {
		vec[i] = rng.Float32()
	}
	return llm.Normalize(vec), nil
}

func (f *fakeEmbedder) Dim() int { return testDim }

// seedWord picks the dominant word so "docker ..." texts cluster.
func seedWord(text string) string {
	for _, w := range []string{"docker", "pod", "node", "container"} {
		if containsFold(text, w) {
			return w
		}
	}
	return text
}

func containsFold(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := 0; j < len(needle); j++ {
			c := haystack[i+j] | 0x20
			if c != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestIndex_AddSearchRemove(t *testing.T) {
	x := NewIndex(2)
	require.NoError(t, x.Add("a", "first", []float32{1, 0}))
	require.NoError(t, x.Add("b", "second", []float32{0, 1}))
	require.NoError(t, x.Add("c", "third", []float32{0.7, 0.7}))
	require.NoError(t, x.Verify())

	matches, err := x.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Name)
	assert.Equal(t, "c", matches[1].Name)

	assert.Error(t, x.Add("a", "dup", []float32{1, 1}))
	assert.Error(t, x.Add("d", "bad dim", []float32{1}))

	require.True(t, x.Remove("b"))
	require.NoError(t, x.Verify(), "bijection must survive slot compaction")
	assert.Equal(t, 2, x.Count())
	assert.False(t, x.Remove("b"))

	matches, err = x.Search([]float32{0, 1}, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "c", matches[0].Name)
}

func TestIndex_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	x := NewIndex(3)
	require.NoError(t, x.Add("alpha", "alpha tool", llm.Normalize([]float32{1, 2, 3})))
	require.NoError(t, x.Add("beta", "beta tool", llm.Normalize([]float32{3, 2, 1})))
	require.NoError(t, x.Save(dir))

	loaded, err := Load(dir, 3)
	require.NoError(t, err)
	require.NoError(t, loaded.Verify())
	assert.Equal(t, 2, loaded.Count())
	assert.Equal(t, x.Names(), loaded.Names())

	got, err := loaded.Search(llm.Normalize([]float32{1, 2, 3}), 1)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got[0].Name)

	_, err = Load(dir, 5)
	assert.Error(t, err, "dimension mismatch must fail loudly")
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load(t.TempDir()+"/nope", 3)
	assert.Error(t, err)
}

func testRegistry(t *testing.T, names ...string) *tools.Registry {
	t.Helper()
	var ds []*tools.Descriptor
	for _, n := range names {
		ds = append(ds, &tools.Descriptor{Name: n, Description: "tool " + n})
	}
	r, err := tools.NewRegistry(ds)
	require.NoError(t, err)
	return r
}

func TestRetriever_SyncAndRetrieve(t *testing.T) {
	reg := testRegistry(t, "docker_list_containers", "local_k8s_list_pods", "remote_k8s_list_pods")
	r := NewRetriever(reg, &fakeEmbedder{}, t.TempDir())
	require.NoError(t, r.Sync(context.Background()))

	got := r.Retrieve(context.Background(), "show pods please", 2, nil)
	require.Len(t, got, 2)

	// Backend filter keeps only remote tools.
	got = r.Retrieve(context.Background(), "show pods", 5, []string{tools.BackendK8sRemote})
	require.Len(t, got, 1)
	assert.Equal(t, "remote_k8s_list_pods", got[0].Name)
}

func TestRetriever_SyncIsIdempotentAndPersists(t *testing.T) {
	dir := t.TempDir()
	reg := testRegistry(t, "docker_list_containers", "local_k8s_list_pods")
	r := NewRetriever(reg, &fakeEmbedder{}, dir)
	require.NoError(t, r.Sync(context.Background()))
	require.NoError(t, r.Sync(context.Background()))
	assert.Equal(t, 2, r.idx().Count())

	// A fresh retriever picks the index up from disk without re-embedding.
	r2 := NewRetriever(reg, &fakeEmbedder{fail: true}, dir)
	assert.Equal(t, 2, r2.idx().Count())
}

func TestRetriever_RegistryChanges(t *testing.T) {
	reg := testRegistry(t, "docker_list_containers")
	r := NewRetriever(reg, &fakeEmbedder{}, t.TempDir())
	require.NoError(t, r.Sync(context.Background()))

	require.NoError(t, reg.Add(&tools.Descriptor{Name: "docker_prune", Description: "prune"}))
	require.NoError(t, r.apply(context.Background(), tools.ChangeEvent{Kind: tools.ToolAdded, Name: "docker_prune"}))
	assert.True(t, r.idx().Has("docker_prune"))

	reg.Remove("docker_prune")
	require.NoError(t, r.apply(context.Background(), tools.ChangeEvent{Kind: tools.ToolRemoved, Name: "docker_prune"}))
	assert.False(t, r.idx().Has("docker_prune"))
	require.NoError(t, r.idx().Verify())
}

func TestRetriever_RetrieveDuringRebuild(t *testing.T) {
	reg := testRegistry(t, "docker_list_containers", "local_k8s_list_pods", "remote_k8s_list_pods")
	r := NewRetriever(reg, &fakeEmbedder{}, t.TempDir())
	require.NoError(t, r.Sync(context.Background()))

	// Rebuilds swap the index pointer while request goroutines search it;
	// both sides must go through the guarded accessor.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Retrieve(context.Background(), "show pods", 2, nil)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 20; j++ {
			require.NoError(t, r.rebuild(context.Background()))
		}
	}()
	wg.Wait()

	got := r.Retrieve(context.Background(), "show pods", 2, nil)
	assert.Len(t, got, 2)
	require.NoError(t, r.idx().Verify())
}

func TestRetriever_KeywordFallback(t *testing.T) {
	reg := testRegistry(t, "docker_list_containers", "local_k8s_list_pods")
	dir := t.TempDir()
	r := NewRetriever(reg, &fakeEmbedder{}, dir)
	require.NoError(t, r.Sync(context.Background()))

	// Embedder goes down after sync; retrieval degrades to keyword overlap.
	r.embedder = &fakeEmbedder{fail: true}
	got := r.Retrieve(context.Background(), "docker containers", 1, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "docker_list_containers", got[0].Name)
}
