package router

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/dispatch/pkg/llm"
	"github.com/codeready-toolchain/dispatch/pkg/pulse"
	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// axisEmbedder maps known phrases onto fixed axes so similarity is exact.
type axisEmbedder struct {
	axes  map[string]int
	calls int
}

func (e *axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	vec := make([]float32, 4)
	if i, ok := e.axes[text]; ok {
		vec[i] = 1
	} else {
		// Unknown texts land between axes 0 and 1.
		vec[0], vec[1] = 0.707, 0.707
	}
	return llm.Normalize(vec), nil
}

func (e *axisEmbedder) Dim() int { return 4 }

func routerRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	names := []string{
		"docker_list_containers", "docker_stop_container", "docker_get_logs",
		"local_k8s_list_pods", "local_k8s_describe_pod", "local_k8s_get_logs",
		"remote_k8s_list_pods", "remote_k8s_describe_pod", "remote_k8s_top_nodes",
	}
	var ds []*tools.Descriptor
	for _, n := range names {
		ds = append(ds, &tools.Descriptor{Name: n, Description: "tool " + n})
	}
	r, err := tools.NewRegistry(ds)
	require.NoError(t, err)
	return r
}

func writeIntents(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "intents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const intentsYAML = `
templates:
  - name: docker_ps
    pattern: "(?:list|show) (?:all )?(?:my )?containers"
    tool: docker_list_containers
    args: {}
  - name: local_pod_logs
    pattern: "local logs (?:for )?(?P<pod>[\\w-]+)"
    tool: local_k8s_get_logs
    args:
      pod_name: "{pod}"
      namespace: default
semantic:
  - text: "what is running on the boxes"
    tool: docker_list_containers
    args: {}
`

func newTestRouter(t *testing.T, emb llm.Embedder) *Router {
	t.Helper()
	dir := t.TempDir()
	path := writeIntents(t, dir, intentsYAML)
	r := New(path, filepath.Join(dir, "intent_embeddings.json"), emb, routerRegistry(t))
	require.NoError(t, r.Load(context.Background()))
	return r
}

func TestRoute_ManualTemplate(t *testing.T) {
	r := newTestRouter(t, &axisEmbedder{})

	calls := r.Route(context.Background(), "show all my containers")
	require.Len(t, calls, 1)
	assert.Equal(t, "docker_list_containers", calls[0].Name)
}

func TestRoute_TemplateInterpolation(t *testing.T) {
	r := newTestRouter(t, &axisEmbedder{})

	calls := r.Route(context.Background(), "local logs for web-app-42")
	require.Len(t, calls, 1)
	assert.Equal(t, "local_k8s_get_logs", calls[0].Name)
	assert.Equal(t, "web-app-42", calls[0].Arguments["pod_name"])
	assert.Equal(t, "default", calls[0].Arguments["namespace"])
}

func TestRoute_AutoTemplates(t *testing.T) {
	r := newTestRouter(t, &axisEmbedder{})

	// Inferred from remote_k8s_describe_pod with scope prefix.
	calls := r.Route(context.Background(), "remote describe pod payments-api")
	require.Len(t, calls, 1)
	assert.Equal(t, "remote_k8s_describe_pod", calls[0].Name)
	assert.Equal(t, "payments-api", calls[0].Arguments["pod_name"])

	// Inferred from remote_k8s_top_nodes.
	calls = r.Route(context.Background(), "remote top nodes")
	require.Len(t, calls, 1)
	assert.Equal(t, "remote_k8s_top_nodes", calls[0].Name)
}

func TestRoute_ManualSuppressesAutoForSameTool(t *testing.T) {
	r := newTestRouter(t, &axisEmbedder{})

	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := 0
	for _, tpl := range r.templates {
		if tpl.Tool == "docker_list_containers" {
			seen++
		}
	}
	assert.Equal(t, 1, seen, "manual template must suppress the inferred one")
}

func TestRoute_SemanticTier(t *testing.T) {
	emb := &axisEmbedder{axes: map[string]int{
		"what is running on the boxes": 2,
		"whats running on the boxes":   2, // identical axis: similarity 1.0
		"delete the production db":     3, // orthogonal: similarity 0.0
	}}
	r := newTestRouter(t, emb)

	calls := r.Route(context.Background(), "whats running on the boxes")
	require.Len(t, calls, 1)
	assert.Equal(t, "docker_list_containers", calls[0].Name)

	assert.Nil(t, r.Route(context.Background(), "delete the production db"),
		"below-threshold similarity must fall through")
}

func TestRoute_InputCache(t *testing.T) {
	emb := &axisEmbedder{axes: map[string]int{
		"what is running on the boxes": 2,
		"whats running on the boxes":   2,
	}}
	r := newTestRouter(t, emb)

	first := r.Route(context.Background(), "whats running on the boxes")
	embedsAfterFirst := emb.calls
	second := r.Route(context.Background(), "whats running on the boxes")

	assert.Equal(t, first, second)
	assert.Equal(t, embedsAfterFirst, emb.calls, "cached route must not re-embed")
}

func TestLoad_PersistsIntentEmbeddings(t *testing.T) {
	dir := t.TempDir()
	path := writeIntents(t, dir, intentsYAML)
	cachePath := filepath.Join(dir, "intent_embeddings.json")

	emb := &axisEmbedder{}
	r := New(path, cachePath, emb, routerRegistry(t))
	require.NoError(t, r.Load(context.Background()))
	after := emb.calls
	assert.FileExists(t, cachePath)

	// Reload reads embeddings from disk instead of regenerating.
	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, after, emb.calls)
}

func TestLoad_MissingIntentsFileStillInfersTemplates(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "absent.yaml"), filepath.Join(dir, "cache.json"),
		&axisEmbedder{}, routerRegistry(t))
	require.NoError(t, r.Load(context.Background()))

	calls := r.Route(context.Background(), "remote list pods")
	require.Len(t, calls, 1)
	assert.Equal(t, "remote_k8s_list_pods", calls[0].Name)
}

func TestLoad_FreshInstallRoutesDockerQueries(t *testing.T) {
	// No intents file on disk: the inferred templates alone must resolve the
	// everyday docker queries without touching the LLM.
	dir := t.TempDir()
	r := New(filepath.Join(dir, "absent.yaml"), filepath.Join(dir, "cache.json"),
		&axisEmbedder{}, routerRegistry(t))
	require.NoError(t, r.Load(context.Background()))

	calls := r.Route(context.Background(), "list containers")
	require.Len(t, calls, 1)
	assert.Equal(t, "docker_list_containers", calls[0].Name)

	calls = r.Route(context.Background(), "stop container 123abc456")
	require.Len(t, calls, 1)
	assert.Equal(t, "docker_stop_container", calls[0].Name)
	assert.Equal(t, "123abc456", calls[0].Arguments["container_id"])
}

// fixedStatus implements StatusReader with canned statuses.
type fixedStatus map[string]pulse.Status

func (f fixedStatus) Status(backendID string) pulse.BackendStatus {
	return pulse.BackendStatus{Backend: backendID, Status: f[backendID]}
}

func TestSelect_Keywords(t *testing.T) {
	s := NewBackendSelector(nil)

	assert.Equal(t, []string{tools.BackendDocker}, s.Select("list docker containers", "", nil))
	assert.Equal(t, []string{tools.BackendK8sRemote}, s.Select("pods in production", "", nil))
	assert.Equal(t, []string{tools.BackendChat}, s.Select("hello", "", nil))
}

func TestSelect_AmbiguousK8sPicksBothClusters(t *testing.T) {
	s := NewBackendSelector(nil)
	got := s.Select("list pods", "", nil)
	assert.ElementsMatch(t, []string{tools.BackendK8sLocal, tools.BackendK8sRemote}, got)
}

func TestSelect_AnaphoraStickiness(t *testing.T) {
	s := NewBackendSelector(nil)
	got := s.Select("describe it", tools.BackendK8sRemote, nil)
	assert.Contains(t, got, tools.BackendK8sRemote)
}

func TestSelect_ForcedOverridesEverything(t *testing.T) {
	s := NewBackendSelector(fixedStatus{tools.BackendK8sRemote: pulse.StatusDisconnected})
	got := s.Select("list docker containers", "", []string{tools.BackendK8sLocal})
	assert.Equal(t, []string{tools.BackendK8sLocal}, got)
}

func TestSelect_PulseGatesDisconnectedRemote(t *testing.T) {
	s := NewBackendSelector(fixedStatus{tools.BackendK8sRemote: pulse.StatusDisconnected})

	got := s.Select("list pods", "", nil)
	assert.NotContains(t, got, tools.BackendK8sRemote)
	assert.Contains(t, got, tools.BackendK8sLocal)

	// Explicit mention keeps the remote in scope so its outage can surface.
	got = s.Select("list pods on remote", "", nil)
	assert.Contains(t, got, tools.BackendK8sRemote)
}
