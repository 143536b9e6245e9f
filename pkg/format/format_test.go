package format

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

func TestMarkdownTable(t *testing.T) {
	got := MarkdownTable([]string{"A", "B"}, [][]string{{"1", "2"}, {"3", "4"}})
	assert.Equal(t, "| A | B |\n| --- | --- |\n| 1 | 2 |\n| 3 | 4 |", got)

	assert.Empty(t, MarkdownTable(nil, [][]string{{"1"}}))
	assert.Empty(t, MarkdownTable([]string{"A"}, nil))
}

func TestFormat_DockerContainerList(t *testing.T) {
	r := NewRegistry(nil)
	res := &tools.Result{Success: true, Payload: map[string]any{
		"count": float64(2),
		"containers": []any{
			map[string]any{"name": "web", "id": "abcdef1234567890", "image": "nginx:latest", "status": "Up 2 hours"},
			map[string]any{"name": "db", "id": "1234", "image": "postgres:16", "status": "Exited (0)"},
		},
	}}
	out := r.Format(context.Background(), "docker_list_containers", res)

	assert.Contains(t, out, "Found 2 container(s)")
	assert.Contains(t, out, "🟢 | web | abcdef123456 | nginx:latest")
	assert.Contains(t, out, "🔴 | db")
}

func TestFormat_DockerEmptyList(t *testing.T) {
	r := NewRegistry(nil)
	out := r.Format(context.Background(), "docker_list_containers",
		&tools.Result{Success: true, Payload: map[string]any{"containers": []any{}}})
	assert.Equal(t, "✅ Success! No containers found.", out)
}

func TestFormat_K8sPodList(t *testing.T) {
	r := NewRegistry(nil)
	res := &tools.Result{Success: true, Payload: map[string]any{
		"namespace": "prod",
		"pods": []any{
			map[string]any{"name": "api-1", "phase": "Running", "restarts": float64(0), "age": "2d", "node": "n1"},
			map[string]any{"name": "api-2", "phase": "Pending", "restarts": float64(3), "age": "1h", "node": "n2"},
			map[string]any{"name": "api-3", "phase": "Running", "restarts": float64(1), "age": "2d", "node": "n1"},
		},
	}}
	out := r.Format(context.Background(), "remote_k8s_list_pods", res)

	assert.Contains(t, out, "Kubernetes Pods in 'prod' (REMOTE)")
	assert.Contains(t, out, "Summary: Pending: 1, Running: 2")
	assert.Contains(t, out, "🟢 Running | api-1 | 0 | 2d | n1")
	assert.Contains(t, out, "🟡 Pending | api-2")
}

func TestFormat_K8sDescribe(t *testing.T) {
	r := NewRegistry(nil)
	res := &tools.Result{Success: true, Payload: map[string]any{
		"data": "Name: api-1\nNamespace: prod\nStatus: Running",
	}}
	out := r.Format(context.Background(), "local_k8s_describe_pod", res)
	assert.Contains(t, out, "📋 **Detailed Description**")
	assert.Contains(t, out, "```yaml\nName: api-1")
}

func TestFormat_JSONFallback(t *testing.T) {
	r := NewRegistry(nil)
	res := &tools.Result{Success: true, Payload: map[string]any{"nodes": []any{"n1"}}}
	out := r.Format(context.Background(), "remote_k8s_top_nodes", res)
	assert.Contains(t, out, "✅ K8s Tool 'remote_k8s_top_nodes' executed successfully.")

	out = r.Format(context.Background(), "something_custom", res)
	assert.Contains(t, out, "```json")
	assert.Contains(t, out, `"nodes"`)
}

type cannedExplainer struct{ out string }

func (c cannedExplainer) ExplainError(context.Context, string, string, json.RawMessage) (string, error) {
	return c.out, nil
}

func TestFormat_FailureWithDiagnostic(t *testing.T) {
	r := NewRegistry(cannedExplainer{out: "1. **What Happened**: the namespace is missing."})
	res := &tools.Result{
		Success:  false,
		Error:    "namespaces \"ghost\" not found",
		RawError: json.RawMessage(`{"code": 404, "reason": "NotFound"}`),
	}
	out := r.Format(context.Background(), "remote_k8s_list_pods", res)

	assert.Contains(t, out, "❌ **Operation Failed**: namespaces \"ghost\" not found")
	assert.Contains(t, out, "🐛 **Raw API Error**")
	assert.Contains(t, out, `"reason": "NotFound"`)
	assert.Contains(t, out, "🤖 **AI Diagnostic**")
	assert.Contains(t, out, "What Happened")
}

func TestFormat_FailureWithoutRawError(t *testing.T) {
	r := NewRegistry(cannedExplainer{out: "irrelevant"})
	out := r.Format(context.Background(), "docker_prune",
		&tools.Result{Success: false, Error: "connection refused"})
	assert.Equal(t, "❌ Operation failed: connection refused", out)

	require.NotContains(t, out, "AI Diagnostic", "no diagnosis without a raw error payload")
}
