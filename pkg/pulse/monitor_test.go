package pulse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/dispatch/pkg/config"
	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// scriptedInvoker fails or succeeds per backend, switchable at runtime.
type scriptedInvoker struct {
	mu      sync.Mutex
	failing map[string]bool
	payload map[string]map[string]any
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		failing: map[string]bool{},
		payload: map[string]map[string]any{},
	}
}

func (s *scriptedInvoker) setFailing(backendID string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[backendID] = fail
}

func (s *scriptedInvoker) Call(_ context.Context, toolName string, _ map[string]any) *tools.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	backendID := tools.Backend(toolName)
	if s.failing[backendID] {
		return tools.Errorf("probe to %s failed", backendID)
	}
	payload := s.payload[backendID]
	if payload == nil {
		payload = map[string]any{"success": true}
	}
	return &tools.Result{Success: true, Payload: payload}
}

func testMonitor(inv tools.Invoker) *Monitor {
	return NewMonitor(inv, config.PulseConfig{
		Interval:     10 * time.Millisecond,
		ProbeTimeout: time.Second,
	})
}

func waitForStatus(t *testing.T, m *Monitor, backendID string, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Status(backendID).Status == want
	}, 2*time.Second, 5*time.Millisecond, "backend %s never reached %s", backendID, want)
}

func TestMonitor_HealthyOnSuccess(t *testing.T) {
	inv := newScriptedInvoker()
	m := testMonitor(inv)
	m.Start(context.Background())
	defer m.Stop()

	for _, id := range []string{tools.BackendDocker, tools.BackendK8sLocal, tools.BackendK8sRemote} {
		waitForStatus(t, m, id, StatusHealthy)
		assert.True(t, m.Status(id).Reachable())
	}
}

func TestMonitor_DegradedThenDisconnected(t *testing.T) {
	inv := newScriptedInvoker()
	inv.setFailing(tools.BackendK8sRemote, true)

	m := testMonitor(inv)
	m.Start(context.Background())
	defer m.Stop()

	// First failure degrades, second consecutive failure disconnects.
	waitForStatus(t, m, tools.BackendK8sRemote, StatusDisconnected)
	st := m.Status(tools.BackendK8sRemote)
	assert.GreaterOrEqual(t, st.ConsecutiveFails, 2)
	assert.NotEmpty(t, st.LastError)
	assert.False(t, st.Reachable())

	// Other backends stay healthy.
	waitForStatus(t, m, tools.BackendDocker, StatusHealthy)
}

func TestMonitor_RecoversOnSuccess(t *testing.T) {
	inv := newScriptedInvoker()
	inv.setFailing(tools.BackendDocker, true)

	m := testMonitor(inv)
	m.Start(context.Background())
	defer m.Stop()

	waitForStatus(t, m, tools.BackendDocker, StatusDisconnected)

	inv.setFailing(tools.BackendDocker, false)
	waitForStatus(t, m, tools.BackendDocker, StatusHealthy)
	assert.Zero(t, m.Status(tools.BackendDocker).ConsecutiveFails)
}

func TestMonitor_UnknownBackend(t *testing.T) {
	m := testMonitor(newScriptedInvoker())
	assert.Equal(t, StatusUnknown, m.Status("bogus").Status)
}

func TestMonitor_IndexesProbedPods(t *testing.T) {
	inv := newScriptedInvoker()
	inv.payload[tools.BackendK8sRemote] = map[string]any{
		"success": true,
		"pods": []any{
			map[string]any{"name": "web-app", "namespace": "prod"},
			map[string]any{"name": "web-app", "namespace": "staging"},
		},
	}

	m := testMonitor(inv)
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool {
		return len(m.Lookup("pods", "web-app")) == 2
	}, 2*time.Second, 5*time.Millisecond)

	locs := m.Lookup("pod", "web-app") // singular kind normalizes
	require.Len(t, locs, 2)
	assert.Equal(t, tools.BackendK8sRemote, locs[0].Backend)
}

func TestResourceIndex_UpdateReplacesBackendContribution(t *testing.T) {
	x := NewResourceIndex()
	x.Update(tools.BackendK8sLocal, map[string]any{
		"pods": []any{map[string]any{"name": "api", "namespace": "default"}},
	})
	x.Update(tools.BackendK8sRemote, map[string]any{
		"pods": []any{map[string]any{"name": "api", "namespace": "prod"}},
	})
	require.Len(t, x.Lookup("pods", "api"), 2)

	// The pod disappeared from the local cluster.
	x.Update(tools.BackendK8sLocal, map[string]any{"pods": []any{}})
	locs := x.Lookup("pods", "api")
	require.Len(t, locs, 1)
	assert.Equal(t, tools.BackendK8sRemote, locs[0].Backend)

	assert.Nil(t, x.Lookup("pods", "ghost"))
}
