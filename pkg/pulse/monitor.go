// Package pulse runs the background health monitor. One goroutine per
// backend probes a cheap read-only tool on a fixed interval and publishes a
// status snapshot that routing and disambiguation read without blocking.
package pulse

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/dispatch/pkg/config"
	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// Status of a single backend.
type Status string

// Health states. A backend degrades on its first failed probe and is
// considered disconnected after a second consecutive failure; any success
// restores it to healthy.
const (
	StatusUnknown      Status = "unknown"
	StatusHealthy      Status = "healthy"
	StatusDegraded     Status = "degraded"
	StatusDisconnected Status = "disconnected"
)

// BackendStatus is one entry of the published snapshot.
type BackendStatus struct {
	Backend          string    `json:"backend"`
	Status           Status    `json:"status"`
	LastChecked      time.Time `json:"last_checked"`
	LastError        string    `json:"last_error,omitempty"`
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// Reachable reports whether the backend should receive traffic.
func (s BackendStatus) Reachable() bool {
	return s.Status == StatusHealthy || s.Status == StatusDegraded
}

// probe describes the read-only tool used to check one backend.
type probe struct {
	backend string
	tool    string
	args    map[string]any
}

var probes = []probe{
	{backend: tools.BackendDocker, tool: "docker_list_containers"},
	{backend: tools.BackendK8sLocal, tool: "local_k8s_list_pods", args: map[string]any{"namespace": "default"}},
	{backend: tools.BackendK8sRemote, tool: "remote_k8s_list_pods", args: map[string]any{"namespace": "default"}},
}

// Monitor owns the probe goroutines and the status snapshot.
type Monitor struct {
	inv    tools.Invoker
	cfg    config.PulseConfig
	index  *ResourceIndex
	logger *slog.Logger

	mu       sync.RWMutex
	statuses map[string]BackendStatus

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor builds a monitor; call Start to begin probing.
func NewMonitor(inv tools.Invoker, cfg config.PulseConfig) *Monitor {
	statuses := make(map[string]BackendStatus, len(probes))
	for _, p := range probes {
		statuses[p.backend] = BackendStatus{Backend: p.backend, Status: StatusUnknown}
	}
	return &Monitor{
		inv:      inv,
		cfg:      cfg,
		index:    NewResourceIndex(),
		logger:   slog.Default(),
		statuses: statuses,
	}
}

// Start launches one probe loop per backend. Each loop probes immediately,
// then on every tick until the context is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, p := range probes {
		m.wg.Add(1)
		go m.loop(ctx, p)
	}
	m.logger.Info("Pulse monitor started",
		"backends", len(probes), "interval", m.cfg.Interval)
}

// Stop cancels all probe loops and waits for them to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("Pulse monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, p probe) {
	defer m.wg.Done()

	m.check(ctx, p)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx, p)
		}
	}
}

func (m *Monitor) check(ctx context.Context, p probe) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	res := m.inv.Call(probeCtx, p.tool, p.args)
	cancel()

	m.mu.Lock()
	st := m.statuses[p.backend]
	st.LastChecked = time.Now()
	if res.Success {
		if st.Status != StatusHealthy {
			m.logger.Info("Backend recovered", "backend", p.backend, "previous", st.Status)
		}
		st.Status = StatusHealthy
		st.ConsecutiveFails = 0
		st.LastError = ""
	} else {
		st.ConsecutiveFails++
		st.LastError = res.Error
		if st.ConsecutiveFails >= 2 {
			st.Status = StatusDisconnected
		} else {
			st.Status = StatusDegraded
		}
		m.logger.Warn("Backend probe failed",
			"backend", p.backend, "status", st.Status,
			"consecutive_fails", st.ConsecutiveFails, "error", res.Error)
	}
	m.statuses[p.backend] = st
	m.mu.Unlock()

	if res.Success {
		m.index.Update(p.backend, res.Payload)
	}
}

// Status returns the last observed status of one backend. Unknown backends
// report StatusUnknown.
func (m *Monitor) Status(backendID string) BackendStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.statuses[backendID]; ok {
		return st
	}
	return BackendStatus{Backend: backendID, Status: StatusUnknown}
}

// Snapshot returns a copy of all backend statuses.
func (m *Monitor) Snapshot() map[string]BackendStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]BackendStatus, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out
}

// Lookup resolves (kind, name) against the resource index. It satisfies
// tools.ResourceLocator.
func (m *Monitor) Lookup(kind, name string) []tools.ResourceLocation {
	return m.index.Lookup(kind, name)
}
