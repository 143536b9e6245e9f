package router

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/codeready-toolchain/dispatch/pkg/pulse"
	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// backendKeywords mark a query as clearly belonging to one backend.
var backendKeywords = map[string][]string{
	tools.BackendDocker: {
		"docker", "container", "image", "volume", "network", "compose",
	},
	tools.BackendK8sLocal: {
		"local", "minikube", "kind", "desktop", "localhost",
	},
	tools.BackendK8sRemote: {
		"remote", "cluster", "aws", "gcp", "azure", "cloud", "production", "staging",
	},
	tools.BackendChat: {
		"hi", "hello", "hey", "help", "who are you", "what is this",
		"thanks", "thank you", "bye", "test", "explain", "why",
	},
}

// k8sCommon are Kubernetes terms that do not pick a cluster by themselves.
var k8sCommon = []string{
	"pod", "node", "deployment", "service", "namespace", "replicaset",
	"configmap", "secret", "ingress", "pvc", "pv", "log", "logs", "describe",
	"ip", "port", "status", "phase", "labeled", "label", "selector",
	"filtering", "filter", "promote", "trace", "diff", "utilization", "compare",
}

// contextIndicators suggest the query refers back to the previous turn.
var contextIndicators = []string{
	"it", "that", "this", "them", "those", "here", "there",
	"details", "more", "describe", "the",
}

// StatusReader exposes backend health to the selector. Satisfied by
// *pulse.Monitor.
type StatusReader interface {
	Status(backendID string) pulse.BackendStatus
}

// BackendSelector narrows a query to the backends worth considering before
// any tool selection happens. Keyword-driven, with anaphora stickiness and
// health gating.
type BackendSelector struct {
	pulse  StatusReader
	logger *slog.Logger
}

// NewBackendSelector builds a selector; pulse may be nil, disabling the
// health gate.
func NewBackendSelector(p StatusReader) *BackendSelector {
	return &BackendSelector{pulse: p, logger: slog.Default()}
}

// Select returns the backends relevant to the query. lastBackend is the
// sticky scope from the session (empty when none); forced, when non-empty,
// overrides everything.
func (s *BackendSelector) Select(query, lastBackend string, forced []string) []string {
	if len(forced) > 0 {
		return slices.Clone(forced)
	}

	q := strings.ToLower(query)
	words := strings.Fields(q)
	selected := map[string]bool{}

	// Anaphoric follow-ups inherit the previous turn's backend.
	if lastBackend != "" {
		for _, w := range words {
			if slices.Contains(contextIndicators, w) {
				selected[lastBackend] = true
				break
			}
		}
	}

	for backendID, keywords := range backendKeywords {
		for _, kw := range keywords {
			if strings.Contains(q, kw) {
				selected[backendID] = true
				break
			}
		}
	}

	// Generic Kubernetes terms select both clusters unless the query already
	// committed to one.
	isK8s := false
	for _, kw := range k8sCommon {
		if strings.Contains(q, kw) {
			isK8s = true
			break
		}
	}
	if isK8s && !selected[tools.BackendK8sLocal] && !selected[tools.BackendK8sRemote] {
		selected[tools.BackendK8sLocal] = true
		selected[tools.BackendK8sRemote] = true
	}

	if len(selected) == 0 {
		switch {
		case strings.Contains(q, "status") || strings.Contains(q, "check"):
			selected[tools.BackendDocker] = true
			selected[tools.BackendK8sLocal] = true
			selected[tools.BackendK8sRemote] = true
		case len(words) > 5:
			// Long queries get the full surface; the retriever narrows further.
			for _, id := range tools.AllBackends {
				selected[id] = true
			}
		default:
			selected[tools.BackendChat] = true
		}
	}

	// Health gate: skip a disconnected remote unless the user asked for it
	// explicitly (they may want to hear that it is down).
	if s.pulse != nil && selected[tools.BackendK8sRemote] && !strings.Contains(q, "remote") {
		if s.pulse.Status(tools.BackendK8sRemote).Status == pulse.StatusDisconnected {
			s.logger.Info("Skipping disconnected remote backend for implicit query")
			delete(selected, tools.BackendK8sRemote)
		}
	}

	out := make([]string, 0, len(selected))
	for _, id := range tools.AllBackends {
		if selected[id] {
			out = append(out, id)
		}
	}
	return out
}
