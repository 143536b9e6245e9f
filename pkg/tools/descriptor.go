// Package tools defines the tool descriptor model and the registry that owns
// it. A tool is a named operation with a JSON-schema signature and an execute
// function on some backend; the registry is the single source of truth for
// which tools exist.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Backend identifiers. Every tool belongs to exactly one backend, derived
// from its name prefix.
const (
	BackendDocker    = "docker"
	BackendK8sLocal  = "k8s_local"
	BackendK8sRemote = "k8s_remote"
	BackendChat      = "chat"
)

// AllBackends lists every known backend in stable order.
var AllBackends = []string{BackendDocker, BackendK8sLocal, BackendK8sRemote, BackendChat}

// Property describes a single parameter in a tool's schema.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Schema is the JSON-Schema-shaped parameter declaration of a tool.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// ExecuteFunc runs a tool with the given arguments. Implementations must be
// safe for concurrent use; a single query can dispatch several calls in
// parallel.
type ExecuteFunc func(ctx context.Context, args map[string]any) *Result

// Descriptor is the immutable record for a registered tool.
// Names are lowercase, underscore-separated, conventionally
// <backend>_<verb>_<object> (e.g. "local_k8s_list_pods").
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  Schema      `json:"parameters"`
	Execute     ExecuteFunc `json:"-"`
}

// Backend returns the backend a tool name belongs to. The bare "chat" tool is
// served by the docker endpoint by convention but routes as its own backend.
func Backend(toolName string) string {
	switch {
	case toolName == "chat":
		return BackendChat
	case strings.HasPrefix(toolName, "remote_k8s_"):
		return BackendK8sRemote
	case strings.HasPrefix(toolName, "local_k8s_"), strings.HasPrefix(toolName, "k8s_"):
		return BackendK8sLocal
	default:
		return BackendDocker
	}
}

// Call is a concrete tool invocation resolved from a user query.
type Call struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Result is the tagged outcome of a tool execution. On success Payload holds
// the tool-specific response object; on failure Error carries a short message
// and RawError preserves the server payload for diagnostics.
type Result struct {
	Success    bool            `json:"success"`
	Payload    map[string]any  `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	RawError   json.RawMessage `json:"raw_error,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
}

// Errorf builds a failed Result with a formatted message.
func Errorf(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Invoker dispatches a tool call to its backend server. Implemented by
// backend.Client; declared here so tool descriptors stay decoupled from the
// transport.
type Invoker interface {
	Call(ctx context.Context, toolName string, args map[string]any) *Result
}
