// Package safety classifies tool calls by blast radius. It is a pure
// function of the tool name; the orchestrator decides what to do with a
// dangerous classification (typically require user confirmation).
package safety

import (
	"fmt"
	"strings"
)

// Level grades the blast radius of a dangerous call.
type Level string

// Severity levels, ordered.
const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Report is the classification of a single tool call. The JSON field names
// are the confirmation payload contract.
type Report struct {
	Tool      string   `json:"tool"`
	Dangerous bool     `json:"dangerous"`
	Level     Level    `json:"risk_level"`
	Reason    string   `json:"reason"`
	Impacts   []string `json:"impact_analysis"`
}

// family groups dangerous tools that share a level and impact description.
type family struct {
	level   Level
	reason  string
	impacts []string
}

// dangerousPrefixes matches destructive tool families by name prefix.
var dangerousPrefixes = map[string]family{
	"docker_stop": {
		level:  LevelHigh,
		reason: "stops a running container",
		impacts: []string{
			"The container's workload becomes unavailable immediately",
			"In-flight requests to the container are dropped",
			"A restart may lose in-memory state",
		},
	},
	"docker_rm": {
		level:  LevelHigh,
		reason: "permanently removes a container",
		impacts: []string{
			"The container and its writable layer are deleted",
			"Logs and local files inside the container are lost",
			"This cannot be undone",
		},
	},
	"docker_prune": {
		level:  LevelHigh,
		reason: "bulk-deletes unused Docker data",
		impacts: []string{
			"All stopped containers are removed",
			"Dangling images and unused networks are deleted",
			"Reclaimed data cannot be restored",
		},
	},
	"k8s_delete": {
		level:  LevelHigh,
		reason: "deletes a Kubernetes resource",
		impacts: []string{
			"The resource is removed from the cluster",
			"Pods owned by a controller will be rescheduled; bare pods will not",
			"Attached ephemeral storage is lost",
		},
	},
	"local_k8s_delete": {
		level:  LevelHigh,
		reason: "deletes a resource from the local cluster",
		impacts: []string{
			"The resource is removed from the local cluster",
			"Pods owned by a controller will be rescheduled; bare pods will not",
		},
	},
	"remote_k8s_delete": {
		level:  LevelHigh,
		reason: "deletes a resource from the remote cluster",
		impacts: []string{
			"The resource is removed from the remote production cluster",
			"Pods owned by a controller will be rescheduled; bare pods will not",
			"Service disruption is possible until replacements are ready",
		},
	},
	"remote_k8s_promote": {
		level:  LevelHigh,
		reason: "copies a resource into the remote cluster",
		impacts: []string{
			"The remote cluster configuration changes",
			"An existing resource with the same name is overwritten",
			"Workloads may restart with the new definition",
		},
	},
	"remote_k8s_exec": {
		level:  LevelHigh,
		reason: "runs an arbitrary command inside a remote pod",
		impacts: []string{
			"Full shell access inside the pod",
			"The command can modify or destroy application data",
			"Effects depend entirely on the command given",
		},
	},
}

// dangerousExact matches tools whose name alone (no family) is dangerous.
var dangerousExact = map[string]family{
	"docker_run_container": {
		level:  LevelHigh,
		reason: "starts a new container on the host",
		impacts: []string{
			"A new workload starts consuming host cpu and memory",
			"Requested port bindings are exposed on the host",
			"The image is pulled if not present locally",
		},
	},
}

// Classify reports whether calling the named tool needs confirmation.
// Read-only tools come back with Dangerous=false and no level.
func Classify(toolName string) Report {
	if fam, ok := dangerousExact[toolName]; ok {
		return report(toolName, fam)
	}
	for prefix, fam := range dangerousPrefixes {
		if strings.HasPrefix(toolName, prefix) {
			return report(toolName, fam)
		}
	}
	return Report{Tool: toolName}
}

func report(toolName string, fam family) Report {
	return Report{
		Tool:      toolName,
		Dangerous: true,
		Level:     fam.level,
		Reason:    fam.reason,
		Impacts:   fam.impacts,
	}
}

// ConfirmationPrompt renders the Markdown confirmation message shown to the
// user before a dangerous call proceeds.
func ConfirmationPrompt(reports []Report) string {
	var b strings.Builder
	b.WriteString("🛑 **Confirmation required**\n\n")
	for _, r := range reports {
		if !r.Dangerous {
			continue
		}
		fmt.Fprintf(&b, "`%s` (%s) %s:\n", r.Tool, r.Level, r.Reason)
		for _, impact := range r.Impacts {
			fmt.Fprintf(&b, "- %s\n", impact)
		}
		b.WriteString("\n")
	}
	b.WriteString("Reply `yes` to proceed or anything else to cancel.")
	return b.String()
}
