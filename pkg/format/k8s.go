package format

import (
	"fmt"
	"sort"
	"strings"
)

// k8sFormatter renders Kubernetes tool results for both clusters.
type k8sFormatter struct{}

func (k8sFormatter) CanFormat(toolName string) bool {
	return strings.Contains(toolName, "k8s_")
}

func (k8sFormatter) Format(toolName string, payload map[string]any) string {
	switch {
	case strings.Contains(toolName, "list_pods"):
		return formatPodList(toolName, payload)
	case strings.Contains(toolName, "describe_pod"), strings.Contains(toolName, "describe_deployment"):
		return formatDescribe(payload)
	default:
		return fmt.Sprintf("✅ K8s Tool '%s' executed successfully.", toolName)
	}
}

func formatPodList(toolName string, payload map[string]any) string {
	scope := "LOCAL"
	if strings.Contains(toolName, "remote") {
		scope = "REMOTE"
	}
	ns := str(payload["namespace"])
	if ns == "?" {
		ns = "unknown"
	}

	pods, _ := payload["pods"].([]any)
	if len(pods) == 0 {
		return fmt.Sprintf("✅ Success! No pods in '%s' (%s).", ns, scope)
	}

	phaseCounts := map[string]int{}
	rows := make([][]string, 0, len(pods))
	for _, item := range pods {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		phase, _ := p["phase"].(string)
		if phase == "" {
			phase = "Unknown"
		}
		phaseCounts[phase]++

		glyph := "🔴"
		switch phase {
		case "Running":
			glyph = "🟢"
		case "Pending":
			glyph = "🟡"
		}
		rows = append(rows, []string{
			glyph + " " + phase,
			str(p["name"]),
			str(p["restarts"]),
			str(p["age"]),
			str(p["node"]),
		})
	}

	phases := make([]string, 0, len(phaseCounts))
	for phase := range phaseCounts {
		phases = append(phases, phase)
	}
	sort.Strings(phases)
	parts := make([]string, len(phases))
	for i, phase := range phases {
		parts[i] = fmt.Sprintf("%s: %d", phase, phaseCounts[phase])
	}

	return fmt.Sprintf("✅ **Kubernetes Pods in '%s' (%s)**\n*Summary: %s*\n\n",
		ns, scope, strings.Join(parts, ", ")) +
		MarkdownTable([]string{"Status", "Name", "Restarts", "Age", "Node"}, rows)
}

func formatDescribe(payload map[string]any) string {
	data, ok := payload["data"].(string)
	if !ok {
		return fmt.Sprintf("✅ **Resource Details**:\n%s", indentJSON(payload))
	}
	// kubectl-style describe output reads best as a yaml block.
	if strings.Contains(data, "Name:") {
		return fmt.Sprintf("📋 **Detailed Description**:\n```yaml\n%s\n```", data)
	}
	return fmt.Sprintf("✅ **Resource Details**:\n%s", data)
}
