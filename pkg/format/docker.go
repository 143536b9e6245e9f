package format

import (
	"fmt"
	"strings"
)

// dockerFormatter renders docker tool results.
type dockerFormatter struct{}

func (dockerFormatter) CanFormat(toolName string) bool {
	return strings.HasPrefix(toolName, "docker_")
}

func (dockerFormatter) Format(toolName string, payload map[string]any) string {
	switch toolName {
	case "docker_list_containers":
		return formatContainerList(payload)
	case "docker_run_container", "docker_stop_container":
		msg, _ := payload["message"].(string)
		if msg == "" {
			if toolName == "docker_run_container" {
				msg = "Container started."
			} else {
				msg = "Container stopped."
			}
		}
		return fmt.Sprintf("✅ **%s**\n\n| ID | Name |\n|---|---|\n| `%s` | **%s** |",
			msg, str(payload["container_id"]), str(payload["name"]))
	default:
		return fmt.Sprintf("✅ Tool '%s' executed successfully.", toolName)
	}
}

func formatContainerList(payload map[string]any) string {
	containers, _ := payload["containers"].([]any)
	if len(containers) == 0 {
		return "✅ Success! No containers found."
	}
	count := len(containers)
	if c, ok := payload["count"].(float64); ok {
		count = int(c)
	}

	rows := make([][]string, 0, len(containers))
	for _, item := range containers {
		c, ok := item.(map[string]any)
		if !ok {
			continue
		}
		status, _ := c["status"].(string)
		glyph := "🔴"
		if strings.Contains(status, "Up") {
			glyph = "🟢"
		}
		id := str(c["id"])
		if id != "?" && len(id) > 12 {
			id = id[:12]
		}
		rows = append(rows, []string{glyph, str(c["name"]), id, str(c["image"]), status})
	}
	return fmt.Sprintf("✅ **Found %d container(s):**\n\n", count) +
		MarkdownTable([]string{"Status", "Name", "ID", "Image", "State"}, rows)
}
