// Package agent turns a natural-language query into validated tool calls
// using the LLM. A fast zero-shot pass handles the common case; a
// chain-of-thought pass with self-correction retries handles the rest.
package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// proseToolRe finds tool names mentioned inside prose, the last-resort
// extraction when a model refuses to emit JSON.
var proseToolRe = regexp.MustCompile(`(remote_k8s_\w+|local_k8s_\w+|k8s_\w+|docker_\w+)`)

// Parse extracts tool calls from raw model output. Returns nil when nothing
// parseable is found; ParseWithFallback adds the prose extraction on top.
func Parse(output string) []tools.Call {
	cleaned := strings.TrimSpace(output)
	if cleaned == "" {
		return nil
	}

	cleaned = stripCodeFence(cleaned)
	cleaned = extractJSON(cleaned)
	if cleaned == "" {
		return nil
	}

	data := decodeLenient(cleaned)
	if data == nil {
		return nil
	}

	switch v := data.(type) {
	case []any:
		return normalizeList(v)
	case map[string]any:
		if call := normalizeCall(v); call != nil {
			return []tools.Call{*call}
		}
	}
	return nil
}

// ParseWithFallback runs Parse and, failing that, pulls the first tool name
// mentioned in prose.
func ParseWithFallback(output string) []tools.Call {
	if calls := Parse(output); calls != nil {
		return calls
	}
	if m := proseToolRe.FindString(output); m != "" {
		return []tools.Call{{Name: m, Arguments: map[string]any{}}}
	}
	return nil
}

// stripCodeFence removes a surrounding markdown code block.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 3 {
		return s
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

// extractJSON isolates the first JSON array or object embedded in prose
// using bracket counting. Text already starting with a bracket passes
// through; a lone object is wrapped into a one-element array.
func extractJSON(s string) string {
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		return s
	}
	if start := strings.IndexByte(s, '['); start != -1 {
		if end := matchBracket(s, start, '[', ']'); end != -1 {
			return s[start : end+1]
		}
	}
	if start := strings.IndexByte(s, '{'); start != -1 {
		if end := matchBracket(s, start, '{', '}'); end != -1 {
			return "[" + s[start:end+1] + "]"
		}
	}
	return ""
}

func matchBracket(s string, start int, open, close byte) int {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// decodeLenient unmarshals JSON, repairing malformed output (single quotes,
// trailing commas, unquoted keys) on a second attempt.
func decodeLenient(s string) any {
	var data any
	if err := json.Unmarshal([]byte(s), &data); err == nil {
		return data
	}
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(repaired), &data); err != nil {
		return nil
	}
	return data
}

// normalizeList converts a decoded array into calls, accepting the
// ["name", {args}] and ["name"] shorthands some models emit.
func normalizeList(items []any) []tools.Call {
	if len(items) == 0 {
		return nil
	}
	if name, ok := items[0].(string); ok {
		if len(items) == 2 {
			if args, ok := items[1].(map[string]any); ok {
				return []tools.Call{{Name: name, Arguments: args}}
			}
		}
		if len(items) == 1 {
			return []tools.Call{{Name: name, Arguments: map[string]any{}}}
		}
	}

	var calls []tools.Call
	for _, item := range items {
		switch v := item.(type) {
		case string:
			calls = append(calls, tools.Call{Name: v, Arguments: map[string]any{}})
		case map[string]any:
			if call := normalizeCall(v); call != nil {
				calls = append(calls, *call)
			}
		}
	}
	return calls
}

// normalizeCall accepts the key variants models produce for the tool name
// and its arguments.
func normalizeCall(item map[string]any) *tools.Call {
	var name string
	for _, key := range []string{"name", "tool_name", "tool"} {
		if v, ok := item[key].(string); ok && v != "" {
			name = v
			break
		}
	}
	if name == "" {
		return nil
	}
	args := map[string]any{}
	for _, key := range []string{"arguments", "parameters", "input"} {
		if v, ok := item[key].(map[string]any); ok {
			args = v
			break
		}
	}
	return &tools.Call{Name: name, Arguments: args}
}
