// Package format renders tool results as Markdown. A small chain of
// formatters is tried in order; the first one claiming the tool renders it,
// failures always go through the diagnostic formatter, and anything
// unclaimed falls back to a JSON block.
package format

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// Formatter renders the successful result of one tool family.
type Formatter interface {
	CanFormat(toolName string) bool
	Format(toolName string, payload map[string]any) string
}

// ErrorExplainer produces the AI diagnostic attached to failed results.
// Satisfied by *agent.Analyzer; nil disables the diagnostic section.
type ErrorExplainer interface {
	ExplainError(ctx context.Context, query, errSummary string, rawError json.RawMessage) (string, error)
}

// Registry dispatches results to formatters.
type Registry struct {
	formatters []Formatter
	explainer  ErrorExplainer
}

// NewRegistry builds the default chain: docker, kubernetes, JSON fallback.
func NewRegistry(explainer ErrorExplainer) *Registry {
	return &Registry{
		formatters: []Formatter{dockerFormatter{}, k8sFormatter{}},
		explainer:  explainer,
	}
}

// Format renders one tool result as Markdown.
func (r *Registry) Format(ctx context.Context, toolName string, res *tools.Result) string {
	if !res.Success {
		return r.formatFailure(ctx, toolName, res)
	}
	for _, f := range r.formatters {
		if f.CanFormat(toolName) {
			return f.Format(toolName, res.Payload)
		}
	}
	return fmt.Sprintf("✅ **Result for %s**:\n```json\n%s\n```", toolName, indentJSON(res.Payload))
}

// formatFailure renders a failed result, attaching the raw server error and
// an AI diagnosis when available.
func (r *Registry) formatFailure(ctx context.Context, toolName string, res *tools.Result) string {
	errMsg := res.Error
	if errMsg == "" {
		errMsg = "Unknown error"
	}
	if len(res.RawError) == 0 {
		return fmt.Sprintf("❌ Operation failed: %s", errMsg)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "❌ **Operation Failed**: %s\n\n", errMsg)
	fmt.Fprintf(&b, "🐛 **Raw API Error**:\n```json\n%s\n```", indentRaw(res.RawError))
	if r.explainer != nil {
		diagnosis, err := r.explainer.ExplainError(ctx, "Action: "+toolName, errMsg, res.RawError)
		if err == nil && diagnosis != "" {
			fmt.Fprintf(&b, "\n\n🤖 **AI Diagnostic**:\n%s", diagnosis)
		}
	}
	return b.String()
}

// MarkdownTable renders a Markdown table; empty input renders nothing.
func MarkdownTable(headers []string, rows [][]string) string {
	if len(headers) == 0 || len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	seps := make([]string, len(headers))
	for i := range seps {
		seps[i] = "---"
	}
	b.WriteString("| " + strings.Join(seps, " | ") + " |")
	for _, row := range rows {
		b.WriteString("\n| " + strings.Join(row, " | ") + " |")
	}
	return b.String()
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func indentRaw(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return indentJSON(v)
}

// str coerces a payload field for display.
func str(v any) string {
	switch t := v.(type) {
	case nil:
		return "?"
	case string:
		if t == "" {
			return "?"
		}
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
