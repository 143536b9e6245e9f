package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/dispatch/pkg/llm"
	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// DefaultMaxRetries bounds the chain-of-thought self-correction loop.
const DefaultMaxRetries = 2

const fastSystemPrompt = `You are a high-performance JSON API mapping DevOps commands to tool calls.

Constraints:
1. OUTPUT ONLY JSON. No thinking, no reasoning, no markdown, no comments.
2. Format: [{"name": "tool_name", "arguments": {"arg": "val"}}]
3. Do NOT use "tool_name" or "input" as keys. Use "name" and "arguments".`

const smartSystemPrompt = `You are an intelligent DevOps assistant. Map the user's natural language
query to tool calls.

Instructions:
1. ANALYZE the conversation history and the user query.
2. THINK step by step about which tool(s) match the user's intent.
3. CHECK the available tools to ensure the tool exists and arguments are correct.
4. IF the user asks for multiple things (e.g. "list pods and nodes"), return
   multiple tool calls in the list.
5. IF the user is just chatting or asking a question that needs no tool, use
   the 'chat' tool.
6. End your answer with the tool calls as a JSON list:
   [{"name": "tool_1", "arguments": {...}}]`

// Agent maps queries to validated tool calls. The fast completer runs
// zero-shot; the smart completer reasons and self-corrects when the fast
// output fails validation.
type Agent struct {
	fast       llm.Completer
	smart      llm.Completer
	maxRetries int
	logger     *slog.Logger
}

// New builds an agent. fast and smart may be the same completer.
func New(fast, smart llm.Completer) *Agent {
	return &Agent{
		fast:       fast,
		smart:      smart,
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default(),
	}
}

// SelectTools resolves the query to tool calls, given the candidate tool
// schemas and the conversation history. Every returned call has passed
// validation against the schemas.
func (a *Agent) SelectTools(ctx context.Context, query string, schemas []tools.ToolSchema, history []llm.Message) ([]tools.Call, error) {
	toolsJSON, err := json.MarshalIndent(schemas, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool schemas: %w", err)
	}
	historyJSON := historyContext(history)

	// Fast path: zero-shot.
	a.logger.Debug("Fast agent attempting zero-shot tool selection")
	raw, err := a.fast.Complete(ctx, []llm.Message{
		llm.System(fastSystemPrompt),
		llm.User(prompt(historyJSON, string(toolsJSON), query)),
	})
	switch {
	case err != nil:
		a.logger.Warn("Fast agent completion failed, switching to chain-of-thought", "error", err)
	default:
		calls := Parse(raw)
		if calls == nil {
			a.logger.Info("Fast agent produced no parseable calls, switching to chain-of-thought")
			break
		}
		if verr := Validate(calls, schemas); verr != nil {
			a.logger.Info("Fast agent output failed validation, switching to chain-of-thought",
				"error", verr)
			break
		}
		return calls, nil
	}

	// Smart path: chain-of-thought with self-correction.
	var lastRaw string
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		attemptQuery := query
		if attempt > 0 && lastErr != nil {
			attemptQuery = fmt.Sprintf(
				"%s\n\n[SYSTEM: Your previous response was invalid. Error: %s. Please output ONLY a valid JSON list.]",
				query, lastErr)
		}
		raw, err := a.smart.Complete(ctx, []llm.Message{
			llm.System(smartSystemPrompt),
			llm.User(prompt(historyJSON, string(toolsJSON), attemptQuery)),
		})
		if err != nil {
			lastErr = err
			continue
		}
		lastRaw = raw

		calls := Parse(raw)
		if calls == nil {
			lastErr = fmt.Errorf("output was not a valid JSON list of tool calls")
			continue
		}
		if verr := Validate(calls, schemas); verr != nil {
			lastErr = verr
			a.logger.Info("Agent self-correction triggered", "attempt", attempt, "error", verr)
			continue
		}
		return calls, nil
	}

	// Last resort: a tool name buried in prose, validated like any other.
	if calls := ParseWithFallback(lastRaw); calls != nil {
		if verr := Validate(calls, schemas); verr == nil {
			a.logger.Warn("Extracted tool call from prose output", "tool", calls[0].Name)
			return calls, nil
		}
	}
	return nil, fmt.Errorf("could not resolve query to tool calls after %d attempts: %w",
		a.maxRetries+1, lastErr)
}

func prompt(historyJSON, toolsJSON, query string) string {
	return fmt.Sprintf("history_context:\n%s\n\navailable_tools:\n%s\n\nuser_query: %s",
		historyJSON, toolsJSON, query)
}

func historyContext(history []llm.Message) string {
	if len(history) == 0 {
		return "[]"
	}
	type turn struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	turns := make([]turn, len(history))
	for i, m := range history {
		turns[i] = turn{Role: m.Role, Content: m.Content}
	}
	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}
