package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/dispatch/pkg/llm"
)

const errorAnalysisPrompt = `You are a Kubernetes and DevOps expert. Analyze the error and explain WHY
the operation failed and HOW to fix it.

Instructions:
1. Identify the core issue (RBAC denial, resource not found, network timeout).
2. Explain it simply to a user.
3. Suggest concrete fixes (e.g. "Run 'kubectl create namespace ...'", "Check your kubeconfig").

OUTPUT FORMAT:
1. **What Happened**: [Brief summary]
2. **Why**: [Technical reason]
3. **Possible Fixes**: [Bulleted list of commands or actions]`

const insightPrompt = `You are an expert Kubernetes and DevOps analyst.

Instructions:
1. ANALYZE the raw tool results in the context of the user's question.
2. Provide a 2-3 sentence expert opinion answering the user's specific
   question (comparing environments, identifying risks).
3. Be DIRECT and TECHNICAL. No fluff.`

// Analyzer produces natural-language diagnoses and summaries using the
// smart model.
type Analyzer struct {
	smart llm.Completer
}

// NewAnalyzer wraps the smart completer.
func NewAnalyzer(smart llm.Completer) *Analyzer {
	return &Analyzer{smart: smart}
}

// ExplainError turns a failed tool call into a What Happened / Why /
// Possible Fixes diagnosis.
func (a *Analyzer) ExplainError(ctx context.Context, query, errSummary string, rawError json.RawMessage) (string, error) {
	raw := string(rawError)
	if raw == "" {
		raw = errSummary
	}
	out, err := a.smart.Complete(ctx, []llm.Message{
		llm.System(errorAnalysisPrompt),
		llm.User(fmt.Sprintf("user_query: %s\n\nerror_summary: %s\n\nraw_error:\n%s",
			query, errSummary, raw)),
	})
	if err != nil {
		return "", fmt.Errorf("error analysis failed: %w", err)
	}
	return out, nil
}

// Summarize produces the short expert opinion appended to analytical
// answers ("compare the clusters", "why is this failing").
func (a *Analyzer) Summarize(ctx context.Context, query, resultsJSON string) (string, error) {
	out, err := a.smart.Complete(ctx, []llm.Message{
		llm.System(insightPrompt),
		llm.User(fmt.Sprintf("user_query: %s\n\ntool_results:\n%s", query, resultsJSON)),
	})
	if err != nil {
		return "", fmt.Errorf("insight summary failed: %w", err)
	}
	return out, nil
}
