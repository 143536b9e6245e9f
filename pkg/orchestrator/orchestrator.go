// Package orchestrator drives one query through the full pipeline: backend
// selection, semantic cache, the routing cascade, the LLM agent, the safety
// gate, concurrent execution, formatting and post-commit bookkeeping.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/dispatch/pkg/cache"
	"github.com/codeready-toolchain/dispatch/pkg/format"
	"github.com/codeready-toolchain/dispatch/pkg/llm"
	"github.com/codeready-toolchain/dispatch/pkg/rag"
	"github.com/codeready-toolchain/dispatch/pkg/safety"
	"github.com/codeready-toolchain/dispatch/pkg/session"
	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// Request is one user turn.
type Request struct {
	Query     string
	SessionID string
	// Approved marks this turn as the confirmation of a previously gated
	// request; the pending calls execute without re-asking.
	Approved bool
	// ForcedBackends overrides backend selection (CLI flag, tests).
	ForcedBackends []string
}

// Response is the outcome of one turn.
type Response struct {
	SessionID string
	Output    string
	ToolCalls []tools.Call
	// Confirmation, when non-empty, means nothing executed: the caller must
	// show the prompt and send the next Request with Approved set.
	Confirmation string
	// ConfirmationRequest is the structured form of the gated call, for
	// programmatic callers that do not render the Markdown prompt.
	ConfirmationRequest *ConfirmationRequest
	// Disambiguation carries a "did you mean" hint when a resource was found
	// elsewhere than the query targeted.
	Disambiguation string
	// DisambiguationOptions lists the candidate locations behind the hint,
	// numbered from 1 in the order they appear in the rendered text.
	DisambiguationOptions []DisambiguationOption
	Cached                bool
}

// ConfirmationRequest identifies the first dangerous call of a gated turn.
type ConfirmationRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Risk      safety.Report  `json:"risk"`
}

// DisambiguationOption is one numbered alternative location for a resource
// that was not found where the query targeted it.
type DisambiguationOption struct {
	Option    int    `json:"option"`
	Resource  string `json:"resource"`
	Namespace string `json:"namespace"`
	Backend   string `json:"backend"`
}

// Resolver narrows a query to tool calls without the LLM. Satisfied by
// *router.Router.
type Resolver interface {
	Route(ctx context.Context, query string) []tools.Call
}

// Selector narrows a query to candidate backends. Satisfied by
// *router.BackendSelector.
type Selector interface {
	Select(query, lastBackend string, forced []string) []string
}

// ToolSelector resolves a query to validated tool calls with the LLM.
// Satisfied by *agent.Agent.
type ToolSelector interface {
	SelectTools(ctx context.Context, query string, schemas []tools.ToolSchema, history []llm.Message) ([]tools.Call, error)
}

// Retriever returns candidate tool schemas for a query. Satisfied by
// *rag.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, backendIDs []string) []tools.ToolSchema
}

// AnswerCache is the semantic cache surface. Satisfied by *cache.Cache.
type AnswerCache interface {
	Lookup(ctx context.Context, query, scope string) *cache.Hit
	Add(ctx context.Context, query, output string, calls []tools.Call, scope string)
}

// Summarizer appends an expert opinion to multi-result answers. Satisfied
// by *agent.Analyzer.
type Summarizer interface {
	Summarize(ctx context.Context, query, resultsJSON string) (string, error)
}

// Orchestrator wires the pipeline. All dependencies are interfaces so tests
// can script them.
type Orchestrator struct {
	registry  *tools.Registry
	sessions  *session.Store
	selector  Selector
	resolver  Resolver
	retriever Retriever
	agent     ToolSelector
	cache     AnswerCache
	formatter *format.Registry
	summarize Summarizer
	locate    tools.ResourceLocator

	confirmGate bool
	logger      *slog.Logger

	pendingMu sync.Mutex
	pending   map[string][]tools.Call
}

// Config wires an Orchestrator.
type Config struct {
	Registry    *tools.Registry
	Sessions    *session.Store
	Selector    Selector
	Resolver    Resolver
	Retriever   Retriever
	Agent       ToolSelector
	Cache       AnswerCache
	Formatter   *format.Registry
	Summarizer  Summarizer
	Locator     tools.ResourceLocator
	ConfirmGate bool
}

// New builds the orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		registry:    cfg.Registry,
		sessions:    cfg.Sessions,
		selector:    cfg.Selector,
		resolver:    cfg.Resolver,
		retriever:   cfg.Retriever,
		agent:       cfg.Agent,
		cache:       cfg.Cache,
		formatter:   cfg.Formatter,
		summarize:   cfg.Summarizer,
		locate:      cfg.Locator,
		confirmGate: cfg.ConfirmGate,
		logger:      slog.Default(),
		pending:     map[string][]tools.Call{},
	}
}

// Handle runs one turn. A panic anywhere in the pipeline is contained to
// the turn and reported as a failed response.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Panic while handling query", "panic", r, "query", req.Query)
			resp = &Response{
				SessionID: req.SessionID,
				Output:    fmt.Sprintf("❌ Internal error while handling the query: %v", r),
			}
		}
	}()
	return o.handle(ctx, req)
}

func (o *Orchestrator) handle(ctx context.Context, req Request) *Response {
	query := strings.TrimSpace(req.Query)
	sess := o.sessions.GetOrCreate(req.SessionID)
	resp := &Response{SessionID: sess.ID}
	if query == "" {
		resp.Output = "🤔 Empty query. Try 'list pods' or 'show my containers'."
		return resp
	}

	backends := o.selector.Select(query, o.sessions.LastBackend(sess.ID), req.ForcedBackends)
	scope := ""
	if len(backends) == 1 {
		scope = backends[0]
	}

	// Approved turns bypass the cache and the routing cascade: the gated
	// calls are already decided.
	var calls []tools.Call
	if req.Approved {
		calls = o.takePending(sess.ID)
	}

	if calls == nil && !req.Approved {
		if hit := o.cache.Lookup(ctx, query, scope); hit != nil {
			resp.Output = hit.Output
			resp.ToolCalls = hit.ToolCalls
			resp.Cached = true
			o.commit(ctx, sess.ID, query, resp, scope, backends)
			return resp
		}
	}

	if calls == nil {
		calls = o.resolver.Route(ctx, query)
	}
	if calls == nil {
		schemas := o.retriever.Retrieve(ctx, query, rag.DefaultTopK, backends)
		history := historyMessages(o.sessions.History(sess.ID))
		var err error
		calls, err = o.agent.SelectTools(ctx, query, schemas, history)
		if err != nil {
			o.logger.Warn("Tool selection failed", "error", err)
			resp.Output = fmt.Sprintf("🤔 I could not map that to an operation: %v", err)
			return resp
		}
	}
	resp.ToolCalls = calls

	// Safety gate.
	if o.confirmGate && !req.Approved {
		var reports []safety.Report
		dangerous := false
		for _, call := range calls {
			r := safety.Classify(call.Name)
			reports = append(reports, r)
			dangerous = dangerous || r.Dangerous
		}
		if dangerous {
			o.setPending(sess.ID, calls)
			resp.Confirmation = safety.ConfirmationPrompt(reports)
			for i, r := range reports {
				if r.Dangerous {
					resp.ConfirmationRequest = &ConfirmationRequest{
						Tool:      calls[i].Name,
						Arguments: calls[i].Arguments,
						Risk:      r,
					}
					break
				}
			}
			resp.Output = resp.Confirmation
			return resp
		}
	}

	results := o.execute(ctx, calls)
	resp.Output = o.render(ctx, query, calls, results)
	resp.Disambiguation, resp.DisambiguationOptions = o.disambiguate(calls, results)
	if resp.Disambiguation != "" {
		resp.Output += "\n\n" + resp.Disambiguation
	}

	o.commit(ctx, sess.ID, query, resp, scope, backends)
	return resp
}

// execute runs the calls concurrently and returns results in input order.
func (o *Orchestrator) execute(ctx context.Context, calls []tools.Call) []*tools.Result {
	results := make([]*tools.Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			d := o.registry.Find(call.Name)
			if d == nil {
				results[i] = tools.Errorf("unknown tool %q", call.Name)
				return nil
			}
			results[i] = d.Execute(gctx, call.Arguments)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures live in the results
	return results
}

// render formats all results and appends the expert summary on analytical
// multi-tool answers.
func (o *Orchestrator) render(ctx context.Context, query string, calls []tools.Call, results []*tools.Result) string {
	parts := make([]string, len(results))
	for i, res := range results {
		parts[i] = o.formatter.Format(ctx, calls[i].Name, res)
	}
	out := strings.Join(parts, "\n\n")

	if o.summarize != nil && len(results) > 1 && allSucceeded(results) {
		payload, err := json.Marshal(results)
		if err == nil {
			if opinion, serr := o.summarize.Summarize(ctx, query, string(payload)); serr == nil && opinion != "" {
				out += "\n\n💡 **Expert Opinion**: " + opinion
			}
		}
	}
	return out
}

// disambiguate suggests the right location when a targeted resource was not
// found where the query looked but the pulse index knows it elsewhere. The
// alternatives come back both rendered and as numbered options.
func (o *Orchestrator) disambiguate(calls []tools.Call, results []*tools.Result) (string, []DisambiguationOption) {
	if o.locate == nil {
		return "", nil
	}
	for i, res := range results {
		if res.Success || !strings.Contains(strings.ToLower(res.Error), "not found") {
			continue
		}
		name, _ := calls[i].Arguments["pod_name"].(string)
		if name == "" {
			continue
		}
		locs := o.locate("pods", name)
		if len(locs) == 0 {
			continue
		}
		options := make([]DisambiguationOption, len(locs))
		var b strings.Builder
		fmt.Fprintf(&b, "🤔 Pod '%s' was not found there, but it exists elsewhere:\n", name)
		for j, loc := range locs {
			options[j] = DisambiguationOption{
				Option:    j + 1,
				Resource:  name,
				Namespace: loc.Namespace,
				Backend:   loc.Backend,
			}
			fmt.Fprintf(&b, "%d. namespace '%s' on %s\n", j+1, loc.Namespace, loc.Backend)
		}
		b.WriteString("Did you mean one of these?")
		return b.String(), options
	}
	return "", nil
}

// commit records the finished turn: history, sticky backend, cache insert.
func (o *Orchestrator) commit(ctx context.Context, sessionID, query string, resp *Response, scope string, backends []string) {
	if err := o.sessions.Append(sessionID, session.RoleUser, query); err != nil {
		o.logger.Warn("Could not record user turn", "error", err)
	}
	if err := o.sessions.Append(sessionID, session.RoleAssistant, resp.Output); err != nil {
		o.logger.Warn("Could not record assistant turn", "error", err)
	}

	if len(resp.ToolCalls) > 0 {
		o.sessions.UpdateLastBackend(sessionID, tools.Backend(resp.ToolCalls[0].Name))
	} else if len(backends) == 1 {
		o.sessions.UpdateLastBackend(sessionID, backends[0])
	}

	if !resp.Cached && resp.Confirmation == "" && resp.Disambiguation == "" {
		o.cache.Add(ctx, query, resp.Output, resp.ToolCalls, scope)
	}
}

func (o *Orchestrator) setPending(sessionID string, calls []tools.Call) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	o.pending[sessionID] = calls
}

func (o *Orchestrator) takePending(sessionID string) []tools.Call {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	calls := o.pending[sessionID]
	delete(o.pending, sessionID)
	return calls
}

func allSucceeded(results []*tools.Result) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

func historyMessages(msgs []session.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
