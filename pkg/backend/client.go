// Package backend implements the JSON-RPC 2.0 client used to execute tools
// on the backend servers (Docker daemon bridge, local and remote Kubernetes
// bridges). A single shared HTTP client with a keep-alive pool serves all
// backends; per-backend circuit breakers stop hammering endpoints that are
// down.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codeready-toolchain/dispatch/pkg/config"
	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// Connection pool sizing. Parallel tool calls plus the background pulse
// probes stay well under 20 in-flight requests.
const (
	maxIdleConns = 10
	maxConns     = 20
)

// Sentinel errors for transport-level failures.
var (
	ErrConnect   = errors.New("cannot connect to backend server")
	ErrTimeout   = errors.New("backend request timed out")
	ErrCancelled = errors.New("backend request cancelled")
)

// rpcRequest is the JSON-RPC 2.0 envelope sent to backend servers.
type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      int            `json:"id"`
}

// rpcResponse is the JSON-RPC 2.0 envelope returned by backend servers.
// Either Result or Error is set.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  map[string]any  `json:"result"`
	Error   json.RawMessage `json:"error"`
	ID      int             `json:"id"`
}

// Client dispatches tool calls to the backend selected by tool-name prefix.
// Safe for concurrent use; the underlying http.Client pools connections.
type Client struct {
	http     *http.Client
	cfg      config.BackendConfig
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// Compile-time check that Client satisfies the tools.Invoker contract.
var _ tools.Invoker = (*Client)(nil)

// NewClient creates the shared backend client.
func NewClient(cfg config.BackendConfig) *Client {
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		MaxConnsPerHost:     maxConns,
		IdleConnTimeout:     30 * time.Second,
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		http:     &http.Client{Transport: transport, Timeout: timeout},
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(tools.AllBackends)),
		logger:   slog.Default(),
	}
	for _, id := range tools.AllBackends {
		id := id
		c.breakers[id] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        id,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// A user interrupt says nothing about backend health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrCancelled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("Backend circuit state changed",
					"backend", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// URLFor returns the endpoint serving the given tool. The chat sentinel is
// served by the docker endpoint by convention.
func (c *Client) URLFor(toolName string) string {
	switch tools.Backend(toolName) {
	case tools.BackendK8sLocal:
		return c.cfg.LocalK8sURL()
	case tools.BackendK8sRemote:
		return c.cfg.RemoteK8sURL()
	default:
		return c.cfg.DockerURL()
	}
}

// Call executes a tool on its backend and maps every failure mode into a
// tools.Result; it never returns a Go error to keep per-call failures local
// to the call.
func (c *Client) Call(ctx context.Context, toolName string, args map[string]any) *tools.Result {
	backendID := tools.Backend(toolName)
	breaker := c.breakers[backendID]

	out, err := breaker.Execute(func() (any, error) {
		return c.post(ctx, toolName, args)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return tools.Errorf("backend %q is unavailable (circuit open), skipping call", backendID)
		case errors.Is(err, ErrCancelled):
			return tools.Errorf("Request to %s was cancelled", c.URLFor(toolName))
		case errors.Is(err, ErrTimeout):
			return tools.Errorf("Request to %s timed out", c.URLFor(toolName))
		case errors.Is(err, ErrConnect):
			return tools.Errorf("Cannot connect to backend server at %s. Is it running?", c.URLFor(toolName))
		default:
			return tools.Errorf("backend call failed: %s", err)
		}
	}
	return out.(*tools.Result)
}

// post performs one JSON-RPC round-trip. Transport failures return an error
// (which trips the breaker); protocol-level failures return a failed Result
// with a nil error (the backend is alive, the tool just failed).
func (c *Client) post(ctx context.Context, toolName string, args map[string]any) (*tools.Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  toolName,
		Params:  args,
		ID:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request for %q: %w", toolName, err)
	}

	url := c.URLFor(toolName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request for %q: %w", toolName, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %q: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &tools.Result{
			Success:    false,
			Error:      fmt.Sprintf("backend returned HTTP %d", resp.StatusCode),
			RawError:   json.RawMessage(body),
			StatusCode: resp.StatusCode,
		}, nil
	}

	var rpc rpcResponse
	if err := json.Unmarshal(body, &rpc); err != nil {
		return &tools.Result{
			Success:  false,
			Error:    fmt.Sprintf("invalid JSON-RPC response from %s", url),
			RawError: json.RawMessage(body),
		}, nil
	}

	if len(rpc.Error) > 0 && string(rpc.Error) != "null" {
		return &tools.Result{
			Success:  false,
			Error:    summarizeRPCError(rpc.Error),
			RawError: rpc.Error,
		}, nil
	}

	if rpc.Result == nil {
		return &tools.Result{Success: false, Error: "No result returned"}, nil
	}

	// Tool-level failure: result.success == false with error details inline.
	if success, ok := rpc.Result["success"].(bool); ok && !success {
		res := &tools.Result{Success: false, Payload: rpc.Result}
		if msg, ok := rpc.Result["error"].(string); ok {
			res.Error = msg
		} else {
			res.Error = "tool reported failure"
		}
		if raw, ok := rpc.Result["raw_error"]; ok {
			if data, err := json.Marshal(raw); err == nil {
				res.RawError = data
			}
		}
		if code, ok := rpc.Result["status_code"].(float64); ok {
			res.StatusCode = int(code)
		}
		return res, nil
	}

	return &tools.Result{Success: true, Payload: rpc.Result}, nil
}

// classifyTransportError maps cancellation, connect and timeout failures to
// distinct sentinel errors so callers can show precise messages. Cancellation
// is checked first: a canceled request is not a backend problem.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s", ErrCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %s", ErrConnect, err)
	}
	// url.Error wrapping "connection refused" and friends.
	return fmt.Errorf("%w: %s", ErrConnect, err)
}

// summarizeRPCError extracts a short message from a JSON-RPC error object.
func summarizeRPCError(raw json.RawMessage) string {
	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return string(raw)
}
