// Package sandbox provides the protocol client for the remote
// sandbox-control service. The service exposes container lifecycle
// primitives as MCP tools; this client wraps the five the orchestrator
// needs. No retry happens at this layer.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Session describes a sandbox container session.
type Session struct {
	Name         string   `json:"name"`
	Image        string   `json:"image"`
	Dependencies []string `json:"dependencies,omitempty"`
	State        string   `json:"state"`
}

// ExecResult is the captured outcome of a script execution.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// ControlPlane is the sandbox operation set the dispatcher depends on.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: every call must honor cancellation and deadlines.
// - Cleanup must be idempotent: cleaning an already-removed session succeeds.
type ControlPlane interface {
	ListSessions(ctx context.Context, includeStopped bool) ([]Session, error)
	CreateSession(ctx context.Context, image, name string, deps []string) (Session, error)
	AddDependencies(ctx context.Context, name string, deps []string) error
	ExecuteScript(ctx context.Context, name, script string, args []string) (ExecResult, error)
	Cleanup(ctx context.Context, name string) error
}

// Config configures a sandbox client.
type Config struct {
	// Endpoint is the URL of the sandbox MCP server.
	Endpoint string

	// Token is an optional bearer token for the sandbox service.
	Token string

	// DefaultImage is used when CreateSession is called with an empty image.
	// Default: python:3.11-slim
	DefaultImage string

	// RequestTimeout bounds each individual call. Default: 120s
	RequestTimeout time.Duration

	// Transport overrides the streamable HTTP transport. Used by tests to
	// connect over in-memory MCP transports.
	Transport mcp.Transport
}

// Client talks to the sandbox-control MCP server. The underlying MCP session
// is established lazily on first use and reused across calls.
type Client struct {
	cfg Config

	mu   sync.Mutex
	sess *mcp.ClientSession
}

var _ ControlPlane = (*Client)(nil)

// New creates a sandbox client with the given configuration.
func New(cfg Config) *Client {
	if cfg.DefaultImage == "" {
		cfg.DefaultImage = "python:3.11-slim"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	return &Client{cfg: cfg}
}

// Close tears down the MCP session if one was established.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	err := c.sess.Close()
	c.sess = nil
	return err
}

func (c *Client) session(ctx context.Context) (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return c.sess, nil
	}

	transport := c.cfg.Transport
	if transport == nil {
		// Calls are bounded per request via context, not at the HTTP client,
		// so long-running executions keep their caller's deadline.
		hc := &http.Client{}
		if c.cfg.Token != "" {
			hc.Transport = &bearerTransport{token: c.cfg.Token, base: http.DefaultTransport}
		}
		transport = &mcp.StreamableClientTransport{
			Endpoint:   c.cfg.Endpoint,
			HTTPClient: hc,
		}
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "atlas-orchestrator", Version: "0.1.0"}, nil)
	sess, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sandbox service at %s: %w", c.cfg.Endpoint, err)
	}
	c.sess = sess
	return sess, nil
}

// bearerTransport injects the Authorization header on every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}

// callTool invokes one remote tool and returns its payload. The bool result
// distinguishes transport failures (false, retryable by callers that choose
// to) from tool-level failures reported by the server (true).
func (c *Client) callTool(ctx context.Context, name string, args map[string]any) (payload string, toolError bool, err error) {
	sess, err := c.session(ctx)
	if err != nil {
		return "", false, err
	}

	// RequestTimeout is a fallback for deadline-less callers; the dispatcher
	// passes its per-job deadline and keeps it.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	res, err := sess.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", false, fmt.Errorf("sandbox call %s failed: %w", name, err)
	}

	text := resultText(res)
	if res.IsError {
		return text, true, fmt.Errorf("sandbox tool %s reported error: %s", name, text)
	}
	return text, false, nil
}

func resultText(res *mcp.CallToolResult) string {
	if res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			return string(data)
		}
	}
	var parts []string
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ListSessions returns the sessions known to the sandbox service.
func (c *Client) ListSessions(ctx context.Context, includeStopped bool) ([]Session, error) {
	payload, _, err := c.callTool(ctx, "list_containers", map[string]any{
		"show_all": includeStopped,
	})
	if err != nil {
		return nil, err
	}

	var sessions []Session
	if err := json.Unmarshal([]byte(payload), &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode session list: %w", err)
	}
	return sessions, nil
}

// CreateSession creates a named container session, optionally installing an
// initial dependency set. Fails with *SessionCreateError on name collision or
// remote failure.
func (c *Client) CreateSession(ctx context.Context, image, name string, deps []string) (Session, error) {
	if image == "" {
		image = c.cfg.DefaultImage
	}
	args := map[string]any{
		"image":          image,
		"container_name": name,
	}
	if len(deps) > 0 {
		args["dependencies"] = strings.Join(deps, " ")
	}

	_, toolError, err := c.callTool(ctx, "create_container", args)
	if err != nil {
		return Session{}, &SessionCreateError{Name: name, Err: err, Transient: !toolError}
	}
	return Session{Name: name, Image: image, Dependencies: deps, State: "running"}, nil
}

// AddDependencies installs additional packages into a running session. The
// remote infers the package manager from the image's ecosystem.
func (c *Client) AddDependencies(ctx context.Context, name string, deps []string) error {
	if len(deps) == 0 {
		return nil
	}
	payload, toolError, err := c.callTool(ctx, "add_dependencies", map[string]any{
		"container_name": name,
		"dependencies":   strings.Join(deps, " "),
	})
	if err != nil {
		return &DependencyInstallError{Name: name, InstallLog: payload, Err: err, Transient: !toolError}
	}
	return nil
}

// ExecuteScript runs a script inside the session and returns the captured
// output. A non-zero exit yields *ExecutionError carrying stdout/stderr.
func (c *Client) ExecuteScript(ctx context.Context, name, script string, args []string) (ExecResult, error) {
	callArgs := map[string]any{
		"container_name": name,
		"script_content": script,
	}
	if len(args) > 0 {
		callArgs["script_args"] = args
	}

	payload, toolError, err := c.callTool(ctx, "execute_python_script", callArgs)
	if err != nil && !toolError {
		return ExecResult{}, err
	}

	var result ExecResult
	if jsonErr := json.Unmarshal([]byte(payload), &result); jsonErr != nil {
		if err != nil {
			return ExecResult{}, err
		}
		// Servers without structured output return bare stdout text.
		result = ExecResult{Stdout: payload}
	}
	if toolError && result.ExitCode == 0 {
		result.ExitCode = 1
	}
	if result.ExitCode != 0 {
		return result, &ExecutionError{
			Name:     name,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			ExitCode: result.ExitCode,
		}
	}
	return result, nil
}

// Cleanup removes a session. Idempotent: cleaning up a session the remote no
// longer knows about is a no-op success.
func (c *Client) Cleanup(ctx context.Context, name string) error {
	payload, toolError, err := c.callTool(ctx, "cleanup_container", map[string]any{
		"container_name": name,
	})
	if err != nil {
		if toolError && isNotFound(payload) {
			return nil
		}
		return fmt.Errorf("failed to clean up session %s: %w", name, err)
	}
	return nil
}

func isNotFound(payload string) bool {
	lower := strings.ToLower(payload)
	return strings.Contains(lower, "not found") || strings.Contains(lower, "no such container")
}
