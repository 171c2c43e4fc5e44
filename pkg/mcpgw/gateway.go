// Package mcpgw is the kernel's client for the external MCP tool
// worker. The transport is treated as unreliable: failures come back as
// Result{Success: false}, never as a panic through the kernel.
package mcpgw

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/swarmhq/swarmd/pkg/logger"
)

// Result is the structured outcome of a tool invocation.
type Result struct {
	Success bool           `json:"success"`
	Output  string         `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Gateway invokes a named external tool on behalf of a swarm agent.
// Idempotency is the caller's responsibility.
type Gateway interface {
	Invoke(ctx context.Context, tool string, args map[string]any, swarmID, agentID string) (Result, error)
}

// headerTransport injects the bearer credential into every outgoing
// request.
type headerTransport struct {
	credential string
	base       http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.credential != "" {
		req.Header.Set("Authorization", "Bearer "+t.credential)
	}
	return t.base.RoundTrip(req)
}

// Client speaks MCP over streamable HTTP to the tool worker.
type Client struct {
	endpoint string
	client   *mcp.Client
	http     *http.Client
	timeout  time.Duration
}

// NewClient builds a gateway client for the given worker endpoint.
func NewClient(endpoint, credential string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		timeout:  timeout,
		http: &http.Client{
			Transport: &headerTransport{credential: credential, base: http.DefaultTransport},
		},
		client: mcp.NewClient(&mcp.Implementation{
			Name:    "swarmd",
			Version: "v0.1.0",
		}, nil),
	}
}

// Invoke calls the named tool. Transport failures are reported inside
// the Result; the error return is reserved for misuse (empty tool name).
func (c *Client) Invoke(ctx context.Context, tool string, args map[string]any, swarmID, agentID string) (Result, error) {
	if strings.TrimSpace(tool) == "" {
		return Result{}, fmt.Errorf("mcpgw: tool name is required")
	}
	if c.endpoint == "" {
		return Result{Success: false, Error: "mcp gateway not configured"}, nil
	}

	callCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if args == nil {
		args = map[string]any{}
	}
	args["swarm_id"] = swarmID
	args["agent_id"] = agentID

	session, err := c.client.Connect(callCtx, &mcp.StreamableClientTransport{
		Endpoint:   c.endpoint,
		HTTPClient: c.http,
	}, nil)
	if err != nil {
		logger.WarnCF("mcpgw", "MCP connect failed", map[string]any{
			"endpoint": c.endpoint,
			"error":    err.Error(),
		})
		return Result{Success: false, Error: fmt.Sprintf("connect: %v", err)}, nil
	}
	defer session.Close()

	result, err := session.CallTool(callCtx, &mcp.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("call %s: %v", tool, err)}, nil
	}

	output := flattenContent(result)
	if result.IsError {
		return Result{Success: false, Error: output}, nil
	}
	return Result{Success: true, Output: output}, nil
}

func flattenContent(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
