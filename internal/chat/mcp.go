package chat

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/triforce-app/triforce/internal/version"
)

const (
	mcpConnectTimeout = 10 * time.Second
	mcpListTimeout    = 5 * time.Second
)

// MCPToolSource lists tools from a per-user MCP server over SSE. A new
// connection is made per request and always closed; the tool server
// scopes its answers by the userId query parameter.
type MCPToolSource struct {
	baseURL string
}

func NewMCPToolSource(baseURL string) *MCPToolSource {
	return &MCPToolSource{baseURL: baseURL}
}

// userEndpoint appends the userId parameter, preserving any query the
// configured URL already carries.
func userEndpoint(base, userID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("mcp server url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *MCPToolSource) ListTools(ctx context.Context, userID string) ([]Tool, error) {
	endpoint, err := userEndpoint(m.baseURL, userID)
	if err != nil {
		return nil, err
	}

	c, err := client.NewSSEMCPClient(endpoint)
	if err != nil {
		return nil, fmt.Errorf("create mcp client: %w", err)
	}
	defer c.Close()

	connectCtx, cancel := context.WithTimeout(ctx, mcpConnectTimeout)
	defer cancel()
	if err := c.Start(connectCtx); err != nil {
		return nil, fmt.Errorf("connect mcp server: %w", err)
	}

	initReq := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "triforce-server",
				Version: version.Version,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}
	if _, err := c.Initialize(connectCtx, initReq); err != nil {
		return nil, fmt.Errorf("initialize mcp session: %w", err)
	}

	listCtx, cancel := context.WithTimeout(ctx, mcpListTimeout)
	defer cancel()
	result, err := c.ListTools(listCtx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, Tool{Name: t.Name, Description: t.Description})
	}
	return tools, nil
}
