package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/tools"
)

// HomeAssistantServer is the client name used for Home Assistant's own
// MCP server, so its tools are named mcp_homeassistant_<tool>.
const HomeAssistantServer = "homeassistant"

var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

// Registrar accepts bridged tools.
type Registrar interface {
	Register(t *tools.Tool)
}

// Connect initializes an MCP client for the endpoint path on a Home
// Assistant instance, authenticating with the long-lived access token.
func Connect(ctx context.Context, baseURL, endpoint, token string, logger *slog.Logger) (*Client, error) {
	u, err := url.JoinPath(baseURL, endpoint)
	if err != nil {
		return nil, fmt.Errorf("mcp endpoint: %w", err)
	}
	client := NewClient(HomeAssistantServer, NewHTTPTransport(u, token, logger), logger)
	if err := client.Initialize(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// BridgeTools registers every tool of client on registry as
// mcp_<server>_<tool> and returns how many were registered.
func BridgeTools(ctx context.Context, client *Client, registry Registrar, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defs, err := client.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tools from %s: %w", client.Name(), err)
	}

	for _, td := range defs {
		name := ToolName(client.Name(), td.Name)
		registry.Register(bridgeTool(client, name, td))
		logger.Debug("bridged MCP tool", "mcp_name", td.Name, "name", name)
	}
	return len(defs), nil
}

// ToolName returns mcp_<server>_<tool> with both parts reduced to
// lowercase letters, digits and single underscores.
func ToolName(serverName, toolName string) string {
	return fmt.Sprintf("mcp_%s_%s", sanitize(serverName), sanitize(toolName))
}

func bridgeTool(client *Client, name string, td ToolDefinition) *tools.Tool {
	params := td.InputSchema
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	mcpName := td.Name
	return &tools.Tool{
		Name:        name,
		Description: td.Description,
		Parameters:  params,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return client.CallTool(ctx, mcpName, args)
		},
	}
}

func sanitize(name string) string {
	s := sanitizeRe.ReplaceAllString(strings.ToLower(name), "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}
