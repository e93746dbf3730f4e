package tools

import (
	"context"
	"encoding/json"
	"errors"

	"egg/internal/llm"
)

// MCPReloadTool reconnects the configured MCP servers and swaps their tools
// in the registry.
type MCPReloadTool struct {
	Reload func(ctx context.Context) (string, error)
}

func (t *MCPReloadTool) Definition() llm.ToolDefinition {
	return function("mcp_reload",
		"Reconnect the configured MCP servers and refresh their tools without restarting egg.",
		objectSchema(nil, map[string]interface{}{}))
}

func (t *MCPReloadTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if len(args) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(args, &payload); err != nil {
			return "", err
		}
	}
	if t.Reload == nil {
		return "", errors.New("mcp reload is not configured")
	}
	return t.Reload(ctx)
}
