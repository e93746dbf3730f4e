package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"egg/internal/llm"
)

// Tool exposes one remote MCP tool under a local name of the form server__tool.
type Tool struct {
	Server      string
	LocalName   string
	RemoteName  string
	Description string
	InputSchema any

	session *mcp.ClientSession
}

func ToolsFromServers(servers []*Server) ([]*Tool, error) {
	var (
		out  []*Tool
		errs []string
	)
	used := make(map[string]bool)
	for _, server := range servers {
		if server == nil {
			continue
		}
		serverName := strings.TrimSpace(server.Config.Name)
		for _, remote := range server.Tools {
			if remote == nil {
				continue
			}
			local := makeLocalToolName(serverName, remote.Name)
			switch {
			case local == "":
				errs = append(errs, fmt.Sprintf("%s: tool name is empty", serverName))
				continue
			case used[local]:
				errs = append(errs, fmt.Sprintf("duplicate tool name: %s", local))
				continue
			}
			used[local] = true
			out = append(out, newTool(serverName, local, remote, server.Session))
		}
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("mcp: %s", strings.Join(errs, "; "))
	}
	return out, nil
}

func newTool(server, local string, remote *mcp.Tool, session *mcp.ClientSession) *Tool {
	desc := strings.TrimSpace(remote.Description)
	if desc == "" {
		desc = "MCP tool from " + server
	} else {
		desc = fmt.Sprintf("[MCP:%s] %s", server, desc)
	}
	var schema any = map[string]any{"type": "object", "properties": map[string]any{}}
	if remote.InputSchema != nil {
		schema = remote.InputSchema
	}
	return &Tool{
		Server:      server,
		LocalName:   local,
		RemoteName:  remote.Name,
		Description: desc,
		InputSchema: schema,
		session:     session,
	}
}

func (t *Tool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        t.LocalName,
			Description: t.Description,
			Parameters:  t.InputSchema,
		},
	}
}

func (t *Tool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if t.session == nil {
		return "", fmt.Errorf("mcp tool %s is not connected", t.LocalName)
	}
	var parsed map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return "", err
		}
	}
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.RemoteName,
		Arguments: parsed,
	})
	if err != nil {
		return "", err
	}
	return formatResult(res)
}

// formatResult flattens text-only results and falls back to JSON for anything
// structured. A result flagged as an error is returned as a Go error.
func formatResult(res *mcp.CallToolResult) (string, error) {
	if res == nil {
		return "", nil
	}
	var text string
	if res.StructuredContent == nil && textOnly(res.Content) {
		text = joinText(res.Content)
	} else {
		data, err := json.Marshal(res)
		if err != nil {
			return "", err
		}
		text = string(data)
	}
	if res.IsError {
		if strings.TrimSpace(text) == "" {
			text = "mcp tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

func textOnly(content []mcp.Content) bool {
	for _, item := range content {
		if _, ok := item.(*mcp.TextContent); !ok {
			return false
		}
	}
	return true
}

func joinText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		if text, ok := item.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func makeLocalToolName(server, tool string) string {
	s, t := sanitizeName(server), sanitizeName(tool)
	switch {
	case s == "":
		return t
	case t == "":
		return s
	default:
		return s + "__" + t
	}
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
