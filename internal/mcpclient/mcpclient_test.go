package mcpclient

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestMakeLocalToolName(t *testing.T) {
	cases := []struct {
		server, tool, want string
	}{
		{"files", "read", "files__read"},
		{"my server", "do.thing", "my_server__do_thing"},
		{"", "solo", "solo"},
		{"srv", "", "srv"},
		{"", "", ""},
	}
	for _, tc := range cases {
		if got := makeLocalToolName(tc.server, tc.tool); got != tc.want {
			t.Fatalf("makeLocalToolName(%q, %q) = %q, want %q", tc.server, tc.tool, got, tc.want)
		}
	}
}

func TestToolsFromServersRejectsDuplicates(t *testing.T) {
	servers := []*Server{{
		Config: ServerConfig{Name: "s"},
		Tools:  []*mcp.Tool{{Name: "a b"}, {Name: "a_b"}, {Name: "c", Description: "does c"}},
	}}
	tools, err := ToolsFromServers(servers)
	if err == nil || !strings.Contains(err.Error(), "duplicate tool name: s__a_b") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	def := tools[1].Definition()
	if def.Function.Name != "s__c" || def.Function.Description != "[MCP:s] does c" {
		t.Fatalf("unexpected definition %+v", def)
	}
	if tools[0].InputSchema == nil {
		t.Fatalf("missing default input schema")
	}
}

func TestFormatResult(t *testing.T) {
	text, err := formatResult(&mcp.CallToolResult{Content: []mcp.Content{
		&mcp.TextContent{Text: "one"},
		&mcp.TextContent{Text: "two"},
	}})
	if err != nil || text != "one\ntwo" {
		t.Fatalf("unexpected text result %q, %v", text, err)
	}

	_, err = formatResult(&mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: "bad input"}}})
	if err == nil || err.Error() != "bad input" {
		t.Fatalf("expected tool error, got %v", err)
	}

	text, err = formatResult(&mcp.CallToolResult{StructuredContent: map[string]any{"n": 1}})
	if err != nil || !strings.Contains(text, `"n":1`) {
		t.Fatalf("expected JSON result, got %q, %v", text, err)
	}
}

func TestServerTransportValidation(t *testing.T) {
	cases := []ServerConfig{
		{Name: "a", Transport: "command"},
		{Name: "b", Transport: "sse"},
		{Name: "c", Transport: "streamable_http"},
		{Name: "d", Transport: "carrier-pigeon"},
	}
	for _, cfg := range cases {
		if _, err := cfg.transport(); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
	tr, err := ServerConfig{Name: "e", Command: "echo", Env: map[string]string{"B": "2", "A": "1"}, InheritEnv: new(bool)}.transport()
	if err != nil {
		t.Fatalf("transport failed: %v", err)
	}
	cmd := tr.(*mcp.CommandTransport).Command
	if len(cmd.Env) != 2 || cmd.Env[0] != "A=1" || cmd.Env[1] != "B=2" {
		t.Fatalf("unexpected env %v", cmd.Env)
	}
}

func TestRuntimeWithoutServers(t *testing.T) {
	rt := NewRuntime([]ServerConfig{{Name: "off", Disabled: true}}, nil)
	report, err := rt.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if report.Servers != 0 || len(rt.Tools()) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestHeadersAreAddedWithoutOverriding(t *testing.T) {
	var seen http.Header
	base := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		seen = req.Header
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
	})
	rt := withHeaders(base, map[string]string{"Authorization": "Bearer cfg", "X-Team": "egg", " ": "skip"})

	req, err := http.NewRequest(http.MethodGet, "http://mcp.invalid/", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer caller")
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	if seen.Get("Authorization") != "Bearer caller" || seen.Get("X-Team") != "egg" {
		t.Fatalf("unexpected headers %v", seen)
	}
	if req.Header.Get("X-Team") != "" {
		t.Fatalf("caller's request must not be modified")
	}
	if (ServerConfig{}).httpClient() != nil {
		t.Fatalf("no headers should keep the default client")
	}
}

func TestConnectServersReportsBadConfigs(t *testing.T) {
	servers, err := ConnectServers(context.Background(), []ServerConfig{
		{Name: ""},
		{Name: "off", Disabled: true},
		{Name: "web", Transport: "sse"},
	}, nil)
	if len(servers) != 0 || err == nil {
		t.Fatalf("expected only errors, got %v, %v", servers, err)
	}
	for _, want := range []string{"server name is required", "web: url is required for sse transport"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}
