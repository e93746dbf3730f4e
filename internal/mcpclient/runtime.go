package mcpclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"egg/internal/agentlog"
)

// Runtime owns the live MCP sessions of one agent process.
type Runtime struct {
	configs []ServerConfig
	log     *agentlog.Logger

	mu      sync.RWMutex
	servers []*Server
	tools   []*Tool
}

type ReloadReport struct {
	Servers  int
	Tools    int
	Warnings []string
}

func NewRuntime(configs []ServerConfig, log *agentlog.Logger) *Runtime {
	return &Runtime{configs: append([]ServerConfig(nil), configs...), log: log}
}

// Reload reconnects every configured server and swaps in the new tool set.
// Partial failures are reported as warnings; it only fails when servers are
// configured and none connect.
func (r *Runtime) Reload(ctx context.Context) (ReloadReport, error) {
	var report ReloadReport
	enabled := 0
	for _, cfg := range r.configs {
		if !cfg.Disabled {
			enabled++
		}
	}

	servers, connectErr := ConnectServers(ctx, r.configs, r.log)
	tools, toolsErr := ToolsFromServers(servers)
	if enabled > 0 && len(servers) == 0 {
		if connectErr != nil {
			return report, fmt.Errorf("mcp: no servers connected (%v)", connectErr)
		}
		return report, fmt.Errorf("mcp: no servers connected")
	}
	for _, err := range []error{connectErr, toolsErr} {
		if err != nil {
			report.Warnings = append(report.Warnings, err.Error())
		}
	}

	r.mu.Lock()
	old := r.servers
	r.servers, r.tools = servers, tools
	r.mu.Unlock()

	if err := CloseServers(old); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("close previous sessions: %v", err))
	}
	report.Servers = len(servers)
	report.Tools = len(tools)
	return report, nil
}

func (r *Runtime) Tools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Tool(nil), r.tools...)
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	old := r.servers
	r.servers, r.tools = nil, nil
	r.mu.Unlock()
	return CloseServers(old)
}

func (r ReloadReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mcp: servers=%d tools=%d", r.Servers, r.Tools)
	for _, warn := range r.Warnings {
		b.WriteString("\n- ")
		b.WriteString(warn)
	}
	return b.String()
}
