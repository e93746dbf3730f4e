package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"egg/internal/agentlog"
	"egg/internal/appinfo"
)

// Server is one connected MCP server and the tools it offered at connect time.
type Server struct {
	Config  ServerConfig
	Session *mcp.ClientSession
	Tools   []*mcp.Tool
}

func (s *Server) Close() error {
	if s == nil || s.Session == nil {
		return nil
	}
	return s.Session.Close()
}

func (s *Server) name() string {
	if s == nil || strings.TrimSpace(s.Config.Name) == "" {
		return "(unknown)"
	}
	return strings.TrimSpace(s.Config.Name)
}

// ConnectServers dials every enabled server. A server that cannot be reached
// is left out and its error is joined into the returned error, so callers get
// every server that did connect.
func ConnectServers(ctx context.Context, configs []ServerConfig, log *agentlog.Logger) ([]*Server, error) {
	if len(configs) == 0 {
		return nil, nil
	}
	client := mcp.NewClient(&mcp.Implementation{Name: appinfo.Name, Version: appinfo.Version}, nil)

	var (
		servers []*Server
		errs    []error
	)
	names := make(map[string]bool)
	for _, cfg := range configs {
		if cfg.Disabled {
			continue
		}
		if err := cfg.validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		name := strings.TrimSpace(cfg.Name)
		if names[name] {
			errs = append(errs, fmt.Errorf("duplicate server name: %s", name))
			continue
		}
		names[name] = true

		server, err := dial(ctx, client, cfg)
		if err != nil {
			log.Logf(agentlog.KindWarn, "mcp: %s: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		log.Logf(agentlog.KindInfo, "mcp: connected %s (%d tools)", name, len(server.Tools))
		servers = append(servers, server)
	}
	if len(errs) > 0 {
		return servers, fmt.Errorf("mcp: %w", errors.Join(errs...))
	}
	return servers, nil
}

func dial(ctx context.Context, client *mcp.Client, cfg ServerConfig) (*Server, error) {
	transport, err := cfg.transport()
	if err != nil {
		return nil, err
	}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	var list []*mcp.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("list tools: %w", err)
		}
		list = append(list, tool)
	}
	return &Server{Config: cfg, Session: session, Tools: list}, nil
}

// CloseServers closes every session and reports the ones that failed by name.
func CloseServers(servers []*Server) error {
	var errs []error
	for _, server := range servers {
		if server == nil {
			continue
		}
		if err := server.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server.name(), err))
		}
	}
	return errors.Join(errs...)
}

func (c ServerConfig) transport() (mcp.Transport, error) {
	switch kind := strings.ToLower(strings.TrimSpace(c.Transport)); kind {
	case "", "command", "stdio":
		if strings.TrimSpace(c.Command) == "" {
			return nil, errors.New("command is required for command transport")
		}
		cmd := exec.Command(c.Command, c.Args...)
		cmd.Dir = strings.TrimSpace(c.Dir)
		cmd.Env = c.commandEnv()
		return &mcp.CommandTransport{Command: cmd}, nil
	case "sse", "streamable_http", "streamable", "http":
		if strings.TrimSpace(c.URL) == "" {
			return nil, fmt.Errorf("url is required for %s transport", kind)
		}
		if kind == "sse" {
			return &mcp.SSEClientTransport{Endpoint: c.URL, HTTPClient: c.httpClient()}, nil
		}
		return &mcp.StreamableClientTransport{Endpoint: c.URL, HTTPClient: c.httpClient()}, nil
	default:
		return nil, fmt.Errorf("unsupported transport: %s", c.Transport)
	}
}

// commandEnv is the environment of a command server. The result is never nil
// so an empty list does not fall back to the parent environment.
func (c ServerConfig) commandEnv() []string {
	env := []string{}
	if c.inheritEnv() {
		env = os.Environ()
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

// httpClient returns nil, meaning the SDK default, when no headers are set.
func (c ServerConfig) httpClient() *http.Client {
	if len(c.Headers) == 0 {
		return nil
	}
	return &http.Client{Transport: withHeaders(http.DefaultTransport, c.Headers)}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// withHeaders adds the configured headers to requests that do not set them.
func withHeaders(base http.RoundTripper, headers map[string]string) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		req = req.Clone(req.Context())
		for k, v := range headers {
			if strings.TrimSpace(k) != "" && req.Header.Get(k) == "" {
				req.Header.Set(k, v)
			}
		}
		return base.RoundTrip(req)
	})
}
