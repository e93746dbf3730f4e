package mcpclient

import (
	"errors"
	"strings"
)

// ServerConfig describes one MCP server whose tools are offered to the model.
type ServerConfig struct {
	Name       string            `json:"name" yaml:"name" toml:"name"`
	Transport  string            `json:"transport" yaml:"transport" toml:"transport"`
	Command    string            `json:"command" yaml:"command" toml:"command"`
	Args       []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Dir        string            `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir,omitempty"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	InheritEnv *bool             `json:"inherit_env,omitempty" yaml:"inherit_env,omitempty" toml:"inherit_env,omitempty"`
	URL        string            `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`
	Disabled   bool              `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled,omitempty"`
}

func (c ServerConfig) inheritEnv() bool {
	return c.InheritEnv == nil || *c.InheritEnv
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("server name is required")
	}
	return nil
}
