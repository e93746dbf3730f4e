// Package config loads egg's settings from egg.json, egg.yaml or egg.toml.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"egg/internal/mcpclient"
)

const (
	MultiplexerTmux = "tmux"
	MultiplexerNone = "none"
)

type Config struct {
	Root             string `json:"root" yaml:"root" toml:"root"`
	GlobalDir        string `json:"global_dir" yaml:"global_dir" toml:"global_dir"`
	ChatsDir         string `json:"chats_dir" yaml:"chats_dir" toml:"chats_dir"`
	SystemPromptFile string `json:"system_prompt_file" yaml:"system_prompt_file" toml:"system_prompt_file"`

	ToolTimeoutSeconds int   `json:"tool_timeout_seconds" yaml:"tool_timeout_seconds" toml:"tool_timeout_seconds"`
	OutputMaxLines     int   `json:"output_max_lines" yaml:"output_max_lines" toml:"output_max_lines"`
	WaitPollMs         int   `json:"wait_poll_ms" yaml:"wait_poll_ms" toml:"wait_poll_ms"`
	LivenessCheck      *bool `json:"liveness_check" yaml:"liveness_check" toml:"liveness_check"`

	Multiplexer string `json:"multiplexer" yaml:"multiplexer" toml:"multiplexer"`
	LogFile     string `json:"log_file" yaml:"log_file" toml:"log_file"`

	DefaultModel string                    `json:"default_model" yaml:"default_model" toml:"default_model"`
	Providers    map[string]ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`

	MCPServers []mcpclient.ServerConfig `json:"mcp_servers" yaml:"mcp_servers" toml:"mcp_servers"`

	// Path is the file the config was read from, empty when defaults were used.
	Path string `json:"-" yaml:"-" toml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Root:               ".egg",
		ChatsDir:           "localChats",
		ToolTimeoutSeconds: 60,
		OutputMaxLines:     400,
		WaitPollMs:         1000,
		Multiplexer:        MultiplexerTmux,
	}
}

func (c Config) WithDefaults() Config {
	out := c
	def := DefaultConfig()
	if strings.TrimSpace(out.Root) == "" {
		out.Root = def.Root
	}
	if strings.TrimSpace(out.GlobalDir) == "" {
		out.GlobalDir = filepath.Join(out.Root, "global_commands")
	}
	if strings.TrimSpace(out.ChatsDir) == "" {
		out.ChatsDir = def.ChatsDir
	}
	if out.ToolTimeoutSeconds <= 0 {
		out.ToolTimeoutSeconds = def.ToolTimeoutSeconds
	}
	if out.OutputMaxLines <= 0 {
		out.OutputMaxLines = def.OutputMaxLines
	}
	if out.WaitPollMs <= 0 {
		out.WaitPollMs = def.WaitPollMs
	}
	if out.LivenessCheck == nil {
		v := true
		out.LivenessCheck = &v
	}
	out.Multiplexer = strings.ToLower(strings.TrimSpace(out.Multiplexer))
	if out.Multiplexer == "" {
		out.Multiplexer = def.Multiplexer
	}
	if len(out.Providers) == 0 {
		out.Providers = defaultProviders()
		if strings.TrimSpace(out.DefaultModel) == "" {
			out.DefaultModel = "GPT-4o"
		}
	}
	return out
}

// Liveness reports whether waits should notice children that died without a result.
func (c Config) Liveness() bool {
	return c.LivenessCheck == nil || *c.LivenessCheck
}

// ApplyEnv overlays EGG_ROOT, EGG_MODEL and EGG_MULTIPLEXER.
func (c Config) ApplyEnv(getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	out := c
	if v := strings.TrimSpace(getenv("EGG_ROOT")); v != "" {
		out.Root = v
	}
	if v := strings.TrimSpace(getenv("EGG_MODEL")); v != "" {
		out.DefaultModel = v
	}
	if v := strings.TrimSpace(getenv("EGG_MULTIPLEXER")); v != "" {
		out.Multiplexer = strings.ToLower(v)
	}
	return out
}

var candidateNames = []string{"egg.json", "egg.yaml", "egg.yml", "egg.toml"}

// Find returns the first existing config path in search order: explicit path,
// $EGG_CONFIG, the working directory, then the user config directory.
func Find(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("EGG_CONFIG")); p != "" {
		return p
	}
	dirs := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "egg"))
	}
	for _, dir := range dirs {
		for _, name := range candidateNames {
			p := filepath.Join(dir, name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p
			}
		}
	}
	return ""
}

// Load reads path (or the first found config) and applies defaults and env.
// A missing file yields defaults.
func Load(path string) (Config, error) {
	resolved := Find(path)
	if resolved == "" {
		return DefaultConfig().ApplyEnv(nil).WithDefaults(), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && strings.TrimSpace(path) == "" {
			return DefaultConfig().ApplyEnv(nil).WithDefaults(), nil
		}
		return Config{}, err
	}
	cfg, err := Decode(resolved, data)
	if err != nil {
		return Config{}, err
	}
	cfg.Path = resolved
	return cfg.ApplyEnv(nil).WithDefaults(), nil
}

// Decode parses data in the format implied by the file extension of name.
func Decode(name string, data []byte) (Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format: %s", name)
	}
	return cfg, nil
}

// ReadSystemPrompt returns the configured system prompt or a built-in default.
func (c Config) ReadSystemPrompt() (string, error) {
	path := strings.TrimSpace(c.SystemPromptFile)
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSystemPrompt, fmt.Errorf("read system prompt: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return DefaultSystemPrompt, nil
	}
	return text, nil
}

const DefaultSystemPrompt = `You are egg, a terminal assistant that works inside the user's project.
You can run shell and python scripts, edit files and search the tree.
For a self-contained sub-task call pushContext, and finish it with popContext and a short return_value.
For work that can run in parallel, call spawn_agent for each piece and wait_agents to collect the results.
When a conversation reaches a natural end, include a short <summary>...</summary> tag naming it.`
