package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"egg/internal/llm"
)

var ErrUnknownModel = errors.New("unknown model")

type ProviderConfig struct {
	Kind      string                 `json:"kind" yaml:"kind" toml:"kind"`
	APIBase   string                 `json:"api_base" yaml:"api_base" toml:"api_base"`
	APIKeyEnv string                 `json:"api_key_env" yaml:"api_key_env" toml:"api_key_env"`
	APIKey    string                 `json:"api_key" yaml:"api_key" toml:"api_key"`
	MaxTokens int                    `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Models    map[string]ModelConfig `json:"models" yaml:"models" toml:"models"`
}

// ModelConfig is either a bare model name or {model_name, alias}.
type ModelConfig struct {
	ModelName string  `json:"model_name" yaml:"model_name" toml:"model_name"`
	Alias     Aliases `json:"alias" yaml:"alias" toml:"alias"`
}

type modelConfigFields ModelConfig

func (m *ModelConfig) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*m = ModelConfig{ModelName: name}
		return nil
	}
	var fields modelConfigFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*m = ModelConfig(fields)
	return nil
}

func (m *ModelConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*m = ModelConfig{ModelName: value.Value}
		return nil
	}
	var fields modelConfigFields
	if err := value.Decode(&fields); err != nil {
		return err
	}
	*m = ModelConfig(fields)
	return nil
}

func (m *ModelConfig) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		*m = ModelConfig{ModelName: v}
		return nil
	case map[string]any:
		out := ModelConfig{}
		if name, ok := v["model_name"].(string); ok {
			out.ModelName = name
		}
		if raw, ok := v["alias"]; ok {
			if err := out.Alias.UnmarshalTOML(raw); err != nil {
				return err
			}
		}
		*m = out
		return nil
	default:
		return fmt.Errorf("model entry must be a string or table, got %T", data)
	}
}

// Aliases accepts a single string or a list of strings.
type Aliases []string

func (a *Aliases) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*a = aliasList(one)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("alias must be a string or a list of strings: %w", err)
	}
	*a = many
	return nil
}

func (a *Aliases) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*a = aliasList(value.Value)
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*a = many
		return nil
	default:
		return errors.New("alias must be a string or a list of strings")
	}
}

func (a *Aliases) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		*a = aliasList(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("alias entries must be strings, got %T", item)
			}
			out = append(out, s)
		}
		*a = out
	default:
		return fmt.Errorf("alias must be a string or a list of strings, got %T", data)
	}
	return nil
}

func aliasList(s string) Aliases {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return Aliases{s}
}

func defaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"openai": {
			Kind:      string(llm.ModelTypeOpenAI),
			APIKeyEnv: "OPENAI_API_KEY",
			Models: map[string]ModelConfig{
				"GPT-4o":      {ModelName: "gpt-4o", Alias: Aliases{"4o"}},
				"GPT-4o mini": {ModelName: "gpt-4o-mini", Alias: Aliases{"4o-mini"}},
			},
		},
		"anthropic": {
			Kind:      string(llm.ModelTypeAnthropics),
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Models: map[string]ModelConfig{
				"Claude Sonnet": {ModelName: "claude-sonnet-4-5", Alias: Aliases{"sonnet"}},
			},
		},
	}
}

// Model is one selectable entry of the catalogue.
type Model struct {
	Provider  string
	Display   string
	ModelName string
	Aliases   []string
}

func (m Model) String() string { return m.Provider + ":" + m.Display }

type Catalog struct {
	providers map[string]ProviderConfig
	models    []Model
	def       string
}

// Catalog flattens the providers into a list sorted by provider then display name.
func (c Config) Catalog() *Catalog {
	cat := &Catalog{providers: c.Providers, def: strings.TrimSpace(c.DefaultModel)}
	for provName, prov := range c.Providers {
		for display, m := range prov.Models {
			name := strings.TrimSpace(m.ModelName)
			if name == "" {
				name = display
			}
			cat.models = append(cat.models, Model{
				Provider:  provName,
				Display:   display,
				ModelName: name,
				Aliases:   append([]string(nil), m.Alias...),
			})
		}
	}
	sort.Slice(cat.models, func(i, j int) bool {
		if cat.models[i].Provider != cat.models[j].Provider {
			return cat.models[i].Provider < cat.models[j].Provider
		}
		return cat.models[i].Display < cat.models[j].Display
	})
	return cat
}

func (c *Catalog) Models() []Model {
	return append([]Model(nil), c.models...)
}

// Default resolves the configured default model, falling back to the first entry.
func (c *Catalog) Default() (Model, error) {
	if c.def != "" {
		return c.Resolve(c.def)
	}
	if len(c.models) == 0 {
		return Model{}, fmt.Errorf("%w: no models configured", ErrUnknownModel)
	}
	return c.models[0], nil
}

// Resolve matches a display name, provider:display, alias or model name,
// case-insensitively. An unmatched name is treated as a raw model name for the
// provider of the default model.
func (c *Catalog) Resolve(name string) (Model, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return c.Default()
	}
	for _, m := range c.models {
		if strings.ToLower(m.Display) == want || strings.ToLower(m.String()) == want {
			return m, nil
		}
	}
	for _, m := range c.models {
		for _, alias := range m.Aliases {
			if strings.ToLower(strings.TrimSpace(alias)) == want {
				return m, nil
			}
		}
	}
	for _, m := range c.models {
		if strings.ToLower(m.ModelName) == want {
			return m, nil
		}
	}

	provider := ""
	if prov, rest, ok := strings.Cut(strings.TrimSpace(name), ":"); ok {
		if _, known := c.providers[prov]; known && strings.TrimSpace(rest) != "" {
			return Model{Provider: prov, Display: rest, ModelName: strings.TrimSpace(rest)}, nil
		}
	}
	if c.def != "" && !strings.EqualFold(c.def, name) {
		if def, err := c.Resolve(c.def); err == nil {
			provider = def.Provider
		}
	}
	if provider == "" && len(c.models) > 0 {
		provider = c.models[0].Provider
	}
	if provider == "" {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	raw := strings.TrimSpace(name)
	return Model{Provider: provider, Display: raw, ModelName: raw}, nil
}

// Endpoint turns a catalogue entry into a provider endpoint, reading the API key
// from the configured env var when no literal key is set.
func (c *Catalog) Endpoint(m Model, getenv func(string) string) (llm.Endpoint, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	prov, ok := c.providers[m.Provider]
	if !ok {
		return llm.Endpoint{}, fmt.Errorf("%w: provider %s", ErrUnknownModel, m.Provider)
	}
	kind, err := providerKind(m.Provider, prov)
	if err != nil {
		return llm.Endpoint{}, err
	}
	key := strings.TrimSpace(prov.APIKey)
	if key == "" && strings.TrimSpace(prov.APIKeyEnv) != "" {
		key = strings.TrimSpace(getenv(prov.APIKeyEnv))
	}
	if key == "" {
		switch kind {
		case llm.ModelTypeAnthropics:
			key = strings.TrimSpace(getenv("ANTHROPIC_API_KEY"))
		default:
			key = strings.TrimSpace(getenv("OPENAI_API_KEY"))
		}
	}
	return llm.Endpoint{
		Kind:      kind,
		BaseURL:   strings.TrimSpace(prov.APIBase),
		APIKey:    key,
		Model:     m.ModelName,
		MaxTokens: prov.MaxTokens,
	}, nil
}

func providerKind(name string, prov ProviderConfig) (llm.ModelType, error) {
	if strings.TrimSpace(prov.Kind) != "" {
		return llm.ParseModelType(prov.Kind)
	}
	lowered := strings.ToLower(name + " " + prov.APIBase)
	if strings.Contains(lowered, "anthropic") || strings.Contains(lowered, "claude") {
		return llm.ModelTypeAnthropics, nil
	}
	return llm.ModelTypeOpenAI, nil
}
