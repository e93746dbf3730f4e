package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"egg/internal/toolcall"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// Endpoint is a resolved model selection: which API to talk to and which model to ask for.
type Endpoint struct {
	Kind      ModelType
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

// NewProvider builds the streaming provider for an endpoint.
func NewProvider(ep Endpoint, httpClient *http.Client) (Provider, error) {
	if strings.TrimSpace(ep.APIKey) == "" {
		return nil, errors.New("api key is required")
	}
	if strings.TrimSpace(ep.Model) == "" {
		return nil, errors.New("model is required")
	}
	switch ep.Kind {
	case "", ModelTypeOpenAI:
		return NewOpenAIProvider(ep, httpClient), nil
	case ModelTypeAnthropics:
		return NewAnthropicProvider(ep, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", ep.Kind)
	}
}

type OpenAIProvider struct {
	client    openai.Client
	model     string
	maxTokens int
}

func NewOpenAIProvider(ep Endpoint, httpClient *http.Client) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(ep.APIKey)),
		option.WithBaseURL(resolvedOpenAIBaseURL(ep.BaseURL)),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     strings.TrimSpace(ep.Model),
		maxTokens: ep.MaxTokens,
	}
}

func (p *OpenAIProvider) Name() string { return "openai:" + p.model }

// resolvedOpenAIBaseURL accepts either an API root or a full chat-completions URL.
func resolvedOpenAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	base = strings.TrimRight(base, "/")
	return base + "/"
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request, h StreamHandler) error {
	if p == nil {
		return errors.New("nil provider")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.model
	}
	messages, err := toOpenAIMessages(req.Messages)
	if err != nil {
		return err
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if len(req.Tools) > 0 {
		tools, err := toOpenAITools(req.Tools)
		if err != nil {
			return err
		}
		params.Tools = tools
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	if req.Temperature != 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				h.OnText(choice.Delta.Content)
			}
			for _, tc := range choice.Delta.ToolCalls {
				h.OnToolCall(toolcall.Fragment{
					Index:     int(tc.Index),
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			if reason := string(choice.FinishReason); reason != "" {
				h.OnFinish(reason)
			}
		}
	}
	return stream.Err()
}

func toOpenAIMessages(msgs []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "user":
			out = append(out, openai.UserMessage(m.Content))
		case "tool":
			if strings.TrimSpace(m.ToolCallID) == "" {
				return nil, errors.New("tool message missing tool_call_id")
			}
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case "assistant":
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" || len(m.ToolCalls) == 0 {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, call := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: call.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      call.Function.Name,
							Arguments: call.Function.Arguments,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "":
			return nil, errors.New("message role is required")
		default:
			return nil, fmt.Errorf("unsupported message role: %q", m.Role)
		}
	}
	return out, nil
}

func toOpenAITools(defs []ToolDefinition) ([]openai.ChatCompletionToolUnionParam, error) {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema, err := toJSONSchemaMap(def.Function.Parameters)
		if err != nil {
			return nil, err
		}
		fn := openai.FunctionDefinitionParam{
			Name:       def.Function.Name,
			Parameters: openai.FunctionParameters(schema),
		}
		if desc := strings.TrimSpace(def.Function.Description); desc != "" {
			fn.Description = openai.String(desc)
		}
		out = append(out, openai.ChatCompletionFunctionTool(fn))
	}
	return out, nil
}
