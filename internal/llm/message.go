package llm

import (
	"context"

	"egg/internal/toolcall"
)

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolDefinition struct {
	Type     string          `json:"type"`
	Function ToolFunctionDef `json:"function"`
}

type ToolFunctionDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

func SystemMessage(content string) Message { return Message{Role: "system", Content: content} }

func UserMessage(content string) Message { return Message{Role: "user", Content: content} }

func ToolResultMessage(call ToolCall, content string) Message {
	return Message{Role: "tool", Name: call.Function.Name, ToolCallID: call.ID, Content: content}
}

// AssistantMessage builds the assistant turn from assembled text and calls.
// Invalid calls are kept so that their synthetic error results pair with an id.
func AssistantMessage(text string, calls []toolcall.Call) Message {
	msg := Message{Role: "assistant", Content: text}
	for _, call := range calls {
		args := call.Arguments
		if !call.Valid() {
			args = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:   call.ID,
			Type: "function",
			Function: ToolCallFunction{
				Name:      call.Name,
				Arguments: args,
			},
		})
	}
	return msg
}

type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float32
}

// StreamHandler receives a provider stream as it arrives. OnToolCall fragments
// are keyed by the provider's stream-local index. OnFinish is called for an
// explicit end-of-response marker; a stream can also end without one.
type StreamHandler interface {
	OnText(text string)
	OnToolCall(fragment toolcall.Fragment)
	OnFinish(reason string)
}

type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request, h StreamHandler) error
}
