package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"egg/internal/llm"
)

// ContextOps is the conversation side of pushContext / popContext. The
// session implements it and applies the frame change once the current tool
// results have been recorded.
type ContextOps interface {
	PushContext(initiator string, extra string) (string, error)
	PopContext(returnValue string) (string, error)
}

type PushContextTool struct {
	Ops ContextOps
}

type pushContextArgs struct {
	Context string `json:"context"`
	Extra   string `json:"extra"`
}

func (t *PushContextTool) Definition() llm.ToolDefinition {
	return function("pushContext",
		"Start a focused sub-task in a fresh conversation context. `context` is the task text, a file path, "+
			"`@file`, or `/global/<name>` for a shared command file. Finish the sub-task with popContext.",
		objectSchema([]string{"context"}, map[string]interface{}{
			"context": map[string]interface{}{"type": "string", "description": "Task text or file reference for the new context."},
			"extra":   map[string]interface{}{"type": "string", "description": "Optional text appended after the resolved context."},
		}))
}

func (t *PushContextTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in pushContextArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Context) == "" {
		return "", errors.New("context is required")
	}
	if t.Ops == nil {
		return "", errors.New("context stack is not available")
	}
	return t.Ops.PushContext(in.Context, in.Extra)
}

type PopContextTool struct {
	Ops ContextOps
}

type popContextArgs struct {
	ReturnValue string `json:"return_value"`
}

func (t *PopContextTool) Definition() llm.ToolDefinition {
	return function("popContext",
		"Finish the current sub-task context and return to the previous one with a concise return_value. "+
			"In a spawned agent, popping the top context delivers the result to the parent and ends the agent.",
		objectSchema([]string{"return_value"}, map[string]interface{}{
			"return_value": map[string]interface{}{"type": "string", "description": "Result of the sub-task."},
		}))
}

func (t *PopContextTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in popContextArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if t.Ops == nil {
		return "", errors.New("context stack is not available")
	}
	return t.Ops.PopContext(in.ReturnValue)
}
