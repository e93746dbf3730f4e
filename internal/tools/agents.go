package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"egg/internal/agenttree"
	"egg/internal/contextstack"
	"egg/internal/llm"
)

// AgentOps spawns and waits on children of the agent running this session.
type AgentOps interface {
	SpawnAgent(ctx context.Context, req agenttree.SpawnRequest) (agenttree.Spawned, error)
	WaitAgents(ctx context.Context, sel agenttree.Selector, timeout time.Duration) (agenttree.WaitResult, error)
}

type SpawnAgentTool struct {
	Ops       AgentOps
	BaseDir   string
	GlobalDir string
}

type spawnAgentArgs struct {
	ContextText string `json:"context_text"`
	Label       string `json:"label"`
	Model       string `json:"model"`
	AutoApprove *bool  `json:"auto_approve"`
}

func (t *SpawnAgentTool) Definition() llm.ToolDefinition {
	return function("spawn_agent",
		"Spawn a sub-agent in its own terminal pane to work on a task in parallel. The child starts with context_text "+
			"(plain text, a file path, `@file` or `/global/<name>`) and returns its result when it calls popContext. "+
			"Collect results with wait_agents.",
		objectSchema([]string{"context_text"}, map[string]interface{}{
			"context_text": map[string]interface{}{"type": "string", "description": "Initial task for the child."},
			"label":        map[string]interface{}{"type": "string", "description": "Short label used to build the agent id."},
			"model":        map[string]interface{}{"type": "string", "description": "Model for the child (default: inherited)."},
			"auto_approve": map[string]interface{}{"type": "boolean", "description": "Run the child's tools without confirmation (default: inherited)."},
		}))
}

func (t *SpawnAgentTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in spawnAgentArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.ContextText) == "" {
		return "", errors.New("context_text is required")
	}
	if t.Ops == nil {
		return "", errors.New("agent tree is not available")
	}
	initiator, err := contextstack.Resolve(in.ContextText, t.BaseDir, t.GlobalDir)
	if err != nil {
		return "", err
	}
	spawned, err := t.Ops.SpawnAgent(ctx, agenttree.SpawnRequest{
		Initiator:   initiator,
		Label:       in.Label,
		Model:       in.Model,
		AutoApprove: in.AutoApprove,
	})
	if err != nil {
		return "", err
	}
	return marshalResult(spawned)
}

type WaitAgentsTool struct {
	Ops AgentOps
}

type waitAgentsArgs struct {
	Which      json.RawMessage `json:"which"`
	TimeoutSec float64         `json:"timeout_sec"`
}

func (t *WaitAgentsTool) Definition() llm.ToolDefinition {
	return function("wait_agents",
		`Wait for spawned sub-agents. which is "all" (every open child), "any" (the first to finish), an agent id, `+
			`or a list of ids. Returns {completed, pending, results}. timeout_sec bounds the wait; 0 waits until done.`,
		objectSchema(nil, map[string]interface{}{
			"which": map[string]interface{}{
				"description": `"all", "any", an agent id, or a list of agent ids (default: "all").`,
				"anyOf": []interface{}{
					map[string]interface{}{"type": "string"},
					map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				},
			},
			"timeout_sec": map[string]interface{}{"type": "number", "description": "Maximum seconds to wait (default: no limit)."},
		}))
}

func (t *WaitAgentsTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in waitAgentsArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
	}
	if in.TimeoutSec < 0 {
		return "", fmt.Errorf("timeout_sec must not be negative")
	}
	sel, err := agenttree.ParseSelector(in.Which)
	if err != nil {
		return "", err
	}
	if t.Ops == nil {
		return "", errors.New("agent tree is not available")
	}
	res, err := t.Ops.WaitAgents(ctx, sel, time.Duration(in.TimeoutSec*float64(time.Second)))
	if err != nil {
		return "", err
	}
	return marshalResult(res)
}

func marshalResult(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
