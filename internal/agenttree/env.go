package agenttree

import (
	"strconv"
	"strings"
)

const (
	EnvTreeID      = "EGG_TREE_ID"
	EnvAgentID     = "EGG_AGENT_ID"
	EnvParentID    = "EGG_PARENT_ID"
	EnvAgentDir    = "EGG_AGENT_DIR"
	EnvAutoApprove = "EGG_AUTO_APPROVE"
	EnvModel       = "EGG_MODEL"
	EnvRoot        = "EGG_ROOT"
)

// Self identifies the agent running in this process. It is passed explicitly
// to every tree operation instead of living in globals.
type Self struct {
	TreeID      string
	AgentID     string
	ParentID    string
	Dir         string
	Pane        string
	Session     string
	Depth       int
	Model       string
	AutoApprove bool
}

// IsChild reports whether this agent was spawned by another agent.
func (s Self) IsChild() bool {
	return s.AgentID != "" && s.AgentID != RootID
}

// SelfFromEnv reads the spawn contract. ok is false when no agent id is set,
// meaning the process is the root of a new tree.
func SelfFromEnv(getenv func(string) string) (Self, bool) {
	id := strings.TrimSpace(getenv(EnvAgentID))
	if id == "" {
		return Self{}, false
	}
	return Self{
		TreeID:      strings.TrimSpace(getenv(EnvTreeID)),
		AgentID:     id,
		ParentID:    strings.TrimSpace(getenv(EnvParentID)),
		Dir:         strings.TrimSpace(getenv(EnvAgentDir)),
		Model:       strings.TrimSpace(getenv(EnvModel)),
		AutoApprove: parseBool(getenv(EnvAutoApprove)),
	}, true
}

func childEnv(root string, child NodeState) map[string]string {
	env := map[string]string{
		EnvTreeID:      child.TreeID,
		EnvAgentID:     child.AgentID,
		EnvParentID:    child.ParentID,
		EnvAgentDir:    child.Dir,
		EnvAutoApprove: "0",
		EnvRoot:        root,
	}
	if child.AutoApprove {
		env[EnvAutoApprove] = "1"
	}
	if child.Model != "" {
		env[EnvModel] = child.Model
	}
	return env
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return strings.EqualFold(strings.TrimSpace(raw), "yes")
	}
	return v
}
