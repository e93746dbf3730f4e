package agenttree

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
)

const RootID = "root"

var (
	ErrSpawnFailed  = errors.New("spawn failed")
	ErrNoTree       = errors.New("no current tree")
	ErrUnknownTree  = errors.New("unknown tree")
	ErrUnknownAgent = errors.New("unknown agent")
)

// NodeState is the durable record of one agent, stored as state.json.
type NodeState struct {
	TreeID      string    `json:"tree_id"`
	AgentID     string    `json:"agent_id"`
	ParentID    string    `json:"parent_id,omitempty"`
	State       string    `json:"state"`
	Label       string    `json:"label,omitempty"`
	Seq         int       `json:"seq"`
	Depth       int       `json:"depth"`
	PaneRef     string    `json:"pane_ref,omitempty"`
	Session     string    `json:"session,omitempty"`
	PID         int       `json:"pid,omitempty"`
	AutoApprove bool      `json:"auto_approve"`
	Model       string    `json:"model,omitempty"`
	Dir         string    `json:"dir"`
	Reaped      bool      `json:"reaped,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Result is the terminal record written once by a finishing agent, result.json.
// Its presence is what marks the agent completed.
type Result struct {
	AgentID     string    `json:"agent_id"`
	ReturnValue string    `json:"return_value"`
	Summary     string    `json:"summary,omitempty"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// SanitizeLabel keeps agent ids filesystem and multiplexer friendly.
func SanitizeLabel(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" || out == RootID {
		return "child"
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

func writeJSONAtomic(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp_json_*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp_*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
