package pane

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrNoPane = errors.New("agent has no multiplexer pane")

// Command is the process to run inside a new pane.
type Command struct {
	Argv []string
	Dir  string
	Env  map[string]string
	// LogDir receives stdout.log and stderr.log when there is no terminal to show them.
	LogDir string
}

// Pane identifies an opened pane and the process running in it.
type Pane struct {
	ID  string
	PID int
}

type Multiplexer interface {
	// EnsureSession creates the named session if needed and returns its first pane.
	EnsureSession(ctx context.Context, name string, dir string) (string, error)
	SplitVertical(ctx context.Context, target string, cmd Command) (Pane, error)
	SplitHorizontal(ctx context.Context, target string, cmd Command) (Pane, error)
	ClosePane(ctx context.Context, id string) error
	FocusPane(ctx context.Context, id string) error
	Attach(ctx context.Context, session string) error
}

// Open performs a planned split.
func Open(ctx context.Context, mux Multiplexer, in Instruction, cmd Command) (Pane, error) {
	if len(cmd.Argv) == 0 {
		return Pane{}, errors.New("pane command is empty")
	}
	switch in.Direction {
	case Vertical:
		return mux.SplitVertical(ctx, in.Target, cmd)
	case Horizontal:
		return mux.SplitHorizontal(ctx, in.Target, cmd)
	default:
		return Pane{}, fmt.Errorf("unknown split direction: %q", in.Direction)
	}
}

func (c Command) sortedEnv() []string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.Env[k])
	}
	return out
}

// shellLine renders argv for a pane shell. exec replaces the shell so the
// pane's pid is the agent's pid.
func (c Command) shellLine() string {
	parts := make([]string, 0, len(c.Argv)+1)
	parts = append(parts, "exec")
	for _, arg := range c.Argv {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,@%+", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
