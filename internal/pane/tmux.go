package pane

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Tmux drives a local tmux server through its CLI.
type Tmux struct {
	Bin string
}

func NewTmux() *Tmux { return &Tmux{Bin: "tmux"} }

// Available reports whether the tmux binary can be found.
func (t *Tmux) Available() bool {
	_, err := exec.LookPath(t.bin())
	return err == nil
}

func (t *Tmux) bin() string {
	if b := strings.TrimSpace(t.Bin); b != "" {
		return b
	}
	return "tmux"
}

func (t *Tmux) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, t.bin(), args...)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("%s %s failed: %w (%s)", t.bin(), args[0], err, text)
	}
	return text, nil
}

func (t *Tmux) EnsureSession(ctx context.Context, name string, dir string) (string, error) {
	target := "=" + name
	if _, err := t.run(ctx, "has-session", "-t", target); err == nil {
		out, err := t.run(ctx, "list-panes", "-s", "-t", target, "-F", "#{pane_id}")
		if err != nil {
			return "", err
		}
		first, _, _ := strings.Cut(out, "\n")
		return strings.TrimSpace(first), nil
	}
	args := []string{"new-session", "-d", "-s", name, "-P", "-F", "#{pane_id}"}
	if strings.TrimSpace(dir) != "" {
		args = append(args, "-c", dir)
	}
	return t.run(ctx, args...)
}

func (t *Tmux) SplitVertical(ctx context.Context, target string, cmd Command) (Pane, error) {
	return t.split(ctx, "-h", target, cmd)
}

func (t *Tmux) SplitHorizontal(ctx context.Context, target string, cmd Command) (Pane, error) {
	return t.split(ctx, "-v", target, cmd)
}

func (t *Tmux) split(ctx context.Context, flag string, target string, cmd Command) (Pane, error) {
	if strings.TrimSpace(target) == "" {
		return Pane{}, errors.New("split target pane is required")
	}
	args := []string{"split-window", flag, "-d", "-t", target, "-P", "-F", "#{pane_id} #{pane_pid}"}
	if strings.TrimSpace(cmd.Dir) != "" {
		args = append(args, "-c", cmd.Dir)
	}
	for _, kv := range cmd.sortedEnv() {
		args = append(args, "-e", kv)
	}
	args = append(args, cmd.shellLine())
	out, err := t.run(ctx, args...)
	if err != nil {
		return Pane{}, err
	}
	p, err := parsePaneLine(out)
	if err != nil {
		return Pane{}, err
	}
	// Keep the pane visible after the agent exits; it is closed on reap.
	if _, err := t.run(ctx, "set-option", "-p", "-t", p.ID, "remain-on-exit", "on"); err != nil {
		_ = t.ClosePane(context.WithoutCancel(ctx), p.ID)
		return Pane{}, err
	}
	return p, nil
}

func parsePaneLine(out string) (Pane, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "%") {
		return Pane{}, fmt.Errorf("unexpected tmux pane output: %q", out)
	}
	p := Pane{ID: fields[0]}
	if len(fields) > 1 {
		if pid, err := strconv.Atoi(fields[1]); err == nil {
			p.PID = pid
		}
	}
	return p, nil
}

func (t *Tmux) ClosePane(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	_, err := t.run(ctx, "kill-pane", "-t", id)
	if err != nil && strings.Contains(err.Error(), "can't find pane") {
		return nil
	}
	return err
}

func (t *Tmux) FocusPane(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrNoPane
	}
	if os.Getenv("TMUX") != "" {
		if _, err := t.run(ctx, "switch-client", "-t", id); err != nil {
			return err
		}
	}
	if _, err := t.run(ctx, "select-window", "-t", id); err != nil {
		return err
	}
	_, err := t.run(ctx, "select-pane", "-t", id)
	return err
}

// Attach switches the current client to the session, or attaches this
// terminal when not already inside tmux.
func (t *Tmux) Attach(ctx context.Context, session string) error {
	target := "=" + session
	if os.Getenv("TMUX") != "" {
		_, err := t.run(ctx, "switch-client", "-t", target)
		return err
	}
	cmd := exec.CommandContext(ctx, t.bin(), "attach-session", "-t", target)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
