package pane

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Headless runs agents as detached background processes when no multiplexer
// is available. Pane ids are "proc:<pid>" and both split directions behave
// the same.
type Headless struct {
	mu    sync.Mutex
	procs map[string]*exec.Cmd
}

func NewHeadless() *Headless {
	return &Headless{procs: make(map[string]*exec.Cmd)}
}

func (h *Headless) EnsureSession(ctx context.Context, name string, dir string) (string, error) {
	return "proc:" + strconv.Itoa(os.Getpid()), nil
}

func (h *Headless) SplitVertical(ctx context.Context, target string, cmd Command) (Pane, error) {
	return h.start(cmd)
}

func (h *Headless) SplitHorizontal(ctx context.Context, target string, cmd Command) (Pane, error) {
	return h.start(cmd)
}

func (h *Headless) start(c Command) (Pane, error) {
	logDir := strings.TrimSpace(c.LogDir)
	if logDir == "" {
		logDir = c.Dir
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return Pane{}, err
	}
	stdout, err := os.OpenFile(filepath.Join(logDir, "stdout.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Pane{}, err
	}
	defer stdout.Close()
	stderr, err := os.OpenFile(filepath.Join(logDir, "stderr.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Pane{}, err
	}
	defer stderr.Close()

	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.sortedEnv()...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return Pane{}, err
	}
	id := "proc:" + strconv.Itoa(cmd.Process.Pid)
	h.mu.Lock()
	h.procs[id] = cmd
	h.mu.Unlock()
	go func() {
		_ = cmd.Wait()
	}()
	return Pane{ID: id, PID: cmd.Process.Pid}, nil
}

// ClosePane forgets a finished process. Running processes are left alone.
func (h *Headless) ClosePane(ctx context.Context, id string) error {
	h.mu.Lock()
	delete(h.procs, id)
	h.mu.Unlock()
	return nil
}

func (h *Headless) FocusPane(ctx context.Context, id string) error {
	return fmt.Errorf("%w: %s runs without a terminal", ErrNoPane, id)
}

func (h *Headless) Attach(ctx context.Context, session string) error {
	return fmt.Errorf("%w: no multiplexer session", ErrNoPane)
}
