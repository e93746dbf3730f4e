//go:build !windows

package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestBashTimeoutKillsProcessTree(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child_pid.txt")

	// The background sleep inherits stdout/stderr; killing only the shell would
	// leave the pipes open and hang Wait past the timeout.
	script := fmt.Sprintf("sleep 10 & echo $! > %s; wait", shellQuote(pidFile))

	start := time.Now()
	out, err := runScript(t, NewBashTool(t.TempDir(), time.Second), script)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v (out: %s)", err, out)
	}
	if elapsed > 4*time.Second {
		t.Fatalf("expected bash to return shortly after timeout, elapsed=%v", elapsed)
	}
	if out != "--- STDERR ---\nError: Command timed out after 1 seconds." {
		t.Fatalf("unexpected timeout output:\n%s", out)
	}

	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("expected pid file to exist: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil || pid <= 0 {
		t.Fatalf("invalid pid %q: %v", strings.TrimSpace(string(pidBytes)), err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		killErr := syscall.Kill(pid, 0)
		if killErr != nil && errors.Is(killErr, syscall.ESRCH) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected child pid %d to be terminated, still running", pid)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
