package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"egg/internal/llm"
)

// ErrTimeout is returned together with the partial output when a script runs
// past its timeout.
var ErrTimeout = errors.New("command timed out")

const (
	DefaultScriptTimeout = 60 * time.Second
	defaultMaxOutput     = 1 << 20

	noOutputMessage = "--- The command executed successfully and produced no output ---"
)

// ScriptTool runs the model's script through an interpreter, e.g. bash -c.
type ScriptTool struct {
	Name        string
	Description string
	// Interpreter is the argv prefix; the script is appended as the last argument.
	Interpreter    []string
	Dir            string
	Timeout        time.Duration
	MaxOutputBytes int
}

func NewBashTool(dir string, timeout time.Duration) *ScriptTool {
	return &ScriptTool{
		Name:        "bash",
		Description: "Run a bash script in the project directory and return its stdout and stderr.",
		Interpreter: []string{"/bin/bash", "-c"},
		Dir:         dir,
		Timeout:     timeout,
	}
}

func NewPythonTool(dir string, timeout time.Duration) *ScriptTool {
	return &ScriptTool{
		Name:        "python",
		Description: "Run a Python 3 script and return its stdout and stderr.",
		Interpreter: []string{"python3", "-c"},
		Dir:         dir,
		Timeout:     timeout,
	}
}

type scriptArgs struct {
	Script string `json:"script"`
}

func (t *ScriptTool) Definition() llm.ToolDefinition {
	return function(t.Name, t.Description, objectSchema([]string{"script"}, map[string]interface{}{
		"script": map[string]interface{}{
			"type":        "string",
			"description": "The script source to execute.",
		},
	}))
}

func (t *ScriptTool) timeout() time.Duration {
	if t.Timeout <= 0 {
		return DefaultScriptTimeout
	}
	return t.Timeout
}

func (t *ScriptTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in scriptArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("%s: invalid JSON arguments: %w", t.Name, err)
	}
	if strings.TrimSpace(in.Script) == "" {
		return "", errors.New("script is required")
	}
	if len(t.Interpreter) == 0 {
		return "", fmt.Errorf("%s: no interpreter configured", t.Name)
	}
	maxBytes := t.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxOutput
	}

	timeout := t.timeout()
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	stdoutCapture := &limitedBuffer{buf: &stdout, max: maxBytes}
	stderrCapture := &limitedBuffer{buf: &stderr, max: maxBytes}

	argv := append(append([]string(nil), t.Interpreter[1:]...), in.Script)
	cmd := exec.CommandContext(cmdCtx, t.Interpreter[0], argv...)
	if t.Dir != "" {
		cmd.Dir = t.Dir
	}
	cmd.Stdout = stdoutCapture
	cmd.Stderr = stderrCapture
	// Bound how long Wait can hang once orphaned grandchildren hold the pipes.
	cmd.WaitDelay = 500 * time.Millisecond
	configureExecCommandCancellation(cmd)

	err := cmd.Run()

	ctxErr := cmdCtx.Err()
	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded) && ctx.Err() == nil:
		errText := joinNonEmpty(stderrCapture.String(), fmt.Sprintf("Error: Command timed out after %d seconds.", int(timeout.Seconds())))
		return FrameOutput(stdoutCapture.String(), errText), fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case ctx.Err() != nil:
		return FrameOutput(stdoutCapture.String(), stderrCapture.String()), ctx.Err()
	}

	errText := stderrCapture.String()
	if err != nil {
		code, kind := classifyExecError(err)
		switch kind {
		case "non_zero_exit":
			errText = joinNonEmpty(errText, fmt.Sprintf("Exit code: %d", code))
		default:
			errText = joinNonEmpty(errText, fmt.Sprintf("Error executing command (%s): %v", kind, err))
		}
	}
	return FrameOutput(stdoutCapture.String(), errText), nil
}

// FrameOutput renders captured streams under STDOUT / STDERR headers.
func FrameOutput(stdout string, stderr string) string {
	var b strings.Builder
	if out := strings.TrimSpace(stdout); out != "" {
		b.WriteString("--- STDOUT ---\n")
		b.WriteString(out)
		b.WriteString("\n")
	}
	if errOut := strings.TrimSpace(stderr); errOut != "" {
		b.WriteString("--- STDERR ---\n")
		b.WriteString(errOut)
		b.WriteString("\n")
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return noOutputMessage
	}
	return text
}

func joinNonEmpty(a string, b string) string {
	a = strings.TrimRight(a, "\n")
	if strings.TrimSpace(a) == "" {
		return b
	}
	return a + "\n" + b
}

type limitedBuffer struct {
	buf       *bytes.Buffer
	max       int
	truncated int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if l.max <= 0 {
		return l.buf.Write(p)
	}
	remaining := l.max - l.buf.Len()
	if remaining <= 0 {
		l.truncated += len(p)
		return len(p), nil
	}
	if len(p) > remaining {
		l.truncated += len(p) - remaining
		_, _ = l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}

// String returns the captured text with a marker when bytes were dropped.
func (l *limitedBuffer) String() string {
	if l.truncated == 0 {
		return l.buf.String()
	}
	return fmt.Sprintf("%s\n... (%d bytes truncated)", strings.TrimRight(l.buf.String(), "\n"), l.truncated)
}

func isCommandNotFoundError(err error) bool {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		if errors.Is(execErr.Err, exec.ErrNotFound) {
			return true
		}
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if errors.Is(pathErr.Err, os.ErrNotExist) {
			return true
		}
	}

	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}

func classifyExecError(err error) (exitCode int, errorType string) {
	if err == nil {
		return 0, "none"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return -1, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return -1, "canceled"
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), "non_zero_exit"
	}

	if isCommandNotFoundError(err) {
		return -1, "command_not_found"
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return -1, "exec_error"
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return -1, "path_error"
	}

	return -1, "runtime_error"
}
