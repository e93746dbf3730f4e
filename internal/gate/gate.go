// Package gate decides whether a model's tool call may run, runs it through
// the tool registry and shapes the result that goes back to the model.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"egg/internal/agentlog"
	"egg/internal/toolcall"
	"egg/internal/tools"
)

type Status string

const (
	StatusAwaiting     Status = "awaiting-confirmation"
	StatusApproved     Status = "approved"
	StatusDenied       Status = "denied"
	StatusAutoApproved Status = "auto-approved"
	StatusInvalid      Status = "invalid"
)

// Decision is the user's answer to a confirmation prompt.
type Decision int

const (
	ApproveOne Decision = iota
	DenyOne
	ApproveAll
)

const SkippedByUser = "--- SKIPPED BY USER ---"

var ErrToolTimeout = tools.ErrTimeout

// Confirmer asks the user about one pending call.
type Confirmer interface {
	Confirm(ctx context.Context, call toolcall.Call) (Decision, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, call toolcall.Call) (Decision, error)

func (f ConfirmFunc) Confirm(ctx context.Context, call toolcall.Call) (Decision, error) {
	return f(ctx, call)
}

// Observer is told about every call before and after it runs. A call that
// needs confirmation is reported once as awaiting before the prompt and again
// with its final status if it runs.
type Observer interface {
	ToolStarted(call toolcall.Call, status Status)
	ToolFinished(out Outcome)
}

type Options struct {
	Registry  *tools.Registry
	Confirmer Confirmer
	// AutoApprove is consulted per call so a toggle takes effect mid-session.
	AutoApprove func() bool
	// MaxLines bounds the tool output handed back to the model.
	MaxLines int
	// OverflowDir receives the full text of cut outputs.
	OverflowDir string
	Observer    Observer
	Log         *agentlog.Logger
}

type Outcome struct {
	Call     toolcall.Call
	Status   Status
	Content  string
	Err      error
	Duration time.Duration
	// OverflowPath is set when the full output was saved to disk.
	OverflowPath string
}

// Executed reports whether the tool actually ran.
func (o Outcome) Executed() bool {
	return o.Status == StatusApproved || o.Status == StatusAutoApproved
}

type Gate struct {
	reg       *tools.Registry
	confirmer Confirmer
	auto      func() bool
	maxLines  int
	overflow  string
	observer  Observer
	log       *agentlog.Logger

	mu  sync.Mutex
	seq int
}

func New(opts Options) *Gate {
	auto := opts.AutoApprove
	if auto == nil {
		auto = func() bool { return false }
	}
	return &Gate{
		reg:       opts.Registry,
		confirmer: opts.Confirmer,
		auto:      auto,
		maxLines:  opts.MaxLines,
		overflow:  opts.OverflowDir,
		observer:  opts.Observer,
		log:       opts.Log,
	}
}

// Turn holds the approve-all answer for the calls of one model response.
type Turn struct {
	g          *Gate
	approveAll bool
}

func (g *Gate) NewTurn() *Turn {
	return &Turn{g: g}
}

// RunAll runs calls in order within a fresh turn.
func (g *Gate) RunAll(ctx context.Context, calls []toolcall.Call) []Outcome {
	turn := g.NewTurn()
	out := make([]Outcome, 0, len(calls))
	for _, call := range calls {
		out = append(out, turn.Run(ctx, call))
	}
	return out
}

// Run takes one call through confirmation and execution. It never fails: every
// path yields content suitable for a tool result message.
func (t *Turn) Run(ctx context.Context, call toolcall.Call) Outcome {
	g := t.g
	if !call.Valid() {
		detail := "arguments are not valid JSON"
		if call.Err != nil {
			detail = call.Err.Error()
		}
		out := Outcome{Call: call, Status: StatusInvalid, Content: "Error: Invalid arguments. " + detail, Err: call.Err}
		g.log.Logf(agentlog.KindWarn, "invalid tool call %s: %s", call.Name, detail)
		g.finish(out)
		return out
	}
	if _, ok := g.reg.Lookup(call.Name); !ok {
		out := Outcome{Call: call, Status: StatusInvalid, Content: "Unknown tool: " + call.Name, Err: tools.ErrUnknownTool}
		g.log.Logf(agentlog.KindWarn, "unknown tool %q", call.Name)
		g.finish(out)
		return out
	}

	status, err := t.decide(ctx, call)
	if status == StatusDenied {
		out := Outcome{Call: call, Status: StatusDenied, Content: SkippedByUser, Err: err}
		g.log.Logf(agentlog.KindTool, "%s skipped", call.Name)
		g.finish(out)
		return out
	}

	if g.observer != nil {
		g.observer.ToolStarted(call, status)
	}
	g.log.Logf(agentlog.KindTool, "%s %s", call.Name, agentlog.Preview(call.Arguments, 200))
	start := time.Now()
	content, callErr := g.reg.Call(ctx, call.Name, call.RawArguments())
	out := Outcome{Call: call, Status: status, Err: callErr, Duration: time.Since(start)}
	switch {
	case errors.Is(callErr, ErrToolTimeout):
		if strings.TrimSpace(content) == "" {
			content = "ERROR: " + callErr.Error()
		}
	case callErr != nil:
		content = "ERROR: " + callErr.Error()
	}
	out.Content, out.OverflowPath = g.limit(call, content)
	g.log.Logf(agentlog.KindResult, "%s (%s): %s", call.Name, out.Duration.Round(time.Millisecond), agentlog.Preview(out.Content, 200))
	if g.observer != nil {
		g.observer.ToolFinished(out)
	}
	return out
}

func (t *Turn) decide(ctx context.Context, call toolcall.Call) (Status, error) {
	if t.g.auto() {
		return StatusAutoApproved, nil
	}
	if t.approveAll {
		return StatusApproved, nil
	}
	if t.g.confirmer == nil {
		return StatusDenied, errors.New("no confirmer configured")
	}
	if t.g.observer != nil {
		t.g.observer.ToolStarted(call, StatusAwaiting)
	}
	decision, err := t.g.confirmer.Confirm(ctx, call)
	if err != nil {
		return StatusDenied, fmt.Errorf("confirm %s: %w", call.Name, err)
	}
	switch decision {
	case ApproveAll:
		t.approveAll = true
		return StatusApproved, nil
	case ApproveOne:
		return StatusApproved, nil
	default:
		return StatusDenied, nil
	}
}

func (g *Gate) finish(out Outcome) {
	if g.observer != nil {
		g.observer.ToolFinished(out)
	}
}

func (g *Gate) nextSeq() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return g.seq
}
