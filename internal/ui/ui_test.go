package ui

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"egg/internal/agenttree"
	"egg/internal/contextstack"
	"egg/internal/gate"
	"egg/internal/toolcall"
)

func plainPrinter(out io.Writer) *Printer {
	return &Printer{out: out, width: func() int { return 80 }}
}

func TestPrintToolResult(t *testing.T) {
	var out bytes.Buffer
	p := plainPrinter(&out)

	call := toolcall.Call{Name: "bash", Arguments: `{"script":"ls"}`, Status: toolcall.StatusComplete}
	p.ToolStarted(call, gate.StatusAutoApproved)
	p.ToolFinished(gate.Outcome{Call: call, Status: gate.StatusAutoApproved, Content: "--- STDOUT ---\na\nb", Duration: 12 * time.Millisecond})
	got := out.String()

	for _, want := range []string{"[TOOL] bash", `"script": "ls"`, "[RESULT] bash", "status: ok", "time: 12ms", "--- STDOUT ---"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, got)
		}
	}
}

func TestPrintToolResultStatuses(t *testing.T) {
	cases := []struct {
		out  gate.Outcome
		want string
	}{
		{gate.Outcome{Status: gate.StatusDenied, Content: gate.SkippedByUser}, "status: skipped"},
		{gate.Outcome{Status: gate.StatusInvalid, Content: "Error: Invalid arguments. x"}, "status: invalid"},
		{gate.Outcome{Status: gate.StatusApproved, Err: errors.New("boom"), Content: "ERROR: boom"}, "status: error"},
		{gate.Outcome{Status: gate.StatusApproved}, "output: (empty)"},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		plainPrinter(&out).ToolFinished(tc.out)
		if !strings.Contains(out.String(), tc.want) {
			t.Fatalf("expected %q, got:\n%s", tc.want, out.String())
		}
	}
}

func TestStreamTextEndsLineBeforePanels(t *testing.T) {
	var out bytes.Buffer
	p := plainPrinter(&out)
	p.StreamText("thinking")
	p.Info("note")
	p.StreamText("done\n")
	p.EndMessage()
	if got := out.String(); got != "thinking\nnote\ndone\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestContextChanged(t *testing.T) {
	var out bytes.Buffer
	p := plainPrinter(&out)
	p.ContextChanged(contextstack.Event{Kind: contextstack.EventPush, Depth: 1})
	p.ContextChanged(contextstack.Event{Kind: contextstack.EventPop, Depth: 0, ReturnValue: "all\ngood"})
	got := out.String()
	if !strings.Contains(got, "pushed (depth 1)") || !strings.Contains(got, "returned: all good") {
		t.Fatalf("unexpected output:\n%s", got)
	}
}

func TestFormatTreesAndNodes(t *testing.T) {
	trees := []agenttree.TreeInfo{{ID: "t1", Agents: 2}, {ID: "t2", Current: true}}
	got := FormatTrees(trees)
	if got != "  t1  agents=2\n* t2  agents=0\n" {
		t.Fatalf("unexpected trees %q", got)
	}
	if FormatTrees(nil) != "no agent trees\n" {
		t.Fatalf("expected empty marker")
	}

	var out bytes.Buffer
	plainPrinter(&out).ShowTree(nil, []agenttree.NodeState{
		{AgentID: "root", State: agenttree.StateRunning, PaneRef: "%0"},
		{AgentID: "worker-001", Depth: 1, State: agenttree.StateCompleted, Reaped: true, PaneRef: "%1"},
	})
	for _, want := range []string{"root [running] pane=%0", "  worker-001 [completed, reaped]\n"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in:\n%s", want, out.String())
		}
	}
}

func TestParseDecision(t *testing.T) {
	cases := []struct {
		in   string
		want gate.Decision
		ok   bool
	}{
		{"y", gate.ApproveOne, true},
		{" YES ", gate.ApproveOne, true},
		{"n", gate.DenyOne, true},
		{"a", gate.ApproveAll, true},
		{"all", gate.ApproveAll, true},
		{"maybe", gate.DenyOne, false},
		{"", gate.DenyOne, false},
	}
	for _, tc := range cases {
		got, ok := ParseDecision(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseDecision(%q) = %v, %v", tc.in, got, ok)
		}
	}
}

func TestLineConfirmerRepeatsOnInvalidInput(t *testing.T) {
	var out bytes.Buffer
	c := &LineConfirmer{printer: plainPrinter(&out), in: newLineReader(strings.NewReader("x\na\n")), out: &out}
	d, err := c.Confirm(context.Background(), toolcall.Call{Name: "bash", Arguments: `{}`})
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if d != gate.ApproveAll {
		t.Fatalf("expected ApproveAll, got %v", d)
	}
	if strings.Count(out.String(), invalidAnswer) != 1 {
		t.Fatalf("expected one invalid-input message, got:\n%s", out.String())
	}
}

func TestLineConfirmerClosedInputDenies(t *testing.T) {
	var out bytes.Buffer
	c := &LineConfirmer{printer: plainPrinter(&out), in: newLineReader(strings.NewReader("")), out: &out}
	d, err := c.Confirm(context.Background(), toolcall.Call{Name: "bash"})
	if d != gate.DenyOne || !errors.Is(err, io.EOF) {
		t.Fatalf("expected deny with EOF, got %v %v", d, err)
	}
}

func TestPlainTerminalReadInput(t *testing.T) {
	var out bytes.Buffer
	term := New(ModePlain, strings.NewReader("first\nsecond"), &out)
	ctx := context.Background()
	for _, want := range []string{"first", "second"} {
		got, err := term.ReadInput(ctx, "egg > ")
		if err != nil || got != want {
			t.Fatalf("ReadInput = %q, %v; want %q", got, err, want)
		}
	}
	if _, err := term.ReadInput(ctx, "egg > "); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if _, ok := term.Confirmer().(*LineConfirmer); !ok {
		t.Fatalf("plain terminal should confirm line by line")
	}
}

func TestComposerSubmitAndClose(t *testing.T) {
	var m tea.Model = newComposer("egg > ", 80)
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("hi")})
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlD})
	if cmd == nil {
		t.Fatalf("Ctrl+D should quit the composer")
	}
	got, err := m.(composer).Value()
	if err != nil || got != "hi" {
		t.Fatalf("Value = %q, %v", got, err)
	}

	m = newComposer("egg > ", 80)
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if _, err := m.(composer).Value(); !errors.Is(err, io.EOF) {
		t.Fatalf("Ctrl+C should close the input, got %v", err)
	}
}

func TestKeyPrompt(t *testing.T) {
	var m tea.Model = keyPrompt{}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("z")})
	if !strings.HasPrefix(m.View(), invalidAnswer) {
		t.Fatalf("expected invalid-input message, got %q", m.View())
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	kp := m.(keyPrompt)
	if !kp.answered || kp.decision != gate.ApproveAll {
		t.Fatalf("unexpected prompt state %+v", kp)
	}
}
