// Package ui renders the conversation on a terminal: streamed assistant text,
// tool-call panels, context changes and the agent tree. It also reads user
// input and answers confirmation prompts.
package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"

	"egg/internal/agentlog"
	"egg/internal/agenttree"
	"egg/internal/contextstack"
	"egg/internal/gate"
	"egg/internal/toolcall"
)

const (
	defaultWidth = 100
	// maxBlockLines bounds a tool result panel; the full text is in the history.
	maxBlockLines = 40
)

var (
	toolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	resultStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	contextStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	boldStyle    = lipgloss.NewStyle().Bold(true)
)

// Printer writes everything the session shows. It is safe for concurrent use.
type Printer struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
	width func() int

	// midLine is set while assistant text is streaming without a final newline.
	midLine bool
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, color: agentlog.TermColorEnabled(out), width: terminalWidth(out)}
}

func terminalWidth(out io.Writer) func() int {
	return func() int {
		if f, ok := out.(*os.File); ok {
			if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
				return w
			}
		}
		return defaultWidth
	}
}

func (p *Printer) cols() int {
	if p.width == nil {
		return defaultWidth
	}
	return p.width()
}

func (p *Printer) paint(style lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return style.Render(text)
}

// endLine terminates streamed text before a panel is printed. Callers hold mu.
func (p *Printer) endLine() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}

func (p *Printer) header(kind string, name string, style lipgloss.Style) {
	title := runewidth.Truncate(name, p.cols()-len(kind)-4, "…")
	fmt.Fprintf(p.out, "%s %s\n", p.paint(style, "["+kind+"]"), p.paint(boldStyle, title))
}

func (p *Printer) line(label string, value string, style lipgloss.Style) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(p.out, "  %s %s\n", p.paint(dimStyle, label+":"), p.paint(style, value))
}

func (p *Printer) block(label string, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	fmt.Fprintf(p.out, "  %s\n", p.paint(dimStyle, label+":"))
	lines := strings.Split(wordwrap.String(content, max(20, p.cols()-4)), "\n")
	hidden := 0
	if len(lines) > maxBlockLines {
		hidden = len(lines) - maxBlockLines
		lines = lines[:maxBlockLines]
	}
	for _, l := range lines {
		fmt.Fprintf(p.out, "    %s\n", l)
	}
	if hidden > 0 {
		fmt.Fprintf(p.out, "    %s\n", p.paint(dimStyle, fmt.Sprintf("... %d more lines", hidden)))
	}
}

// ShowCall prints a pending tool call, used by the confirmers before asking.
func (p *Printer) ShowCall(call toolcall.Call) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	p.printCall(call)
}

func (p *Printer) printCall(call toolcall.Call) {
	p.header("TOOL", call.Name, toolStyle)
	p.block("args", formatJSON(call.Arguments))
}

func (p *Printer) ToolStarted(call toolcall.Call, status gate.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	if status == gate.StatusAutoApproved {
		p.printCall(call)
		p.line("status", string(status), dimStyle)
	}
}

func (p *Printer) ToolFinished(out gate.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	status, style := "ok", okStyle
	switch {
	case out.Status == gate.StatusDenied:
		status, style = "skipped", warnStyle
	case out.Status == gate.StatusInvalid:
		status, style = "invalid", errStyle
	case out.Err != nil:
		status, style = "error", errStyle
	}
	p.header("RESULT", out.Call.Name, resultStyle)
	p.line("status", status, style)
	if out.Duration > 0 {
		p.line("time", out.Duration.Truncate(time.Millisecond).String(), dimStyle)
	}
	if out.OverflowPath != "" {
		p.line("full output", out.OverflowPath, dimStyle)
	}
	text := strings.TrimRight(out.Content, "\n")
	if strings.TrimSpace(text) == "" {
		p.line("output", "(empty)", dimStyle)
	} else {
		p.block("output", text)
	}
	fmt.Fprintln(p.out)
}

func (p *Printer) StreamText(text string) {
	if text == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, text)
	p.midLine = !strings.HasSuffix(text, "\n")
}

func (p *Printer) EndMessage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
}

func (p *Printer) Info(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	fmt.Fprintln(p.out, p.paint(dimStyle, msg))
}

func (p *Printer) Warn(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	fmt.Fprintln(p.out, p.paint(errStyle, "warning: "+msg))
}

func (p *Printer) ContextChanged(evt contextstack.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	switch evt.Kind {
	case contextstack.EventPush:
		p.header("CONTEXT", fmt.Sprintf("pushed (depth %d)", evt.Depth), contextStyle)
	case contextstack.EventPop:
		p.header("CONTEXT", fmt.Sprintf("popped (depth %d)", evt.Depth), contextStyle)
		p.line("returned", preview(evt.ReturnValue, p.cols()-16), dimStyle)
	}
}

func (p *Printer) ShowTree(trees []agenttree.TreeInfo, nodes []agenttree.NodeState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	fmt.Fprint(p.out, FormatTrees(trees))
	fmt.Fprint(p.out, p.formatNodes(nodes))
}

// FormatTrees lists trees one per line, marking the current one with '*'.
func FormatTrees(trees []agenttree.TreeInfo) string {
	if len(trees) == 0 {
		return "no agent trees\n"
	}
	var b strings.Builder
	for _, t := range trees {
		mark := " "
		if t.Current {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s %s  agents=%d", mark, t.ID, t.Agents)
		if !t.Root.CreatedAt.IsZero() {
			fmt.Fprintf(&b, "  created=%s", t.Root.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (p *Printer) formatNodes(nodes []agenttree.NodeState) string {
	if len(nodes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n")
	for _, n := range nodes {
		state := n.State
		style := dimStyle
		switch state {
		case agenttree.StateRunning:
			style = warnStyle
		case agenttree.StateCompleted:
			style = okStyle
		}
		if n.Reaped {
			state += ", reaped"
		}
		line := fmt.Sprintf("%s%s [%s]", strings.Repeat("  ", n.Depth), n.AgentID, p.paint(style, state))
		if n.PaneRef != "" && !n.Reaped {
			line += " pane=" + n.PaneRef
		}
		if n.Model != "" {
			line += " model=" + n.Model
		}
		if n.Error != "" {
			line += " " + p.paint(errStyle, "error: "+n.Error)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func formatJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	var out bytes.Buffer
	if json.Valid([]byte(trimmed)) {
		if err := json.Indent(&out, []byte(trimmed), "", "  "); err == nil {
			return out.String()
		}
	}
	return trimmed
}

func preview(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width < 10 {
		width = 10
	}
	return runewidth.Truncate(s, width, "…")
}
