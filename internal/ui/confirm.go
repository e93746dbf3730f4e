package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"egg/internal/gate"
	"egg/internal/toolcall"
)

const (
	confirmQuestion = "Execute? [y]es / [n]o / [a]ll for this turn: "
	invalidAnswer   = "Invalid input. Please enter y, n, or a"
)

// ParseDecision maps a confirmation answer to a decision.
func ParseDecision(answer string) (gate.Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return gate.ApproveOne, true
	case "n", "no":
		return gate.DenyOne, true
	case "a", "all":
		return gate.ApproveAll, true
	}
	return gate.DenyOne, false
}

// LineConfirmer asks on a plain stream and repeats the question until it gets
// a valid answer. A closed input denies the call.
type LineConfirmer struct {
	printer *Printer
	in      *lineReader
	out     io.Writer
}

func (c *LineConfirmer) Confirm(ctx context.Context, call toolcall.Call) (gate.Decision, error) {
	c.printer.ShowCall(call)
	for {
		if err := ctx.Err(); err != nil {
			return gate.DenyOne, err
		}
		fmt.Fprint(c.out, confirmQuestion)
		answer, err := c.in.ReadLine()
		if err != nil {
			fmt.Fprintln(c.out)
			return gate.DenyOne, err
		}
		if d, ok := ParseDecision(answer); ok {
			return d, nil
		}
		fmt.Fprintln(c.out, invalidAnswer)
	}
}

// keyPrompt takes a single key press as the answer.
type keyPrompt struct {
	decision gate.Decision
	answered bool
	aborted  bool
	invalid  bool
}

func (m keyPrompt) Init() tea.Cmd { return nil }

func (m keyPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.Type {
	case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
		m.aborted = true
		return m, tea.Quit
	}
	if d, ok := ParseDecision(key.String()); ok {
		m.decision = d
		m.answered = true
		return m, tea.Quit
	}
	m.invalid = true
	return m, nil
}

func (m keyPrompt) View() string {
	if m.answered || m.aborted {
		return ""
	}
	text := confirmQuestion
	if m.invalid {
		text = invalidAnswer + "\n" + text
	}
	return text
}

// KeyConfirmer asks with a single key press on a terminal.
type KeyConfirmer struct {
	printer *Printer
	in      io.Reader
	out     io.Writer
}

func (c *KeyConfirmer) Confirm(ctx context.Context, call toolcall.Call) (gate.Decision, error) {
	c.printer.ShowCall(call)
	prog := tea.NewProgram(keyPrompt{}, tea.WithContext(ctx), tea.WithInput(c.in), tea.WithOutput(c.out))
	final, err := prog.Run()
	if err != nil {
		return gate.DenyOne, err
	}
	m, ok := final.(keyPrompt)
	if !ok || m.aborted || !m.answered {
		return gate.DenyOne, errors.New("confirmation aborted")
	}
	fmt.Fprintln(c.out, decisionLabel(m.decision))
	return m.decision, nil
}

func decisionLabel(d gate.Decision) string {
	switch d {
	case gate.ApproveOne:
		return "approved"
	case gate.ApproveAll:
		return "approved for the rest of this turn"
	default:
		return "skipped"
	}
}
