package ui

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// composer is a multiline input box. Enter inserts a newline, Ctrl+D submits
// and Ctrl+C closes the input.
type composer struct {
	prompt    string
	ta        textarea.Model
	submitted bool
	closed    bool
}

func newComposer(prompt string, width int) composer {
	ta := textarea.New()
	ta.Placeholder = "Message, or /help. Ctrl+D sends, Ctrl+C exits."
	ta.Prompt = "┃ "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetWidth(max(20, width-2))
	ta.SetHeight(3)
	ta.Focus()
	return composer{prompt: prompt, ta: ta}
}

func (m composer) Init() tea.Cmd {
	return textarea.Blink
}

func (m composer) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlD:
			m.submitted = true
			return m, tea.Quit
		case tea.KeyCtrlC:
			m.closed = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.ta.SetWidth(max(20, msg.Width-2))
	}
	var cmd tea.Cmd
	m.ta, cmd = m.ta.Update(msg)
	return m, cmd
}

func (m composer) View() string {
	if m.submitted || m.closed {
		return ""
	}
	head := lipgloss.NewStyle().Bold(true).Render(strings.TrimSpace(m.prompt))
	return head + "\n" + m.ta.View() + "\n"
}

// Value is the submitted text, or io.EOF when the user closed the input.
func (m composer) Value() (string, error) {
	if m.closed || !m.submitted {
		return "", io.EOF
	}
	return m.ta.Value(), nil
}

// readComposer runs the composer until the user submits or closes it.
func readComposer(ctx context.Context, in io.Reader, out io.Writer, prompt string, width int) (string, error) {
	prog := tea.NewProgram(newComposer(prompt, width),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	final, err := prog.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	m, ok := final.(composer)
	if !ok {
		return "", io.EOF
	}
	return m.Value()
}

// lineReader reads one line per message from a plain stream.
type lineReader struct {
	r *bufio.Reader
}

func newLineReader(in io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(in)}
}

// ReadLine returns io.EOF only when the stream ended with nothing left to read.
func (l *lineReader) ReadLine() (string, error) {
	line, err := l.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
