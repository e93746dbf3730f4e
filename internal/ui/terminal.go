package ui

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"egg/internal/gate"
)

type Mode string

const (
	ModeTUI   Mode = "tui"
	ModePlain Mode = "plain"
)

// Terminal is the interactive front end of one agent.
type Terminal struct {
	*Printer
	mode  Mode
	in    io.Reader
	out   io.Writer
	lines *lineReader
}

// New picks the composer when both ends are terminals and mode allows it.
func New(mode Mode, in io.Reader, out io.Writer) *Terminal {
	if mode != ModePlain && !(isTerminal(in) && isTerminal(out)) {
		mode = ModePlain
	}
	if mode == "" {
		mode = ModeTUI
	}
	t := &Terminal{Printer: NewPrinter(out), mode: mode, in: in, out: out}
	if mode == ModePlain {
		t.lines = newLineReader(in)
	}
	return t
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (t *Terminal) Mode() Mode { return t.mode }

// ReadInput returns io.EOF when the user closes the input.
func (t *Terminal) ReadInput(ctx context.Context, prompt string) (string, error) {
	t.EndMessage()
	if t.mode == ModeTUI {
		return readComposer(ctx, t.in, t.out, prompt, t.cols())
	}
	fmt.Fprint(t.out, prompt)
	return t.lines.ReadLine()
}

// Confirmer returns the confirmation prompt that matches the input mode.
func (t *Terminal) Confirmer() gate.Confirmer {
	if t.mode == ModeTUI {
		return &KeyConfirmer{printer: t.Printer, in: t.in, out: t.out}
	}
	return &LineConfirmer{printer: t.Printer, in: t.lines, out: t.out}
}
