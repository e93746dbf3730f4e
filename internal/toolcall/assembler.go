// Package toolcall reassembles tool invocations from a streamed model response.
//
// Providers deliver tool calls as fragments keyed by a stream-local index: the
// first fragment for an index usually carries the call id and function name,
// later fragments carry pieces of the JSON arguments. The Assembler keeps one
// in-flight Call per index and only finalizes calls when the stream signals
// that it is done.
package toolcall

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusOpening      Status = "opening"
	StatusAccumulating Status = "accumulating"
	StatusComplete     Status = "complete"
	StatusInvalid      Status = "invalid"
)

// Fragment is one tool-call delta as delivered by a provider stream.
type Fragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

type Call struct {
	Index     int
	ID        string
	Name      string
	Arguments string
	Status    Status
	Err       error
}

// Valid reports whether the call finished with parseable arguments.
func (c Call) Valid() bool {
	return c.Status == StatusComplete && c.Err == nil
}

// Args decodes the finalized arguments into out.
func (c Call) Args(out any) error {
	if !c.Valid() {
		if c.Err != nil {
			return c.Err
		}
		return fmt.Errorf("tool call %q is %s", c.Name, c.Status)
	}
	return json.Unmarshal([]byte(normalizedArguments(c.Arguments)), out)
}

// RawArguments returns the arguments as a JSON document; empty buffers become "{}".
func (c Call) RawArguments() json.RawMessage {
	return json.RawMessage(normalizedArguments(c.Arguments))
}

// ParseError reports a tool call whose argument buffer is not a JSON object.
type ParseError struct {
	Index int
	Name  string
	Err   error
}

func (e *ParseError) Error() string {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("tool call %d (%s): invalid arguments: %v", e.Index, name, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errNotObject = errors.New("arguments must be a JSON object")

type Assembler struct {
	calls        map[int]*Call
	order        []int
	text         strings.Builder
	finishReason string
	finished     bool
	result       []Call
}

func NewAssembler() *Assembler {
	return &Assembler{calls: make(map[int]*Call)}
}

// AddText appends assistant text. Text is tracked independently of tool calls.
func (a *Assembler) AddText(text string) {
	if a.finished || text == "" {
		return
	}
	a.text.WriteString(text)
}

// AddFragment routes a delta to its in-flight call, opening the call on first sight
// of its index. Fragments that arrive after Finish are ignored.
func (a *Assembler) AddFragment(f Fragment) {
	if a.finished {
		return
	}
	call, ok := a.calls[f.Index]
	if !ok {
		call = &Call{Index: f.Index, Status: StatusOpening}
		a.calls[f.Index] = call
		a.order = append(a.order, f.Index)
		call.Status = StatusAccumulating
	}
	if id := strings.TrimSpace(f.ID); id != "" && call.ID == "" {
		call.ID = id
	}
	if name := strings.TrimSpace(f.Name); name != "" && call.Name == "" {
		call.Name = name
	}
	call.Arguments += f.Arguments
}

// MarkFinished records an explicit end-of-tool-calls signal from the provider.
// Calls are not finalized until Finish.
func (a *Assembler) MarkFinished(reason string) {
	if strings.TrimSpace(reason) != "" {
		a.finishReason = strings.TrimSpace(reason)
	}
}

func (a *Assembler) FinishReason() string { return a.finishReason }

func (a *Assembler) Text() string { return a.text.String() }

// Pending returns the number of calls still open.
func (a *Assembler) Pending() int {
	if a.finished {
		return 0
	}
	return len(a.order)
}

// Finish closes the stream: every open call becomes complete or invalid, in the
// order its index was first seen. Calling Finish again returns the same calls.
func (a *Assembler) Finish() []Call {
	if a.finished {
		return append([]Call(nil), a.result...)
	}
	a.finished = true
	out := make([]Call, 0, len(a.order))
	for _, idx := range a.order {
		call := a.calls[idx]
		call.Status = StatusComplete
		if err := validateArguments(call.Arguments); err != nil {
			call.Status = StatusInvalid
			call.Err = &ParseError{Index: call.Index, Name: call.Name, Err: err}
		} else if strings.TrimSpace(call.Name) == "" {
			call.Status = StatusInvalid
			call.Err = &ParseError{Index: call.Index, Err: errors.New("missing function name")}
		}
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d", call.Index)
		}
		out = append(out, *call)
	}
	a.result = out
	return append([]Call(nil), out...)
}

func validateArguments(raw string) error {
	text := normalizedArguments(raw)
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return errNotObject
		}
		return err
	}
	if obj == nil {
		return errNotObject
	}
	return nil
}

func normalizedArguments(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "{}"
	}
	return text
}
