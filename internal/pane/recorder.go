package pane

import (
	"context"
	"fmt"
	"sync"
)

// Op is one recorded multiplexer call.
type Op struct {
	Kind   string
	Target string
	Pane   string
	Cmd    Command
}

// Recorder is an in-memory Multiplexer that hands out sequential pane ids and
// records every call. FailSplit makes the next split fail.
type Recorder struct {
	mu        sync.Mutex
	next      int
	ops       []Op
	closed    map[string]bool
	FailSplit error
	// PID, when set, is reported as the process id of every new pane.
	PID int
}

func NewRecorder() *Recorder {
	return &Recorder{closed: make(map[string]bool)}
}

func (r *Recorder) newID() string {
	r.next++
	return fmt.Sprintf("%%%d", r.next)
}

func (r *Recorder) EnsureSession(ctx context.Context, name string, dir string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.newID()
	r.ops = append(r.ops, Op{Kind: "session", Target: name, Pane: id})
	return id, nil
}

func (r *Recorder) SplitVertical(ctx context.Context, target string, cmd Command) (Pane, error) {
	return r.split("vertical", target, cmd)
}

func (r *Recorder) SplitHorizontal(ctx context.Context, target string, cmd Command) (Pane, error) {
	return r.split("horizontal", target, cmd)
}

func (r *Recorder) split(kind string, target string, cmd Command) (Pane, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailSplit; err != nil {
		r.FailSplit = nil
		return Pane{}, err
	}
	if r.closed[target] {
		return Pane{}, fmt.Errorf("can't find pane: %s", target)
	}
	id := r.newID()
	r.ops = append(r.ops, Op{Kind: kind, Target: target, Pane: id, Cmd: cmd})
	return Pane{ID: id, PID: r.PID}, nil
}

func (r *Recorder) ClosePane(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed[id] = true
	r.ops = append(r.ops, Op{Kind: "close", Target: id})
	return nil
}

func (r *Recorder) FocusPane(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Kind: "focus", Target: id})
	return nil
}

func (r *Recorder) Attach(ctx context.Context, session string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Kind: "attach", Target: session})
	return nil
}

func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Closed reports whether ClosePane was called for id.
func (r *Recorder) Closed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed[id]
}
