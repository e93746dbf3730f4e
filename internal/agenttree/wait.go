package agenttree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"egg/internal/agentlog"
)

const (
	WaitAll = "all"
	WaitAny = "any"
	WaitIDs = "ids"
)

// Selector picks the children a wait targets: every open child ("all"), the
// first open child to finish ("any"), or an explicit list of ids.
type Selector struct {
	Mode string
	IDs  []string
}

func (s Selector) String() string {
	if s.Mode == WaitAll || s.Mode == WaitAny {
		return s.Mode
	}
	return strings.Join(s.IDs, ",")
}

// ParseSelector accepts "all", "any", a single id, a comma separated list of
// ids, or a JSON list of ids.
func ParseSelector(raw json.RawMessage) (Selector, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return Selector{Mode: WaitAll}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return selectorFromIDs(list)
	}
	var one string
	if err := json.Unmarshal(raw, &one); err != nil {
		return Selector{}, errors.New(`which must be "all", "any", an agent id or a list of ids`)
	}
	return SelectorFromString(one)
}

func SelectorFromString(s string) (Selector, error) {
	v := strings.TrimSpace(s)
	switch strings.ToLower(v) {
	case "", WaitAll:
		return Selector{Mode: WaitAll}, nil
	case WaitAny:
		return Selector{Mode: WaitAny}, nil
	}
	return selectorFromIDs(strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }))
}

func selectorFromIDs(ids []string) (Selector, error) {
	out := Selector{Mode: WaitIDs}
	seen := make(map[string]bool)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out.IDs = append(out.IDs, id)
	}
	if len(out.IDs) == 0 {
		return Selector{}, errors.New("no agent ids given")
	}
	return out, nil
}

type WaitResult struct {
	Completed []string          `json:"completed"`
	Pending   []string          `json:"pending"`
	Results   map[string]Result `json:"results"`
}

type waitTarget struct {
	id  string
	dir string
}

// Wait blocks until the selected children of self have completed, then reaps
// their panes. Children that finished before the call count immediately. A
// positive timeout returns the split so far and reaps only what completed.
// Cancelling ctx returns without reaping anything.
func (m *Manager) Wait(ctx context.Context, self Self, sel Selector, timeout time.Duration) (WaitResult, error) {
	targets, err := m.waitTargets(self, sel)
	if err != nil {
		return WaitResult{}, err
	}
	out := WaitResult{Completed: []string{}, Pending: []string{}, Results: map[string]Result{}}
	if len(targets) == 0 {
		return out, nil
	}

	dirs := make([]string, 0, len(targets))
	for _, t := range targets {
		dirs = append(dirs, t.dir)
	}
	watch, err := watchDirs(dirs)
	if err != nil {
		m.log.Logf(agentlog.KindDebug, "wait: file watch unavailable, polling only: %v", err)
		watch = nil
	}
	defer watch.Close()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	m.log.Logf(agentlog.KindAgent, "waiting on %s (%d targets)", sel, len(targets))

	done := make(map[string]Result)
	for {
		m.scan(targets, done)
		if (sel.Mode == WaitAny && len(done) > 0) || len(done) == len(targets) {
			break
		}
		sleep := m.poll
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			if remaining < sleep {
				sleep = remaining
			}
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return WaitResult{}, ctx.Err()
		case <-watch.C():
			timer.Stop()
		case <-timer.C:
		}
	}

	for _, t := range targets {
		res, ok := done[t.id]
		if !ok || (sel.Mode == WaitAny && len(out.Completed) > 0) {
			out.Pending = append(out.Pending, t.id)
			continue
		}
		out.Completed = append(out.Completed, t.id)
		out.Results[t.id] = res
	}
	for _, id := range out.Completed {
		for _, t := range targets {
			if t.id == id {
				m.reap(ctx, t)
			}
		}
	}
	return out, nil
}

func (m *Manager) waitTargets(self Self, sel Selector) ([]waitTarget, error) {
	children, err := Children(self.Dir)
	if err != nil {
		return nil, err
	}
	switch sel.Mode {
	case WaitAll, WaitAny:
		out := make([]waitTarget, 0, len(children))
		for _, c := range children {
			if c.Reaped {
				continue
			}
			out = append(out, waitTarget{id: c.AgentID, dir: c.Dir})
		}
		return out, nil
	default:
		byID := make(map[string]NodeState, len(children))
		for _, c := range children {
			byID[c.AgentID] = c
		}
		out := make([]waitTarget, 0, len(sel.IDs))
		for _, id := range sel.IDs {
			c, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("%w: %s is not a child of %s", ErrUnknownAgent, id, self.AgentID)
			}
			out = append(out, waitTarget{id: c.AgentID, dir: c.Dir})
		}
		return out, nil
	}
}

// scan records every target whose result is readable. With liveness on, a
// target whose process is gone gets a synthetic failed result. That includes
// a child that died between its completed state write and its result write.
func (m *Manager) scan(targets []waitTarget, done map[string]Result) {
	for _, t := range targets {
		if _, ok := done[t.id]; ok {
			continue
		}
		if res, ok := ReadResult(t.dir); ok {
			done[t.id] = res
			continue
		}
		if !m.liveness {
			continue
		}
		st, err := ReadState(t.dir)
		if err != nil || st.State == StatePending || st.PID <= 0 || m.alive(st.PID) {
			continue
		}
		// The process may have written its result just before exiting.
		if res, ok := ReadResult(t.dir); ok {
			done[t.id] = res
			continue
		}
		res, err := m.markDead(t.dir, st)
		if err != nil {
			m.log.Logf(agentlog.KindError, "wait: record dead agent %s: %v", t.id, err)
			continue
		}
		done[t.id] = res
	}
}

func (m *Manager) markDead(dir string, st NodeState) (Result, error) {
	st.State = StateCompleted
	st.Error = deadAgentError
	st.FinishedAt = m.now()
	if err := WriteState(dir, st); err != nil {
		return Result{}, err
	}
	res := Result{AgentID: st.AgentID, Error: deadAgentError, FinishedAt: st.FinishedAt}
	if err := WriteResult(dir, res); err != nil {
		return Result{}, err
	}
	m.log.Logf(agentlog.KindWarn, "agent %s (pid %d) exited without a result", st.AgentID, st.PID)
	return res, nil
}

// reap closes a completed child's pane. It runs only after the result was read.
func (m *Manager) reap(ctx context.Context, t waitTarget) {
	st, err := ReadState(t.dir)
	if err != nil {
		m.log.Logf(agentlog.KindWarn, "reap %s: %v", t.id, err)
		return
	}
	if st.Reaped {
		return
	}
	if st.PaneRef != "" && m.mux != nil {
		if err := m.mux.ClosePane(context.WithoutCancel(ctx), st.PaneRef); err != nil {
			m.log.Logf(agentlog.KindWarn, "reap %s: close pane %s: %v", t.id, st.PaneRef, err)
		}
	}
	st.Reaped = true
	st.State = StateCompleted
	if err := WriteState(t.dir, st); err != nil {
		m.log.Logf(agentlog.KindWarn, "reap %s: %v", t.id, err)
		return
	}
	m.log.Logf(agentlog.KindAgent, "reaped %s", t.id)
}
