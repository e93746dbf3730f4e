package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"egg/internal/agentlog"
	"egg/internal/agenttree"
	"egg/internal/contextstack"
)

// stackOp is a frame change requested by a tool call. It is applied after the
// tool results of the current response are recorded, so the results land in
// the frame that issued the calls.
type stackOp struct {
	push      bool
	initiator string
	extra     string
	value     string
	// complete marks a pop of the top frame of a child agent.
	complete bool
}

func (s *Session) effectiveDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	depth := s.stack.Depth()
	for _, op := range s.pending {
		if op.push {
			depth++
		} else {
			depth--
		}
	}
	return depth
}

// PushContext validates the reference now and opens the frame once the
// current tool results are in.
func (s *Session) PushContext(initiator string, extra string) (string, error) {
	if _, err := contextstack.Resolve(initiator, s.opts.BaseDir, s.opts.GlobalDir); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.pending = append(s.pending, stackOp{push: true, initiator: initiator, extra: extra})
	s.mu.Unlock()
	return "Context pushed. Continue with the new task in the fresh context and call popContext when it is done.", nil
}

// PopContext closes the active frame. In a child agent a pop with no frame
// below delivers the agent's result instead.
func (s *Session) PopContext(returnValue string) (string, error) {
	depth := s.effectiveDepth()
	self := s.Self()
	switch {
	case depth > 0:
		s.mu.Lock()
		s.pending = append(s.pending, stackOp{value: returnValue})
		s.mu.Unlock()
		return "Context popped. The return value is passed to the previous context.", nil
	case self.IsChild() && s.opts.Manager != nil:
		s.mu.Lock()
		s.pending = append(s.pending, stackOp{value: returnValue, complete: true})
		s.mu.Unlock()
		return "Result recorded. This agent is finishing.", nil
	default:
		return "", contextstack.ErrEmptyStack
	}
}

func (s *Session) applyPending() error {
	s.mu.Lock()
	ops := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, op := range ops {
		switch {
		case op.push:
			if _, err := s.stack.Push(op.initiator, op.extra); err != nil {
				return err
			}
		case op.complete:
			return s.complete(agenttree.Result{ReturnValue: op.value, Summary: s.summary()})
		default:
			if _, err := s.stack.Pop(op.value); err != nil {
				return err
			}
		}
	}
	return nil
}

// popFromUser is the /pop command: the same rules as the tool, applied at once.
func (s *Session) popFromUser(value string) error {
	if s.stack.Depth() > 0 {
		_, err := s.stack.Pop(value)
		return err
	}
	if s.self.IsChild() && s.opts.Manager != nil {
		return s.complete(agenttree.Result{ReturnValue: value, Summary: s.summary()})
	}
	return contextstack.ErrEmptyStack
}

func (s *Session) complete(res agenttree.Result) error {
	if s.opts.Manager == nil {
		return errors.New("no agent tree configured")
	}
	if err := s.opts.Manager.Complete(s.Self(), res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	s.mu.Lock()
	s.result = &res
	s.mu.Unlock()
	s.ui.Info("result delivered to " + s.self.ParentID)
	return nil
}

func (s *Session) SpawnAgent(ctx context.Context, req agenttree.SpawnRequest) (agenttree.Spawned, error) {
	if s.opts.Manager == nil {
		return agenttree.Spawned{}, errors.New("no agent tree configured")
	}
	self := s.Self()
	if strings.TrimSpace(req.Model) != "" && s.opts.Catalog != nil {
		m, err := s.opts.Catalog.Resolve(req.Model)
		if err != nil {
			return agenttree.Spawned{}, err
		}
		req.Model = m.String()
	}
	spawned, err := s.opts.Manager.Spawn(ctx, self, req)
	if err != nil {
		return agenttree.Spawned{}, err
	}
	s.log.Logf(agentlog.KindAgent, "spawned %s in pane %s", spawned.AgentID, spawned.Pane)
	return spawned, nil
}

func (s *Session) WaitAgents(ctx context.Context, sel agenttree.Selector, timeout time.Duration) (agenttree.WaitResult, error) {
	if s.opts.Manager == nil {
		return agenttree.WaitResult{}, errors.New("no agent tree configured")
	}
	s.ui.Info(fmt.Sprintf("waiting for %s (Ctrl+C to stop waiting)", sel))
	return s.opts.Manager.Wait(ctx, s.Self(), sel, timeout)
}

func (s *Session) lastAssistantText() string {
	msgs := s.stack.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" && strings.TrimSpace(msgs[i].Content) != "" {
			return strings.TrimSpace(msgs[i].Content)
		}
	}
	return ""
}

func (s *Session) hasConversation() bool {
	for _, m := range s.stack.Messages() {
		if m.Role == "user" {
			return true
		}
	}
	return false
}
