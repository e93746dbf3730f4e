// Package session runs one agent's conversation: streamed model turns, gated
// tool calls, the context stack and the slash commands typed by the user.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"egg/internal/agentlog"
	"egg/internal/agenttree"
	"egg/internal/config"
	"egg/internal/contextstack"
	"egg/internal/gate"
	"egg/internal/llm"
	"egg/internal/toolcall"
	"egg/internal/tools"
)

var errExitCommand = errors.New("agent closed with /exit")

// UI is everything the session needs from the terminal.
type UI interface {
	gate.Observer
	// ReadInput returns io.EOF when the user closes the input.
	ReadInput(ctx context.Context, prompt string) (string, error)
	StreamText(text string)
	EndMessage()
	Info(msg string)
	Warn(msg string)
	ContextChanged(evt contextstack.Event)
	ShowTree(trees []agenttree.TreeInfo, nodes []agenttree.NodeState)
}

// Connector builds a provider for a catalogue model.
type Connector func(m config.Model) (llm.Provider, error)

type Options struct {
	Catalog   *config.Catalog
	Connect   Connector
	Registry  *tools.Registry
	Confirmer gate.Confirmer
	Manager   *agenttree.Manager
	Self      agenttree.Self

	SystemPrompt string
	BaseDir      string
	GlobalDir    string
	ChatsDir     string
	MaxLines     int
	MaxTokens    int
	// MaxSteps bounds model calls per user message; zero means no bound.
	MaxSteps int

	UI  UI
	Log *agentlog.Logger
	Now func() time.Time
	// Interrupt lets tests replace the per-turn SIGINT context.
	Interrupt func(ctx context.Context) (context.Context, context.CancelFunc)
}

type Session struct {
	opts  Options
	ui    UI
	log   *agentlog.Logger
	stack *contextstack.Stack
	gate  *gate.Gate

	mu       sync.Mutex
	self     agenttree.Self
	model    config.Model
	provider llm.Provider
	pending  []stackOp
	result   *agenttree.Result
	exit     bool
}

func New(opts Options) (*Session, error) {
	if opts.UI == nil {
		return nil, errors.New("session: UI is required")
	}
	if opts.Registry == nil {
		opts.Registry = tools.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Interrupt == nil {
		opts.Interrupt = func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		}
	}
	s := &Session{opts: opts, ui: opts.UI, log: opts.Log, self: opts.Self}

	prompt := strings.TrimSpace(opts.SystemPrompt)
	if s.self.IsChild() {
		prompt += fmt.Sprintf("\n\nYou are sub-agent %s of agent %s. Work on the task you were given. "+
			"When it is done, call popContext with the result; that delivers it to your parent and ends this agent.",
			s.self.AgentID, s.self.ParentID)
	}
	var root []llm.Message
	if prompt != "" {
		root = append(root, llm.SystemMessage(prompt))
	}
	s.stack = contextstack.New(root, contextstack.Options{
		BaseDir:   opts.BaseDir,
		GlobalDir: opts.GlobalDir,
		OnChange: func(evt contextstack.Event) {
			s.log.Logf(agentlog.KindInfo, "context %s: frame=%s depth=%d", evt.Kind, evt.FrameID, evt.Depth)
			s.ui.ContextChanged(evt)
		},
	})
	s.gate = gate.New(gate.Options{
		Registry:    opts.Registry,
		Confirmer:   opts.Confirmer,
		AutoApprove: s.AutoApprove,
		MaxLines:    opts.MaxLines,
		OverflowDir: overflowDir(s.self.Dir),
		Observer:    opts.UI,
		Log:         opts.Log,
	})
	s.registerCoreTools()

	if opts.Catalog != nil {
		if err := s.SetModel(s.self.Model); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func overflowDir(agentDir string) string {
	if strings.TrimSpace(agentDir) == "" {
		return ""
	}
	return agentDir + string(os.PathSeparator) + "overflow"
}

func (s *Session) registerCoreTools() {
	reg := s.opts.Registry
	reg.Register(&tools.PushContextTool{Ops: s})
	reg.Register(&tools.PopContextTool{Ops: s})
	if s.opts.Manager != nil {
		reg.Register(&tools.SpawnAgentTool{Ops: s, BaseDir: s.opts.BaseDir, GlobalDir: s.opts.GlobalDir})
		reg.Register(&tools.WaitAgentsTool{Ops: s})
	}
}

func (s *Session) Stack() *contextstack.Stack { return s.stack }

func (s *Session) Self() agenttree.Self {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *Session) Model() config.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetModel switches the model for every later turn. It is process-wide state
// and survives push and pop.
func (s *Session) SetModel(name string) error {
	if s.opts.Catalog == nil {
		return errors.New("no model catalogue configured")
	}
	m, err := s.opts.Catalog.Resolve(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.model = m
	s.provider = nil
	s.self.Model = m.String()
	s.mu.Unlock()
	s.log.Logf(agentlog.KindInfo, "model: %s (%s)", m, m.ModelName)
	return nil
}

func (s *Session) AutoApprove() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self.AutoApprove
}

func (s *Session) SetAutoApprove(v bool) {
	s.mu.Lock()
	s.self.AutoApprove = v
	s.mu.Unlock()
}

// Finished reports whether this agent has delivered its result.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result != nil
}

func (s *Session) providerFor() (llm.Provider, config.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider != nil {
		return s.provider, s.model, nil
	}
	if s.opts.Connect == nil {
		return nil, s.model, errors.New("no model provider configured")
	}
	p, err := s.opts.Connect(s.model)
	if err != nil {
		return nil, s.model, fmt.Errorf("connect %s: %w", s.model, err)
	}
	s.provider = p
	return p, s.model, nil
}

// Run reads user input until exit. A child first works on its initial
// context, and stops as soon as it has delivered its result.
func (s *Session) Run(ctx context.Context) error {
	if s.self.IsChild() {
		initial, err := agenttree.InitContext(s.self.Dir)
		if err != nil {
			return fmt.Errorf("read initial context: %w", err)
		}
		if err := s.Send(ctx, initial); err != nil {
			s.ui.Warn(err.Error())
		}
	}
	for !s.Finished() && !s.exit {
		if ctx.Err() != nil {
			return s.shutdown(ctx.Err())
		}
		text, err := s.ui.ReadInput(ctx, s.prompt())
		if errors.Is(err, io.EOF) {
			return s.shutdown(nil)
		}
		if err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "/") {
			if handled, err := s.Command(ctx, text); handled {
				if err != nil {
					s.ui.Warn(err.Error())
				}
				continue
			}
		}
		if err := s.Send(ctx, text); err != nil {
			s.ui.Warn(err.Error())
			s.log.Logf(agentlog.KindError, "turn failed: %v", err)
		}
	}
	if s.exit {
		return s.shutdown(errExitCommand)
	}
	return nil
}

// shutdown ends the session when input closes. A child that never popped its
// context still reports back so that its parent does not wait forever.
func (s *Session) shutdown(cause error) error {
	if s.self.IsChild() && !s.Finished() && s.opts.Manager != nil {
		reason := "input closed before popContext"
		if cause != nil {
			reason = cause.Error()
		}
		res := agenttree.Result{ReturnValue: s.lastAssistantText(), Summary: s.summary(), Error: reason}
		if err := s.complete(res); err != nil {
			return err
		}
		return nil
	}
	if !s.self.IsChild() {
		s.saveOnExit()
	}
	return nil
}

func (s *Session) saveOnExit() {
	if !s.hasConversation() {
		return
	}
	path, err := s.SaveChat()
	if err != nil {
		s.ui.Warn(fmt.Sprintf("save chat: %v", err))
		return
	}
	s.ui.Info("chat saved to " + path)
}

func (s *Session) prompt() string {
	self := s.Self()
	name := "egg"
	if self.IsChild() {
		name = "egg:" + self.AgentID
	}
	if d := s.stack.Depth(); d > 0 {
		name += fmt.Sprintf(" [ctx %d]", d)
	}
	if self.AutoApprove {
		name += " (auto)"
	}
	return name + " > "
}

// Send appends a user message and runs model steps until the model stops
// calling tools. SIGINT aborts only this turn.
func (s *Session) Send(ctx context.Context, text string) error {
	turnCtx, stop := s.opts.Interrupt(ctx)
	defer stop()
	s.stack.Append(llm.UserMessage(text))
	s.log.Logf(agentlog.KindInfo, "user: %s", agentlog.Preview(text, 160))

	for step := 0; s.opts.MaxSteps <= 0 || step < s.opts.MaxSteps; step++ {
		more, err := s.step(turnCtx)
		if err != nil {
			if turnCtx.Err() != nil && ctx.Err() == nil {
				s.ui.Info("interrupted")
				return nil
			}
			return err
		}
		if !more || s.Finished() {
			return nil
		}
		if turnCtx.Err() != nil {
			s.ui.Info("interrupted")
			return nil
		}
	}
	s.ui.Warn(fmt.Sprintf("stopped after %d model calls in one turn", s.opts.MaxSteps))
	return nil
}

// step performs one model call and runs the tool calls it produced. more is
// true when tool results were added and the model should be called again.
func (s *Session) step(ctx context.Context) (bool, error) {
	provider, model, err := s.providerFor()
	if err != nil {
		return false, err
	}
	asm := toolcall.NewAssembler()
	stream := &turnStream{asm: asm, ui: s.ui}
	req := llm.Request{
		Model:     model.ModelName,
		Messages:  s.stack.Messages(),
		Tools:     s.opts.Registry.Definitions(),
		MaxTokens: s.opts.MaxTokens,
	}
	streamErr := provider.Stream(ctx, req, stream)
	calls := asm.Finish()
	text := asm.Text()
	s.ui.EndMessage()

	if streamErr != nil {
		if strings.TrimSpace(text) != "" {
			s.stack.Append(llm.AssistantMessage(text, nil))
		}
		kind := llm.ClassifyError(streamErr)
		return false, fmt.Errorf("model call failed (%s): %w", kind, streamErr)
	}
	if len(calls) == 0 {
		calls = toolcall.ParseContent(text)
		if len(calls) > 0 {
			s.log.Logf(agentlog.KindWarn, "recovered %d tool call(s) from message text", len(calls))
		}
	}

	assistant := llm.AssistantMessage(text, calls)
	s.stack.Append(assistant)
	if len(calls) == 0 {
		return false, nil
	}

	outcomes := s.gate.RunAll(ctx, calls)
	for i, out := range outcomes {
		s.stack.Append(llm.ToolResultMessage(assistant.ToolCalls[i], out.Content))
	}
	if err := s.applyPending(); err != nil {
		return false, err
	}
	return true, nil
}

type turnStream struct {
	asm *toolcall.Assembler
	ui  UI
}

func (t *turnStream) OnText(text string) {
	t.asm.AddText(text)
	t.ui.StreamText(text)
}

func (t *turnStream) OnToolCall(f toolcall.Fragment) { t.asm.AddFragment(f) }

func (t *turnStream) OnFinish(reason string) { t.asm.MarkFinished(reason) }
