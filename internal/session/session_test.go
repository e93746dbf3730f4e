package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"egg/internal/agenttree"
	"egg/internal/config"
	"egg/internal/contextstack"
	"egg/internal/gate"
	"egg/internal/llm"
	"egg/internal/pane"
	"egg/internal/toolcall"
	"egg/internal/tools"
)

// reply is one scripted model response.
type reply struct {
	text  string
	calls []toolcall.Fragment
	err   error
}

type scriptedProvider struct {
	mu       sync.Mutex
	replies  []reply
	requests []llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req llm.Request, h llm.StreamHandler) error {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if len(p.replies) == 0 {
		p.mu.Unlock()
		h.OnText("(no more replies)")
		return nil
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	p.mu.Unlock()

	if r.text != "" {
		h.OnText(r.text)
	}
	for _, f := range r.calls {
		h.OnToolCall(f)
	}
	if r.err != nil {
		return r.err
	}
	h.OnFinish("stop")
	return nil
}

func call(index int, name string, args string) []toolcall.Fragment {
	return []toolcall.Fragment{{Index: index, ID: name + "-id", Name: name}, {Index: index, Arguments: args}}
}

type fakeUI struct {
	inputs []string
	infos  []string
	warns  []string
	events []contextstack.Event
	text   strings.Builder
}

func (u *fakeUI) ReadInput(ctx context.Context, prompt string) (string, error) {
	if len(u.inputs) == 0 {
		return "", io.EOF
	}
	in := u.inputs[0]
	u.inputs = u.inputs[1:]
	return in, nil
}

func (u *fakeUI) StreamText(text string)                        { u.text.WriteString(text) }
func (u *fakeUI) EndMessage()                                   {}
func (u *fakeUI) Info(msg string)                               { u.infos = append(u.infos, msg) }
func (u *fakeUI) Warn(msg string)                               { u.warns = append(u.warns, msg) }
func (u *fakeUI) ContextChanged(evt contextstack.Event)         { u.events = append(u.events, evt) }
func (u *fakeUI) ToolStarted(call toolcall.Call, st gate.Status) {}
func (u *fakeUI) ToolFinished(out gate.Outcome)                 {}
func (u *fakeUI) ShowTree(trees []agenttree.TreeInfo, nodes []agenttree.NodeState) {
	for _, n := range nodes {
		u.infos = append(u.infos, "node "+n.AgentID)
	}
}

type echoTool struct{}

func (echoTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Type: "function", Function: llm.ToolFunctionDef{Name: "echo"}}
}

func (echoTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	return "echo " + string(args), nil
}

func newSession(t *testing.T, provider *scriptedProvider, ui *fakeUI, self agenttree.Self, m *agenttree.Manager, mutate ...func(*Options)) *Session {
	t.Helper()
	reg := tools.NewRegistry()
	reg.Register(echoTool{})
	opts := Options{
		Connect:      func(config.Model) (llm.Provider, error) { return provider, nil },
		Registry:     reg,
		Manager:      m,
		Self:         self,
		SystemPrompt: "you are egg",
		BaseDir:      t.TempDir(),
		ChatsDir:     filepath.Join(t.TempDir(), "chats"),
		MaxLines:     100,
		MaxSteps:     10,
		UI:           ui,
		Now:          func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
		Interrupt: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return context.WithCancel(ctx)
		},
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestToolDrivenPushPopReturnsValue(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{replies: []reply{
		{calls: call(0, "pushContext", `{"context":"Summarize X"}`)},
		{text: "working", calls: call(0, "popContext", `{"return_value":"X is summarized"}`)},
		{text: "done"},
	}}
	ui := &fakeUI{}
	s := newSession(t, provider, ui, agenttree.Self{AutoApprove: true}, nil)

	if err := s.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if s.stack.Depth() != 0 {
		t.Fatalf("expected to be back at the root, depth %d", s.stack.Depth())
	}

	msgs := s.stack.Messages()
	roles := make([]string, 0, len(msgs))
	for _, m := range msgs {
		roles = append(roles, m.Role)
	}
	if !reflect.DeepEqual(roles, []string{"system", "user", "assistant", "tool", "user", "assistant"}) {
		t.Fatalf("unexpected root roles %v", roles)
	}
	if msgs[4].Content != "Return value: X is summarized" || msgs[5].Content != "done" {
		t.Fatalf("unexpected root tail: %+v", msgs[4:])
	}

	pushed := provider.requests[1].Messages
	if len(pushed) != 2 || pushed[0].Role != "system" || !strings.HasPrefix(pushed[1].Content, "Summarize X") {
		t.Fatalf("second model call should see only the new frame: %+v", pushed)
	}
	if len(ui.events) != 2 || ui.events[0].Kind != contextstack.EventPush || ui.events[1].Kind != contextstack.EventPop {
		t.Fatalf("unexpected context events %+v", ui.events)
	}
}

func TestPopOnRootIsReportedToModel(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{replies: []reply{
		{calls: call(0, "popContext", `{"return_value":"v"}`)},
		{text: "ok"},
	}}
	s := newSession(t, provider, &fakeUI{}, agenttree.Self{AutoApprove: true}, nil)
	if err := s.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msgs := s.stack.Messages()
	tool := msgs[3]
	if tool.Role != "tool" || tool.Content != "ERROR: "+contextstack.ErrEmptyStack.Error() {
		t.Fatalf("unexpected tool result %+v", tool)
	}
}

func TestInvalidCallDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()

	frags := append(call(0, "echo", `{"a":`), call(1, "echo", `{"b":2}`)...)
	provider := &scriptedProvider{replies: []reply{{calls: frags}, {text: "fine"}}}
	s := newSession(t, provider, &fakeUI{}, agenttree.Self{AutoApprove: true}, nil)
	if err := s.Send(context.Background(), "go"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msgs := s.stack.Messages()
	if !strings.HasPrefix(msgs[3].Content, "Error: Invalid arguments.") {
		t.Fatalf("expected invalid-arguments result, got %q", msgs[3].Content)
	}
	if msgs[4].Content != `echo {"b":2}` {
		t.Fatalf("sibling call should run, got %q", msgs[4].Content)
	}
	if msgs[2].ToolCalls[0].Function.Arguments != "{}" {
		t.Fatalf("invalid call arguments should be normalized in history")
	}
}

func TestContentFallbackRunsTools(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{replies: []reply{
		{text: `{"name":"echo","arguments":{"x":1}}`},
		{text: "after"},
	}}
	s := newSession(t, provider, &fakeUI{}, agenttree.Self{AutoApprove: true}, nil)
	if err := s.Send(context.Background(), "go"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msgs := s.stack.Messages()
	if len(msgs[2].ToolCalls) != 1 || msgs[2].ToolCalls[0].ID != "fallback-1" {
		t.Fatalf("expected a recovered call, got %+v", msgs[2])
	}
	if msgs[3].Content != `echo {"x":1}` {
		t.Fatalf("unexpected tool result %q", msgs[3].Content)
	}
}

func TestDeniedCallReturnsSentinel(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{replies: []reply{{calls: call(0, "echo", `{}`)}, {text: "ok"}}}
	reg := tools.NewRegistry()
	reg.Register(echoTool{})
	s, err := New(Options{
		Connect:   func(config.Model) (llm.Provider, error) { return provider, nil },
		Registry:  reg,
		Confirmer: gate.ConfirmFunc(func(context.Context, toolcall.Call) (gate.Decision, error) { return gate.DenyOne, nil }),
		UI:        &fakeUI{},
		Interrupt: func(ctx context.Context) (context.Context, context.CancelFunc) { return context.WithCancel(ctx) },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Send(context.Background(), "go"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := s.stack.Messages()[2].Content; got != gate.SkippedByUser {
		t.Fatalf("expected skipped sentinel, got %q", got)
	}
}

func TestModelErrorKeepsPartialText(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{replies: []reply{{text: "half", err: errors.New("stream reset")}}}
	s := newSession(t, provider, &fakeUI{}, agenttree.Self{}, nil)
	err := s.Send(context.Background(), "go")
	if err == nil || !strings.Contains(err.Error(), "stream reset") {
		t.Fatalf("expected stream error, got %v", err)
	}
	msgs := s.stack.Messages()
	if last := msgs[len(msgs)-1]; last.Role != "assistant" || last.Content != "half" {
		t.Fatalf("partial text should be kept, got %+v", last)
	}
}

func newTree(t *testing.T) (*agenttree.Manager, agenttree.Self) {
	t.Helper()
	m := agenttree.NewManager(agenttree.Options{
		Store:   agenttree.NewStore(t.TempDir()),
		Mux:     pane.NewRecorder(),
		Exec:    []string{"egg", "chat"},
		WorkDir: t.TempDir(),
		Poll:    10 * time.Millisecond,
	})
	root, err := m.StartRoot(context.Background(), agenttree.RootOptions{Pane: "%0"})
	if err != nil {
		t.Fatalf("StartRoot failed: %v", err)
	}
	return m, root
}

func spawnChild(t *testing.T, m *agenttree.Manager, root agenttree.Self, task string) agenttree.Self {
	t.Helper()
	sp, err := m.Spawn(context.Background(), root, agenttree.SpawnRequest{Initiator: task, Label: "worker"})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	self, err := m.LoadChild(agenttree.Self{TreeID: sp.TreeID, AgentID: sp.AgentID, AutoApprove: true})
	if err != nil {
		t.Fatalf("LoadChild failed: %v", err)
	}
	return self
}

func TestChildPopOnTopFrameDeliversResult(t *testing.T) {
	t.Parallel()

	m, root := newTree(t)
	self := spawnChild(t, m, root, "compute the answer")

	provider := &scriptedProvider{replies: []reply{
		{text: "<summary>answer</summary>", calls: call(0, "popContext", `{"return_value":"42"}`)},
	}}
	ui := &fakeUI{inputs: []string{"should never be read"}}
	s := newSession(t, provider, ui, self, m)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if first := provider.requests[0].Messages; first[len(first)-1].Content != "compute the answer" {
		t.Fatalf("child should start from its initial context, got %+v", first)
	}
	res, ok := agenttree.ReadResult(self.Dir)
	if !ok || res.ReturnValue != "42" || res.Summary != "answer" || res.Error != "" {
		t.Fatalf("unexpected result %+v (ok=%v)", res, ok)
	}
	if len(ui.inputs) != 1 {
		t.Fatalf("a finished child must not read more input")
	}

	waited, err := m.Wait(context.Background(), root, agenttree.Selector{Mode: agenttree.WaitAll}, 0)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if !reflect.DeepEqual(waited.Completed, []string{self.AgentID}) {
		t.Fatalf("parent should see the child completed: %+v", waited)
	}
}

func TestChildInputClosedStillReports(t *testing.T) {
	t.Parallel()

	m, root := newTree(t)
	self := spawnChild(t, m, root, "task")

	provider := &scriptedProvider{replies: []reply{{text: "partial answer"}}}
	s := newSession(t, provider, &fakeUI{}, self, m)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	res, ok := agenttree.ReadResult(self.Dir)
	if !ok || res.ReturnValue != "partial answer" || res.Error != "input closed before popContext" {
		t.Fatalf("unexpected result %+v (ok=%v)", res, ok)
	}
}

func TestSlashCommands(t *testing.T) {
	t.Parallel()

	global := t.TempDir()
	if err := os.WriteFile(filepath.Join(global, "review.md"), []byte("Review it."), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := newSession(t, &scriptedProvider{}, &fakeUI{}, agenttree.Self{}, nil, func(o *Options) { o.GlobalDir = global })
	ctx := context.Background()

	if handled, err := s.Command(ctx, "/yes"); !handled || err != nil || !s.AutoApprove() {
		t.Fatalf("/yes: handled=%v err=%v auto=%v", handled, err, s.AutoApprove())
	}
	if handled, err := s.Command(ctx, "/global/review.md now"); !handled || err != nil {
		t.Fatalf("/global: handled=%v err=%v", handled, err)
	}
	if msgs := s.stack.Messages(); !strings.HasPrefix(msgs[len(msgs)-1].Content, "Review it.\n\nnow") {
		t.Fatalf("unexpected pushed frame %+v", msgs)
	}
	if _, err := s.Command(ctx, "/pop reviewed"); err != nil {
		t.Fatalf("/pop failed: %v", err)
	}
	if _, err := s.Command(ctx, "/pop again"); !errors.Is(err, contextstack.ErrEmptyStack) {
		t.Fatalf("expected ErrEmptyStack, got %v", err)
	}
	if _, err := s.Command(ctx, "/push @missing.txt"); !errors.Is(err, contextstack.ErrReferenceNotFound) {
		t.Fatalf("expected ErrReferenceNotFound, got %v", err)
	}
	if handled, _ := s.Command(ctx, "/not-a-command"); handled {
		t.Fatalf("unknown slash text should go to the model")
	}
	if _, err := s.Command(ctx, "/tree"); err == nil {
		t.Fatalf("/tree without a tree should fail")
	}
}
