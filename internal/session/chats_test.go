package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"egg/internal/agenttree"
	"egg/internal/llm"
)

func TestChatFileName(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	cases := []struct {
		summary string
		want    string
	}{
		{"", "20260304_050607_unnamed_chat.json"},
		{"fix login bug", "20260304_050607_fix_login_bug.json"},
		{"a/b:c*d", "20260304_050607_abcd.json"},
		{"   ", "20260304_050607_unnamed_chat.json"},
		{"!!!", "20260304_050607_unnamed_chat.json"},
	}
	for _, tc := range cases {
		if got := ChatFileName(now, tc.summary); got != tc.want {
			t.Fatalf("ChatFileName(%q) = %q, want %q", tc.summary, got, tc.want)
		}
	}
}

func TestSummaryUsesLastTag(t *testing.T) {
	t.Parallel()

	msgs := []llm.Message{
		llm.AssistantMessage("<summary>first</summary>", nil),
		llm.UserMessage("<summary>from user</summary>"),
		llm.AssistantMessage("text <summary>one</summary> more <summary> second </summary>", nil),
		llm.AssistantMessage("no tag here", nil),
	}
	if got := Summary(msgs); got != "second" {
		t.Fatalf("Summary = %q, want %q", got, "second")
	}
	if got := Summary(nil); got != "" {
		t.Fatalf("Summary(nil) = %q", got)
	}
}

func TestSaveLoadChatRoundTrip(t *testing.T) {
	t.Parallel()

	provider := &scriptedProvider{replies: []reply{{text: "hi <summary>greeting</summary>"}}}
	s := newSession(t, provider, &fakeUI{}, agenttree.Self{}, nil)
	if err := s.Send(t.Context(), "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	path, err := s.SaveChat()
	if err != nil {
		t.Fatalf("SaveChat failed: %v", err)
	}
	if filepath.Base(path) != "20260102_030405_greeting.json" {
		t.Fatalf("unexpected chat file %s", path)
	}

	other := newSession(t, &scriptedProvider{}, &fakeUI{}, agenttree.Self{}, nil, func(o *Options) {
		o.ChatsDir = filepath.Dir(path)
	})
	if _, err := other.LoadChat("20260102_030405_greeting"); err != nil {
		t.Fatalf("LoadChat failed: %v", err)
	}
	msgs := other.Stack().Messages()
	if len(msgs) != 3 || msgs[0].Role != "system" || msgs[1].Content != "hello" {
		t.Fatalf("unexpected loaded messages %+v", msgs)
	}

	chats, err := ListChats(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ListChats failed: %v", err)
	}
	if len(chats) != 1 || chats[0].Name != filepath.Base(path) {
		t.Fatalf("unexpected chats %+v", chats)
	}
}

func TestLoadChatAcceptsMessageList(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "old.json")
	data := `[{"role":"user","content":"from an old save"}]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := newSession(t, &scriptedProvider{}, &fakeUI{}, agenttree.Self{}, nil)
	if _, err := s.LoadChat(path); err != nil {
		t.Fatalf("LoadChat failed: %v", err)
	}
	msgs := s.Stack().Messages()
	if len(msgs) != 2 || msgs[0].Content != "you are egg" || msgs[1].Content != "from an old save" {
		t.Fatalf("system prompt should be prepended, got %+v", msgs)
	}
}

func TestListChatsMissingDir(t *testing.T) {
	t.Parallel()

	chats, err := ListChats(filepath.Join(t.TempDir(), "none"))
	if err != nil || len(chats) != 0 {
		t.Fatalf("expected no chats, got %v %v", chats, err)
	}
}

func TestRootExitSavesChat(t *testing.T) {
	t.Parallel()

	ui := &fakeUI{inputs: []string{"hello", "/exit"}}
	s := newSession(t, &scriptedProvider{replies: []reply{{text: "bye"}}}, ui, agenttree.Self{}, nil)
	if err := s.Run(t.Context()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	chats, err := ListChats(s.opts.ChatsDir)
	if err != nil || len(chats) != 1 || chats[0].Name != "20260102_030405_unnamed_chat.json" {
		t.Fatalf("expected one saved chat, got %+v %v", chats, err)
	}
}
