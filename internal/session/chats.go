package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"egg/internal/llm"
)

var summaryTag = regexp.MustCompile(`(?s)<summary>(.*?)</summary>`)

const unnamedChat = "unnamed_chat"

// Chat is the on-disk form of a saved conversation.
type Chat struct {
	SavedAt  time.Time     `json:"saved_at"`
	Model    string        `json:"model,omitempty"`
	Summary  string        `json:"summary,omitempty"`
	Messages []llm.Message `json:"messages"`
}

type ChatInfo struct {
	Name    string
	Path    string
	ModTime time.Time
}

// Summary returns the text of the last <summary> tag in an assistant message.
func Summary(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != "assistant" {
			continue
		}
		matches := summaryTag.FindAllStringSubmatch(msgs[i].Content, -1)
		if len(matches) == 0 {
			continue
		}
		if text := strings.TrimSpace(matches[len(matches)-1][1]); text != "" {
			return text
		}
	}
	return ""
}

func (s *Session) summary() string { return Summary(s.stack.Messages()) }

// ChatFileName builds <YYYYMMDD_HHMMSS>_<summary>.json with the summary
// reduced to letters, digits, '_' and '-'.
func ChatFileName(now time.Time, summary string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(summary) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n':
			b.WriteRune('_')
		}
		if b.Len() >= 60 {
			break
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = unnamedChat
	}
	return now.Format("20060102_150405") + "_" + name + ".json"
}

// SaveChat writes the active context to the chats directory.
func (s *Session) SaveChat() (string, error) {
	dir := strings.TrimSpace(s.opts.ChatsDir)
	if dir == "" {
		return "", errors.New("no chats directory configured")
	}
	msgs := s.stack.Messages()
	chat := Chat{
		SavedAt:  s.opts.Now(),
		Model:    s.Model().String(),
		Summary:  Summary(msgs),
		Messages: msgs,
	}
	path := filepath.Join(dir, ChatFileName(chat.SavedAt, chat.Summary))
	if err := writeChat(path, chat); err != nil {
		return "", err
	}
	return path, nil
}

func writeChat(path string, chat Chat) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp_chat_*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(chat); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// ReadChat accepts a saved Chat or a bare list of messages.
func ReadChat(path string) (Chat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Chat{}, err
	}
	var list []llm.Message
	if err := json.Unmarshal(data, &list); err == nil {
		return Chat{Messages: list}, nil
	}
	var chat Chat
	if err := json.Unmarshal(data, &chat); err != nil {
		return Chat{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return chat, nil
}

// LoadChat replaces the active context with a saved chat. A bare name is
// looked up in the chats directory.
func (s *Session) LoadChat(name string) (string, error) {
	path := strings.TrimSpace(name)
	if path == "" {
		return "", errors.New("usage: /load <chat file>")
	}
	if _, err := os.Stat(path); err != nil && s.opts.ChatsDir != "" {
		candidate := filepath.Join(s.opts.ChatsDir, path)
		if !strings.HasSuffix(candidate, ".json") {
			candidate += ".json"
		}
		if _, statErr := os.Stat(candidate); statErr == nil {
			path = candidate
		}
	}
	chat, err := ReadChat(path)
	if err != nil {
		return "", err
	}
	msgs := chat.Messages
	if len(msgs) == 0 || msgs[0].Role != "system" {
		if sys := s.systemMessage(); sys != nil {
			msgs = append([]llm.Message{*sys}, msgs...)
		}
	}
	s.stack.Replace(msgs)
	if strings.TrimSpace(chat.Model) != "" && s.opts.Catalog != nil {
		if err := s.SetModel(chat.Model); err != nil {
			s.ui.Warn(fmt.Sprintf("model %s from chat: %v", chat.Model, err))
		}
	}
	return path, nil
}

func (s *Session) systemMessage() *llm.Message {
	msgs := s.stack.Messages()
	if len(msgs) > 0 && msgs[0].Role == "system" {
		m := msgs[0]
		return &m
	}
	return nil
}

// ListChats returns saved chats, newest first.
func ListChats(dir string) ([]ChatInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []ChatInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, ChatInfo{Name: e.Name(), Path: filepath.Join(dir, e.Name()), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}
