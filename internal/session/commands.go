package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"egg/internal/agenttree"
	"egg/internal/contextstack"
)

const helpText = `/model [name]            list models or switch model
/push <ref> [extra]      open a sub-task context (ref: text, file, @file, /global/name)
/pop <value>             close the context with a return value
/global/<file> [extra]   push a shared command file
/yes                     toggle auto-approve for tool calls
/save                    save the chat
/load <file>             load a saved chat
/chats                   list saved chats
/tree                    show the agent tree
/attach [agent]          focus an agent's pane
/wait [all|any|ids]      wait for spawned agents
/exit                    save and exit`

// Command runs a slash command. handled is false for input that should go to
// the model as a normal message.
func (s *Session) Command(ctx context.Context, line string) (bool, error) {
	cmd, rest := splitCommand(line)
	switch {
	case cmd == "/help":
		s.ui.Info(helpText)
	case cmd == "/exit" || cmd == "/quit":
		s.exit = true
	case cmd == "/model":
		return true, s.modelCommand(rest)
	case cmd == "/push" || cmd == "/pushContext":
		ref, extra := splitCommand(rest)
		if ref == "" {
			return true, fmt.Errorf("usage: /push <ref> [extra]")
		}
		_, err := s.stack.Push(ref, extra)
		return true, err
	case strings.HasPrefix(cmd, contextstack.GlobalPrefix) && len(cmd) > len(contextstack.GlobalPrefix):
		_, err := s.stack.Push(cmd, rest)
		return true, err
	case cmd == "/pop" || cmd == "/popContext":
		return true, s.popFromUser(rest)
	case cmd == "/yes":
		on := !s.AutoApprove()
		s.SetAutoApprove(on)
		s.ui.Info(fmt.Sprintf("auto-approve %s", map[bool]string{true: "on", false: "off"}[on]))
	case cmd == "/save":
		path, err := s.SaveChat()
		if err != nil {
			return true, err
		}
		s.ui.Info("chat saved to " + path)
	case cmd == "/load":
		path, err := s.LoadChat(rest)
		if err != nil {
			return true, err
		}
		s.ui.Info(fmt.Sprintf("loaded %s (%d messages)", path, len(s.stack.Messages())))
	case cmd == "/chats":
		return true, s.chatsCommand()
	case cmd == "/tree":
		return true, s.treeCommand()
	case cmd == "/attach":
		if s.opts.Manager == nil {
			return true, fmt.Errorf("no agent tree configured")
		}
		return true, s.opts.Manager.Attach(ctx, s.Self().TreeID, rest)
	case cmd == "/wait":
		return true, s.waitCommand(ctx, rest)
	default:
		return false, nil
	}
	return true, nil
}

func splitCommand(line string) (string, string) {
	text := strings.TrimSpace(line)
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		return text[:i], strings.TrimSpace(text[i+1:])
	}
	return text, ""
}

func (s *Session) modelCommand(name string) error {
	if s.opts.Catalog == nil {
		return fmt.Errorf("no model catalogue configured")
	}
	if name != "" {
		if err := s.SetModel(name); err != nil {
			return err
		}
		s.ui.Info("model: " + s.Model().String())
		return nil
	}
	current := s.Model()
	byProvider := map[string][]string{}
	for _, m := range s.opts.Catalog.Models() {
		line := fmt.Sprintf("  %s (%s)", m.Display, m.ModelName)
		if len(m.Aliases) > 0 {
			line += " aliases: " + strings.Join(m.Aliases, ", ")
		}
		if m.String() == current.String() {
			line = "*" + line[1:]
		}
		byProvider[m.Provider] = append(byProvider[m.Provider], line)
	}
	providers := make([]string, 0, len(byProvider))
	for p := range byProvider {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	var b strings.Builder
	for _, p := range providers {
		b.WriteString(p + ":\n")
		b.WriteString(strings.Join(byProvider[p], "\n"))
		b.WriteString("\n")
	}
	s.ui.Info(strings.TrimRight(b.String(), "\n"))
	return nil
}

func (s *Session) chatsCommand() error {
	chats, err := ListChats(s.opts.ChatsDir)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		s.ui.Info("no saved chats")
		return nil
	}
	lines := make([]string, 0, len(chats))
	for _, c := range chats {
		lines = append(lines, c.Name)
	}
	s.ui.Info(strings.Join(lines, "\n"))
	return nil
}

func (s *Session) treeCommand() error {
	if s.opts.Manager == nil {
		return fmt.Errorf("no agent tree configured")
	}
	trees, err := s.opts.Manager.Store().ListTrees()
	if err != nil {
		return err
	}
	nodes, err := s.opts.Manager.Walk(s.Self().TreeID)
	if err != nil {
		return err
	}
	s.ui.ShowTree(trees, nodes)
	return nil
}

func (s *Session) waitCommand(ctx context.Context, which string) error {
	sel, err := agenttree.SelectorFromString(which)
	if err != nil {
		return err
	}
	waitCtx, stop := s.opts.Interrupt(ctx)
	defer stop()
	res, err := s.WaitAgents(waitCtx, sel, 0)
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			s.ui.Info("stopped waiting")
			return nil
		}
		return err
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	s.ui.Info(string(data))
	return nil
}

