package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"egg/internal/agentlog"
	"egg/internal/agenttree"
	"egg/internal/config"
	"egg/internal/llm"
	"egg/internal/mcpclient"
	"egg/internal/pane"
	"egg/internal/session"
	"egg/internal/tools"
	"egg/internal/ui"
)

type ChatCmd struct {
	Model  string `short:"m" help:"Model: display name, provider:name, alias or raw model name."`
	Yes    bool   `short:"y" help:"Auto-approve tool calls."`
	Load   string `help:"Saved chat to continue." placeholder:"FILE"`
	UI     string `name:"ui" enum:"tui,plain" default:"tui" help:"Input mode: tui or plain."`
	NoMux  bool   `help:"Run sub-agents as background processes instead of multiplexer panes."`
	Resume bool   `help:"Continue the current agent tree instead of starting a new one."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	catalog := cfg.Catalog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	mux, warn := chooseMux(cfg, c.NoMux)
	if warn != "" {
		fmt.Fprintln(os.Stderr, "warning:", warn)
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate egg binary: %w", err)
	}
	argv := []string{exe}
	if cfg.Path != "" {
		if abs, err := filepath.Abs(cfg.Path); err == nil {
			argv = append(argv, "--config", abs)
		}
	}
	argv = append(argv, "chat")
	if c.NoMux {
		argv = append(argv, "--no-mux")
	}

	managerOpts := agenttree.Options{
		Store:    agenttree.NewStore(cfg.Root),
		Mux:      mux,
		Exec:     argv,
		WorkDir:  wd,
		Poll:     time.Duration(cfg.WaitPollMs) * time.Millisecond,
		Liveness: cfg.Liveness(),
	}

	self, isChild := agenttree.SelfFromEnv(os.Getenv)
	if isChild {
		if c.Yes {
			self.AutoApprove = true
		}
		if _, ok := mux.(*pane.Tmux); ok {
			self.Pane = os.Getenv("TMUX_PANE")
		}
		self, err = agenttree.NewManager(managerOpts).LoadChild(self)
		if err != nil {
			return err
		}
	} else {
		model, err := catalog.Resolve(c.Model)
		if err != nil {
			return err
		}
		paneID := ""
		if _, ok := mux.(*pane.Tmux); ok {
			paneID = os.Getenv("TMUX_PANE")
		}
		self, err = agenttree.NewManager(managerOpts).StartRoot(ctx, agenttree.RootOptions{
			Resume:      c.Resume,
			Pane:        paneID,
			Model:       model.String(),
			AutoApprove: c.Yes,
		})
		if err != nil {
			return err
		}
	}

	logPath := strings.TrimSpace(cfg.LogFile)
	if logPath == "" {
		logPath = filepath.Join(self.Dir, "agent.log")
	}
	logOpts := agentlog.Options{Prefix: self.AgentID}
	if f, err := agentlog.OpenFile(logPath); err != nil {
		fmt.Fprintln(os.Stderr, "warning: open log:", err)
	} else {
		logOpts.File = f
	}
	log := agentlog.New(logOpts)
	defer log.Close()

	// The manager is rebuilt now that the agent's log exists.
	managerOpts.Log = log
	manager := agenttree.NewManager(managerOpts)

	registry := tools.NewRegistry()
	timeout := time.Duration(cfg.ToolTimeoutSeconds) * time.Second
	registry.Register(tools.NewBashTool(wd, timeout))
	registry.Register(tools.NewPythonTool(wd, timeout))
	registry.Register(&tools.StrReplaceEditorTool{BaseDir: wd})
	registry.Register(&tools.ReplaceLinesTool{BaseDir: wd})
	registry.Register(&tools.SearchTool{BaseDir: wd})

	mcp := mcpclient.NewRuntime(cfg.MCPServers, log)
	defer func() {
		if err := mcp.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "warning:", err)
		}
	}()
	var mcpNames []string
	reloadMCP := func(ctx context.Context) (string, error) {
		report, err := mcp.Reload(ctx)
		if err != nil {
			return "", err
		}
		mcpNames = registry.ReplaceGroup(mcpNames, mcpTools(mcp))
		return report.String(), nil
	}
	if len(cfg.MCPServers) > 0 {
		if report, err := reloadMCP(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "warning:", err)
		} else {
			log.Log(agentlog.KindInfo, report)
		}
	}
	registry.Register(&tools.MCPReloadTool{Reload: reloadMCP})

	prompt, err := cfg.ReadSystemPrompt()
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	term := ui.New(ui.Mode(c.UI), os.Stdin, os.Stdout)
	sess, err := session.New(session.Options{
		Catalog: catalog,
		Connect: func(m config.Model) (llm.Provider, error) {
			ep, err := catalog.Endpoint(m, os.Getenv)
			if err != nil {
				return nil, err
			}
			return llm.NewProvider(ep, nil)
		},
		Registry:     registry,
		Confirmer:    term.Confirmer(),
		Manager:      manager,
		Self:         self,
		SystemPrompt: prompt,
		BaseDir:      wd,
		GlobalDir:    cfg.GlobalDir,
		ChatsDir:     cfg.ChatsDir,
		MaxLines:     cfg.OutputMaxLines,
		UI:           term,
		Log:          log,
	})
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.Load) != "" {
		path, err := sess.LoadChat(c.Load)
		if err != nil {
			return err
		}
		term.Info("loaded " + path)
	}

	if !isChild {
		term.Info(fmt.Sprintf("egg (tree %s, model %s). /help lists commands, Ctrl+D sends, Ctrl+C exits.", self.TreeID, sess.Model()))
	}
	log.Logf(agentlog.KindAgent, "session started (tree=%s model=%s auto=%v)", self.TreeID, sess.Model(), self.AutoApprove)
	return sess.Run(ctx)
}

func mcpTools(rt *mcpclient.Runtime) []tools.Tool {
	list := rt.Tools()
	out := make([]tools.Tool, 0, len(list))
	for _, t := range list {
		out = append(out, t)
	}
	return out
}

// chooseMux returns tmux when configured and installed, and background
// processes otherwise. warn explains a fallback the user did not ask for.
func chooseMux(cfg config.Config, noMux bool) (pane.Multiplexer, string) {
	if noMux || cfg.Multiplexer == config.MultiplexerNone {
		return pane.NewHeadless(), ""
	}
	tmux := pane.NewTmux()
	if !tmux.Available() {
		return pane.NewHeadless(), "tmux not found; sub-agents run as background processes"
	}
	return tmux, ""
}
