package main

import (
	"context"
	"fmt"
	"os"

	"egg/internal/agenttree"
	"egg/internal/config"
	"egg/internal/session"
	"egg/internal/ui"
)

type TreeCmd struct {
	List TreeListCmd `cmd:"" default:"1" help:"List agent trees; the current one is marked with *."`
	Use  TreeUseCmd  `cmd:"" help:"Make a tree the current one."`
}

type TreeListCmd struct{}

func (c *TreeListCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	trees, err := agenttree.NewStore(cfg.Root).ListTrees()
	if err != nil {
		return err
	}
	fmt.Print(ui.FormatTrees(trees))
	return nil
}

type TreeUseCmd struct {
	ID string `arg:"" help:"Tree id."`
}

func (c *TreeUseCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if err := agenttree.NewStore(cfg.Root).Use(c.ID); err != nil {
		return err
	}
	fmt.Println("current tree:", c.ID)
	return nil
}

type AttachCmd struct {
	Tree  string `arg:"" optional:"" help:"Tree id (default: current tree)."`
	Agent string `arg:"" optional:"" help:"Agent id (default: the tree's session)."`
	NoMux bool   `help:"Treat agents as background processes instead of multiplexer panes."`
}

func (c *AttachCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	mux, warn := chooseMux(cfg, c.NoMux)
	if warn != "" {
		fmt.Fprintln(os.Stderr, "warning:", warn)
	}
	m := agenttree.NewManager(agenttree.Options{Store: agenttree.NewStore(cfg.Root), Mux: mux})
	return m.Attach(context.Background(), c.Tree, c.Agent)
}

type ChatsCmd struct{}

func (c *ChatsCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	chats, err := session.ListChats(cfg.ChatsDir)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		fmt.Println("(no saved chats)")
		return nil
	}
	for _, chat := range chats {
		fmt.Printf("%s  %s\n", chat.ModTime.Local().Format("2006-01-02 15:04"), chat.Name)
	}
	return nil
}
