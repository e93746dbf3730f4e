package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"egg/internal/appinfo"
)

type CLI struct {
	Config string `help:"Config file (egg.json, egg.yaml or egg.toml)." type:"path"`

	Chat    ChatCmd    `cmd:"" default:"withargs" help:"Start or continue a conversation (default)."`
	Tree    TreeCmd    `cmd:"" help:"Inspect and switch agent trees."`
	Attach  AttachCmd  `cmd:"" help:"Focus a tree's multiplexer session or an agent's pane."`
	Chats   ChatsCmd   `cmd:"" help:"List saved chats."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

func main() {
	// .env never overrides variables that are already set.
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name(appinfo.Name),
		kong.Description("Terminal chat client with recursive sub-agents."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(appinfo.Display())
	return nil
}
