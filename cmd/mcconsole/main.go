package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "mcconsole",
		Short: "Minecraft server supervision and console API",
		Long: `mcconsole supervises Minecraft server processes and exposes their
consoles over an authenticated HTTP API: command execution with response
correlation, live console streaming (SSE/NDJSON), scheduled restarts with
in-game warnings, and player session analytics.

Examples:
  mcconsole serve --config=mcconsole.toml
  mcconsole apikey generate --name=admin --admin
  mcconsole apikey list`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "mcconsole.toml", "path to TOML config file")

	root.AddCommand(
		createServeCommand(flags),
		createAPIKeyCommand(flags),
	)
	return root
}
