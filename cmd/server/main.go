package main

import (
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath   string
	noWorkspace  bool
	workspaceDir string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	serve := &serveCmd{root: flags}

	root := &cobra.Command{
		Use:   "hintnav-mcp",
		Short: "Keyboard hint navigation for Chrome over MCP",
		Long: `hintnav-mcp labels the clickable elements of a Chrome page, every frame included,
with short keyboard hints and runs the action of the hint that gets typed.

Without a subcommand it serves the MCP tools, like "hintnav-mcp serve".`,
		SilenceUsage: true,
		RunE:         serve.run,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to an explicit config file layered over the workspace config")
	root.PersistentFlags().BoolVar(&flags.noWorkspace, "no-workspace", false, "skip .hintnav workspace discovery")
	root.PersistentFlags().StringVar(&flags.workspaceDir, "workspace-dir", "", "use this directory as the workspace root")
	root.Flags().IntVar(&serve.ssePort, "sse-port", 0, "serve SSE on this port instead of stdio (overrides config)")

	root.AddCommand(
		getCmdServe(serve),
		getCmdLabels(),
		getCmdBlacklist(flags),
		getCmdInit(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
