package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"hintnav-mcp-server/internal/config"
	"hintnav-mcp-server/internal/hint"
	"hintnav-mcp-server/internal/settings"
)

type labelsCmd struct {
	alphabet string
	count    int
}

func (c *labelsCmd) run(cmd *cobra.Command, _ []string) error {
	if c.count < 0 {
		return fmt.Errorf("count must not be negative, got %d", c.count)
	}
	if len(hint.Letters(c.alphabet)) == 0 {
		return fmt.Errorf("alphabet %q has no letters", c.alphabet)
	}
	labels := hint.NewLabelSequence(c.alphabet).Take(c.count)
	_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(labels, " "))
	return err
}

func getCmdLabels() *cobra.Command {
	c := &labelsCmd{}
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "Print the first hint labels for an alphabet",
		Long: `Print the first n hint labels in assignment order: every letter, every letter
doubled, then each earlier label prefixed by every other letter.`,
		Example: "  hintnav-mcp labels --alphabet asdf -n 12",
		Args:    cobra.NoArgs,
		RunE:    c.run,
	}
	cmd.Flags().StringVar(&c.alphabet, "alphabet", settings.DefaultAlphabet, "hint alphabet")
	cmd.Flags().IntVarP(&c.count, "count", "n", 20, "number of labels")
	return cmd
}

type blacklistCmd struct {
	root *rootFlags
}

func (c *blacklistCmd) run(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(c.root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := settings.Open(afero.NewReadOnlyFs(afero.NewOsFs()), cfg.Settings.Path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, url := range args {
		matched := store.MatchBlacklist(url)
		if len(matched) == 0 {
			fmt.Fprintf(out, "%s\tallowed\n", url)
			continue
		}
		fmt.Fprintf(out, "%s\tblacklisted\t%s\n", url, strings.Join(matched, ", "))
	}
	return nil
}

func getCmdBlacklist(root *rootFlags) *cobra.Command {
	c := &blacklistCmd{root: root}
	return &cobra.Command{
		Use:   "blacklist URL...",
		Short: "Check URLs against the settings blacklist",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.run,
	}
}

func getCmdInit() *cobra.Command {
	return &cobra.Command{
		Use:   "init [DIR]",
		Short: "Create a .hintnav workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			} else if wd, err := os.Getwd(); err == nil {
				dir = wd
			}
			if err := config.InitWorkspace(dir); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "created %s workspace in %s\n", config.WorkspaceDirName, dir)
			return err
		},
	}
}
