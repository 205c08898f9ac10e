package main

import (
	"fmt"
	"os"

	"github.com/4thel00z/docqa/internal"
	"github.com/spf13/cobra"
)

func NewInitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a docqa.yaml with defaults",
		Long:  `Write the default configuration to the working directory (or ~/.docqa with --global) and create the corpus folder.`,
		RunE:  makeInitRunner(a),
	}

	cmd.Flags().Bool("global", false, "Initialize the global workspace (~/.docqa)")
	cmd.Flags().Bool("force", false, "Overwrite an existing configuration")
	return cmd
}

func makeInitRunner(a *app) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		isGlobal, _ := cmd.Flags().GetBool("global")
		force, _ := cmd.Flags().GetBool("force")

		ws := a.resolver.Local()
		if isGlobal {
			ws = a.resolver.Global()
		}

		if ws.Found && !force {
			return fmt.Errorf("already initialized at %s", ws.ConfigPath)
		}

		if err := internal.SaveConfig(ws, internal.DefaultConfig()); err != nil {
			return err
		}

		cfg, err := internal.LoadConfig(ws)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.CorpusPath, 0755); err != nil {
			return fmt.Errorf("create corpus directory: %w", err)
		}
		if err := os.MkdirAll(ws.StateDir(), 0755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", ws.ConfigPath)
		fmt.Fprintf(cmd.OutOrStdout(), "Put documents in %s and run 'docqa ingest'.\n", cfg.CorpusPath)
		return nil
	}
}
