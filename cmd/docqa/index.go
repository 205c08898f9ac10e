package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewIndexCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect or reset the vector index",
	}

	cmd.AddCommand(
		newIndexStatusCmd(a),
		newIndexResetCmd(a),
	)

	return cmd
}

func newIndexStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index and ledger status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}

			st, err := svc.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("index status: %w", err)
			}
			if wantJSON(cmd) {
				return printJSON(cmd, st)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Index:    %s\n", st.Path)
			switch {
			case !st.Exists:
				fmt.Fprintln(out, "          not built yet")
			case st.Error != "":
				fmt.Fprintf(out, "          unusable: %s\n", st.Error)
				fmt.Fprintln(out, "          run 'docqa index reset --yes' then 'docqa ingest'")
			default:
				fmt.Fprintf(out, "Entries:  %d chunks from %d files\n", st.Entries, st.Sources)
				fmt.Fprintf(out, "Model:    %s (%d dims)\n", st.Model, st.Dimension)
			}
			fmt.Fprintf(out, "Ledger:   %d files\n", st.Ledger)
			fmt.Fprintf(out, "Pending:  %d files\n", len(st.Pending))
			return nil
		},
	}
}

func newIndexResetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the index and the ledger",
		Long:  `Delete the index and the ledger so the next ingestion rebuilds everything. Required after the index is reported corrupt or built with another model.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return fmt.Errorf("refusing to delete the index without --yes")
			}

			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			if err := svc.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("reset index: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Index and ledger removed. Run 'docqa ingest' to rebuild.")
			return nil
		},
	}

	cmd.Flags().Bool("yes", false, "Confirm deletion")
	return cmd
}
