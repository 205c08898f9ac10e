package main

import (
	"fmt"

	"github.com/4thel00z/docqa/internal"
	"github.com/spf13/cobra"
)

func NewIngestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index documents that are not in the ledger yet",
		Long:  `Extract, chunk and embed every new corpus file, save the index, then record the files in the ledger.`,
		RunE:  makeIngestRunner(a),
	}

	cmd.Flags().Bool("dry-run", false, "List the files that would be ingested")
	return cmd
}

func makeIngestRunner(a *app) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		svc, err := a.service(cmd)
		if err != nil {
			return err
		}

		if dryRun {
			pending, err := svc.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd, pending)
			}
			for _, name := range pending {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}

		result, err := svc.Ingest(cmd.Context())
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}

		if wantJSON(cmd) {
			return printJSON(cmd, internal.SummarizeIngest(result))
		}
		printIngestResult(cmd, result)
		return nil
	}
}

func printIngestResult(cmd *cobra.Command, r internal.IngestResult) {
	out := cmd.OutOrStdout()
	if r.NoOp {
		fmt.Fprintln(out, "Nothing new to ingest.")
		return
	}

	for _, f := range r.Failed {
		fmt.Fprintf(out, "skipped %s: %s\n", f.Name, f.Error)
	}
	fmt.Fprintf(out, "Ingested %d of %d new files (%d chunks, %d in index).\n",
		len(r.Committed), len(r.New), r.Chunks, r.IndexEntries)
}
