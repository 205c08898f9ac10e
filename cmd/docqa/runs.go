package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent ingestion runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("number")
			verbose, _ := cmd.Flags().GetBool("failures")

			svc, err := a.service(cmd)
			if err != nil {
				return err
			}

			runs, err := svc.Runs(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if wantJSON(cmd) {
				return printJSON(cmd, runs)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No ingestion runs recorded.")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %-6s  new=%d committed=%d failed=%d chunks=%d  %s\n",
					r.StartedAt.Local().Format(time.DateTime), r.Status,
					r.NewFiles, r.Committed, len(r.Failures), r.Chunks,
					r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
				if r.Error != "" {
					fmt.Fprintf(out, "    error: %s\n", r.Error)
				}
				if verbose {
					for _, f := range r.Failures {
						fmt.Fprintf(out, "    skipped %s: %s\n", f.Name, f.Error)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().IntP("number", "n", 20, "Maximum runs to show")
	cmd.Flags().Bool("failures", false, "List skipped files per run")
	return cmd
}
