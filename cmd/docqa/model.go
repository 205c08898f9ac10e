package main

import (
	"fmt"
	"os"

	"github.com/4thel00z/docqa/internal"
	"github.com/spf13/cobra"
)

func NewModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the local embedding model",
	}

	cmd.AddCommand(newModelPullCmd())
	return cmd
}

func newModelPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download the default GGUF embedding model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				var err error
				if dir, err = internal.DefaultCacheDir(); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			cache := internal.NewModelCache(dir, os.Getenv("HF_TOKEN"))
			path, fetched, err := cache.Ensure(cmd.Context(), internal.DefaultModel, func(written, total int64) {
				if total > 0 {
					fmt.Fprintf(out, "\r%s: %5.1f%%", internal.DefaultModel.Name, float64(written)*100/float64(total))
				}
			})
			if err != nil {
				return fmt.Errorf("pull model: %w", err)
			}

			if fetched {
				fmt.Fprintln(out)
				fmt.Fprintf(out, "Downloaded %s\n", path)
			} else {
				fmt.Fprintf(out, "Already present: %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().String("dir", "", "Model cache directory")
	return cmd
}
