package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func NewAskCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE:  makeAskRunner(a),
	}
}

func makeAskRunner(a *app) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc, err := a.service(cmd)
		if err != nil {
			return err
		}

		ans := svc.Ask(cmd.Context(), strings.Join(args, " "))

		if wantJSON(cmd) {
			return printJSON(cmd, ans)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ans.Format(svc.Config().Messages.CitationPrefix))
		return nil
	}
}
