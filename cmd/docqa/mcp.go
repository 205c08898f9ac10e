package main

import (
	"github.com/4thel00z/docqa/internal"
	"github.com/spf13/cobra"
)

func NewMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the answer tool over MCP stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			return internal.NewMCPServer(svc, cmd.Root().Version).Run(cmd.Context())
		},
	}
}
