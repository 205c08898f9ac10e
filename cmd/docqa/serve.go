package main

import (
	"fmt"

	"github.com/4thel00z/docqa/internal"
	"github.com/spf13/cobra"
)

func NewServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the question answering HTTP API",
		Long:  `Serve POST /api/v1/ask, POST /api/v1/ingest, GET /api/v1/status and GET /api/v1/health.`,
		RunE:  makeServeRunner(a),
	}

	cmd.Flags().String("addr", "", "Listen address (default: server.addr from the config)")
	return cmd
}

func makeServeRunner(a *app) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		svc, err := a.service(cmd)
		if err != nil {
			return err
		}

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = svc.Config().Server.Addr
		}

		// load the index and models before taking traffic
		svc.Answerer(cmd.Context())

		logger := a.loggerFor(cmd)
		server := internal.NewHTTPServer(svc, svc.Config().Messages, logger.With("component", "http"))

		fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", addr)
		return server.Listen(cmd.Context(), addr)
	}
}
