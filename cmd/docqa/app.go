package main

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/4thel00z/docqa/internal"
	"github.com/spf13/cobra"
)

// app builds the service once per invocation from the persistent flags.
type app struct {
	resolver *internal.WorkspaceResolver

	mu     sync.Mutex
	svc    *internal.Service
	ws     internal.Workspace
	logger *slog.Logger
}

func newApp() *app {
	return &app{resolver: internal.NewWorkspaceResolver()}
}

func (a *app) workspace(cmd *cobra.Command) internal.Workspace {
	path, _ := cmd.Flags().GetString("config")
	return a.resolver.Resolve(path)
}

func (a *app) loggerFor(cmd *cobra.Command) *slog.Logger {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.logger == nil {
		verbose, _ := cmd.Flags().GetBool("verbose")
		a.logger = newLogger(cmd.ErrOrStderr(), verbose)
		slog.SetDefault(a.logger)
	}
	return a.logger
}

func (a *app) config(cmd *cobra.Command) (*internal.Config, internal.Workspace, error) {
	ws := a.workspace(cmd)
	cfg, err := internal.LoadConfig(ws)
	if err != nil {
		return nil, ws, err
	}
	return cfg, ws, nil
}

func (a *app) service(cmd *cobra.Command) (*internal.Service, error) {
	logger := a.loggerFor(cmd)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.svc != nil {
		return a.svc, nil
	}

	cfg, ws, err := a.config(cmd)
	if err != nil {
		return nil, err
	}
	if !ws.Found {
		logger.Debug("no config file, using defaults", "path", ws.ConfigPath)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	svc, err := internal.NewService(cfg,
		internal.WithLogger(logger),
		internal.WithDebug(verbose),
	)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ws.ConfigPath, err)
	}

	a.svc = svc
	a.ws = ws
	return svc, nil
}

func (a *app) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.svc == nil {
		return nil
	}
	return a.svc.Close()
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
