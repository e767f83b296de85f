package cmd

import (
	"context"
	"errors"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sentinel-Gate/querygate/internal/adapter/inbound/stdio"
	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/policyfile"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Long: `Serve querygate as a Model Context Protocol server on stdin/stdout.

Every tool call acts as the static identity from the "identity" config
section (role, user_id, tenant_id). Logs go to stderr; "stdout" audit
output is redirected to stderr so it cannot corrupt the protocol stream.

Example client entry:
  {"command": "querygate", "args": ["mcp", "--config", "/etc/querygate/querygate.yaml"]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	actor := staticActor(cfg.Identity)
	logger.Info("serving MCP over stdio", "role", actor.Role)

	// The session ends when the client closes stdin; that stops the watcher too.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	server := stdio.NewServer(a.gateway, actor, Version, logger)
	g.Go(func() error {
		defer cancel()
		return server.Start(ctx)
	})

	if cfg.Policy.Watch {
		watcher := policyfile.NewWatcher(cfg.Policy.File, mustDuration(cfg.Policy.Debounce), a.reload, logger)
		g.Go(func() error { return watcher.Run(ctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
