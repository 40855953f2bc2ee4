package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/mifumo/pamoja/internal/config"
	mcpgw "github.com/mifumo/pamoja/internal/gateway/mcp"
	"github.com/mifumo/pamoja/internal/observability"
)

var mcpConfigPath string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the orchestration engine over MCP on stdio",
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpConfigPath, "config", "", "path to config file (YAML or JSON)")
}

func runMCP(_ *cobra.Command, _ []string) error {
	// Stdout carries the protocol, so logs go to stderr only.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := config.Load(goutils.Env("PAMOJA_CONFIG", mcpConfigPath))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	var metrics *observability.MetricsCollector
	if sc.Obs != nil {
		metrics = sc.Obs.Metrics
	}

	server := mcpgw.NewServer(sc.Engine, metrics, logger)
	if err := server.ServeStdio(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
