package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	goutils "github.com/jkaninda/go-utils"

	"github.com/mifumo/pamoja/internal/config"
	"github.com/mifumo/pamoja/internal/gateway/httpapi"
	"github.com/mifumo/pamoja/internal/gateway/ws"
	"github.com/mifumo/pamoja/internal/ratelimit"
)

var (
	serveConfigPath string
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration server (HTTP API and WebSocket agent gateway)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `pamoja --config path` and `pamoja serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", "", "path to config file (YAML or JSON)")
		cmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("PAMOJA_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logger.Info("starting pamoja server", slog.String("addr", cfg.Server.ListenAddr()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			Rate:  cfg.Server.RateLimit,
			Burst: cfg.Server.RateBurst,
		})
	}

	var tracer trace.Tracer
	gwCfg := httpapi.Config{
		ListenAddr:      cfg.Server.ListenAddr(),
		APIKeys:         cfg.Server.APIKeys,
		EnableDocs:      cfg.Server.EnableDocs,
		MetricsRegistry: sc.Obs.Registry(),
	}
	if sc.Obs != nil {
		gwCfg.HealthChecker = sc.Obs.Health
		gwCfg.Metrics = sc.Obs.Metrics
		if sc.Obs.Tracer != nil {
			tracer = sc.Obs.Tracer.Tracer()
		}
		if mc := sc.Config.Observability; mc != nil && mc.Metrics != nil {
			gwCfg.MetricsPath = mc.Metrics.Path
		}
	}
	gwCfg.Tracer = tracer

	gateway := httpapi.NewGateway(gwCfg, sc.Engine, limiter, logger).
		WithRecords(sc.Store)

	if cfg.WS.Enabled {
		wsServer := ws.NewServer(sc.Pool, cfg.WS, gwCfg.Metrics, logger)
		path := cfg.WS.Path
		if path == "" {
			path = "/ws/agents"
		}
		gateway.WithHandler(path, wsServer.Handler())
		logger.Info("websocket agent gateway enabled", slog.String("path", path))
	}

	// Shut the HTTP server down when the signal context fires.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(max(cfg.Server.ShutdownTimeout, 15))*time.Second)
		defer cancel()
		if err := gateway.Stop(shutdownCtx); err != nil {
			logger.Warn("gateway shutdown", slog.String("error", err.Error()))
		}
	}()

	if err := gateway.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("pamoja server stopped")
	return nil
}
