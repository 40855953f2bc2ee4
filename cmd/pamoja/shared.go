package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mifumo/pamoja/internal/archgraph"
	"github.com/mifumo/pamoja/internal/config"
	"github.com/mifumo/pamoja/internal/coordination"
	"github.com/mifumo/pamoja/internal/engine"
	"github.com/mifumo/pamoja/internal/observability"
	"github.com/mifumo/pamoja/internal/perf"
	"github.com/mifumo/pamoja/internal/registry"
	"github.com/mifumo/pamoja/internal/resource"
	"github.com/mifumo/pamoja/internal/storage"
)

// sharedComponents holds everything the server and MCP modes wire up.
type sharedComponents struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   storage.Store
	Obs     *observability.Observability
	Pool    *registry.Registry
	Engine  *engine.Engine
	Sweeper *engine.Sweeper
}

// initShared builds storage, observability, the agent pool, and the
// orchestration engine from config.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sharedComponents, error) {
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}

	storageCfg, err := cfg.StorageConfig()
	if err != nil {
		return nil, fmt.Errorf("resolving storage config: %w", err)
	}
	store, err := storage.Open(storageCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrating storage: %w", err)
	}
	logger.Info("storage ready", slog.String("driver", store.Driver()))

	capacities := make([]resource.Capacity, len(cfg.Resources))
	for i, r := range cfg.Resources {
		capacities[i] = resource.Capacity{Type: r.Type, Unit: r.Unit, Capacity: r.Capacity}
	}
	ledger, err := resource.NewLedger(capacities, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initializing resource ledger: %w", err)
	}

	pool := registry.NewRegistry()
	monitor := perf.NewMonitor(perf.Config{
		Alpha:              cfg.Performance.Alpha,
		Window:             time.Duration(cfg.Performance.WindowS) * time.Second,
		TrendThreshold:     cfg.Performance.TrendThreshold,
		ScoreFloor:         cfg.Performance.ScoreFloor,
		FailureRateCeiling: cfg.Performance.FailureRateCeiling,
		LatencyTarget:      time.Duration(cfg.Performance.LatencyTargetMS) * time.Millisecond,
	}, logger)
	coordinator := coordination.NewCoordinator(coordination.Config{
		WindowSize:   cfg.Coordination.WindowSize,
		NeutralPrior: cfg.Coordination.NeutralPrior,
	}, logger)
	analyzer := archgraph.NewAnalyzer(archgraph.Config{
		BottleneckMultiplier: cfg.Analyzer.BottleneckMultiplier,
	})

	metrics := engine.NewMetrics(obs.Registry())

	defaultTimeout, maxTimeout, retention := cfg.EngineTimeouts()
	eng := engine.NewEngine(store.Tasks(), ledger, monitor, coordinator, pool, analyzer, metrics, logger, engine.Config{
		DefaultTimeout: defaultTimeout,
		MaxTimeout:     maxTimeout,
		WorkerPoolSize: cfg.Engine.WorkerPoolSize,
		Retention:      retention,
		TieBreakMargin: cfg.Decision.TieBreakMargin,
	}).WithJournal(store.Journal())
	if reg := obs.Registry(); reg != nil {
		eng = eng.WithGatherer(reg)
	}

	sweeper := engine.NewSweeper(eng, cfg.Engine.SweepSchedule).
		WithAnalysisSchedule(cfg.Analyzer.Schedule)
	if err := sweeper.Start(); err != nil {
		eng.Close()
		_ = store.Close()
		return nil, fmt.Errorf("starting retention sweeper: %w", err)
	}

	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("storage", store.Ping)
	}

	return &sharedComponents{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Obs:     obs,
		Pool:    pool,
		Engine:  eng,
		Sweeper: sweeper,
	}, nil
}

// Cleanup tears the shared components down in reverse order.
func (sc *sharedComponents) Cleanup() {
	sc.Sweeper.Stop()
	sc.Engine.Close()
	if err := sc.Store.Close(); err != nil {
		sc.Logger.Warn("closing storage", slog.String("error", err.Error()))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sc.Obs.Shutdown(shutdownCtx)
}
