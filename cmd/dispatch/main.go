package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/arclight-ai/dispatch/internal/agent"
	"github.com/arclight-ai/dispatch/internal/api"
	"github.com/arclight-ai/dispatch/internal/config"
	"github.com/arclight-ai/dispatch/internal/modelrouter"
	"github.com/arclight-ai/dispatch/internal/orchestrator"
	"github.com/arclight-ai/dispatch/internal/provider"
	pgstore "github.com/arclight-ai/dispatch/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/dispatch.json"
	}

	bootLogger, _ := zap.NewDevelopment()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLogger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Starting dispatch", zap.String("config", cfgPath))

	// Provider registry
	registry := provider.NewRegistry(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey, Models: pc.Models,
		}
		switch pc.Type {
		case "openai":
			registry.Register(provider.NewOpenAIProvider(provCfg, logger), pc.Models)
		case "anthropic":
			registry.Register(provider.NewAnthropicProvider(provCfg, logger), pc.Models)
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
			continue
		}
		if pc.Default {
			registry.SetDefault(pc.ID)
		}
	}
	if len(cfg.Router.Fallbacks) > 0 {
		registry.SetFallbacks(cfg.Router.Fallbacks)
	}

	// PostgreSQL archive; the service degrades to memory-only without it
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	// Prometheus registry shared across components
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Model router, backed by Postgres feedback when available
	var perfStore modelrouter.PerformanceStore = modelrouter.NewMemoryStore(0)
	if pgStore != nil {
		perfStore = pgStore
	}
	router := modelrouter.New(perfStore, routerConfig(cfg.Router), promReg, logger)

	engine := agent.NewEngine(registry, router, logger)

	// Event bus; optional like the archive
	var bus *orchestrator.EventBus
	if cfg.Database.Redis.URL != "" {
		b, busErr := orchestrator.NewEventBus(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event bus", zap.Error(busErr))
		} else {
			bus = b
		}
	}

	var archive orchestrator.Archive
	if pgStore != nil {
		archive = pgStore
	}
	orch := orchestrator.New(engine, bus, archive, orchestrator.MustNewCollectors(promReg), orchestrator.Options{
		PoolSize:        cfg.Orchestrator.PoolSize,
		DispatchTimeout: time.Duration(cfg.Orchestrator.DispatchTimeoutSeconds) * time.Second,
	}, logger)
	orch.Start()

	handler := api.NewHandler(orch, engine, router, promReg, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("dispatch listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down dispatch...")
	orch.Stop()
	orch.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	if bus != nil {
		bus.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

// newLogger builds a zap logger at the configured level. Unknown levels
// fall back to info.
func newLogger(level string) *zap.Logger {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// routerConfig maps the file config onto the router's typed config.
func routerConfig(rc config.RouterConfig) modelrouter.Config {
	tiers := make(map[modelrouter.Complexity][]string, len(rc.Tiers))
	for k, v := range rc.Tiers {
		tiers[modelrouter.Complexity(k)] = v
	}
	weights := modelrouter.DefaultWeights()
	if rc.StrongRating > 0 {
		weights.StrongRating = rc.StrongRating
	}
	if rc.RecencyWindow > 0 {
		weights.Window = rc.RecencyWindow
	}
	if rc.Decay > 0 {
		weights.Decay = rc.Decay
	}
	return modelrouter.Config{
		DefaultModel:  rc.DefaultModel,
		Tiers:         tiers,
		Weights:       weights,
		PreferenceTTL: time.Duration(rc.PreferenceTTLSeconds) * time.Second,
	}
}
