package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"algotrader/internal/api"
	"algotrader/internal/backtest"
	"algotrader/internal/config"
	"algotrader/internal/store"
	"algotrader/internal/strategy"
	"algotrader/internal/strategy/builtins"
	"algotrader/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $ALGOTRADER_CONFIG or "+config.DefaultPath+")")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	engineCfg, err := cfg.Backtest.EngineConfig()
	if err != nil {
		log.Fatalf("invalid backtest config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating sqlite dir: %v", err)
	}
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening run store: %v", err)
	}
	defer runs.Close()

	registry := strategy.NewRegistry()
	builtins.Register(registry)
	runner, err := backtest.NewRunner(store.NewParquetStore(cfg.Storage.DataDir), registry, engineCfg, logger.With("component", "runner"))
	if err != nil {
		log.Fatalf("creating runner: %v", err)
	}

	svc := api.NewService(runs, runner, cfg.Backtest.InitialCash, logger.With("component", "api"))
	srv := api.NewServer(cfg.Server, svc)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("algotrader-server starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"grpcPort", cfg.Server.GRPCPort,
		"strategies", registry.List(),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	slog.Info("algotrader-server stopped")
}
