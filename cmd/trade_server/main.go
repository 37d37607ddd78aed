package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portfolio_trader/internal/config"
	"portfolio_trader/internal/core"
	"portfolio_trader/internal/gateway"
	"portfolio_trader/internal/manager"
	"portfolio_trader/internal/marketdata"
	"portfolio_trader/internal/server"
	"portfolio_trader/internal/store"
	"portfolio_trader/pkg/concurrency"
	"portfolio_trader/pkg/logging"
	"portfolio_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/trade_server.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("trade_server version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	tel, err := telemetry.Setup(cfg.Telemetry.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up telemetry: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting trade_server",
		"version", version,
		"strategies", len(cfg.Strategies),
		"listen_addr", cfg.Server.ListenAddr,
	)

	portfolioStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open portfolio store", "error", err, "path", cfg.Database.Path)
	}
	defer func() { _ = portfolioStore.Close() }()

	timeout := time.Duration(cfg.MarketData.RequestTimeoutSec) * time.Second
	market := marketdata.NewClient(marketdata.Config{
		GammaBaseURL: cfg.MarketData.GammaBaseURL,
		ClobBaseURL:  cfg.MarketData.ClobBaseURL,
		Timeout:      timeout,
		RateLimitRPS: cfg.MarketData.RateLimitRPS,
	}, logger)

	venue := gateway.NewClient(gateway.Config{
		BaseURL:      cfg.MarketData.ClobBaseURL,
		APIKey:       cfg.Execution.APIKey,
		Secret:       cfg.Execution.Secret,
		Passphrase:   cfg.Execution.Passphrase,
		Timeout:      timeout,
		RateLimitRPS: cfg.MarketData.RateLimitRPS,
	}, logger)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "order_execution",
		MaxWorkers:  cfg.Execution.MaxWorkers,
		MaxCapacity: cfg.Concurrency.ExecutionPoolBuffer,
	}, logger)
	defer pool.Stop()

	hub := server.NewHub(logger)
	mgr := manager.New(manager.Options{
		MarketData: market,
		Gateway:    venue,
		Store:      portfolioStore,
		Pool:       pool,
		Logger:     logger,
		OnSnapshot: hub.BroadcastSnapshot,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startConfiguredRuns(ctx, cfg, mgr, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	srv := server.New(mgr, hub, logger)
	if err := srv.Run(ctx, cfg.Server.ListenAddr); err != nil {
		logger.Error("Control server failed", "error", err)
	}

	mgr.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown failed", "error", err)
	}
	logger.Info("Shutdown complete")
}

// startConfiguredRuns boots every strategy listed in the config file. A bad
// entry is logged and skipped so one typo cannot keep the rest down.
func startConfiguredRuns(ctx context.Context, cfg *config.Config, mgr *manager.Manager, logger core.ILogger) {
	for _, sc := range cfg.Strategies {
		info, err := mgr.Create(ctx, manager.RunSpec{
			Name:              sc.Name,
			Strategy:          sc.Strategy,
			Parameters:        sc.Parameters,
			AllocationUSD:     decimal.NewFromFloat(sc.AllocationUSD),
			RebalanceInterval: sc.RebalanceInterval(),
			Paper:             sc.Paper,
		})
		if err != nil {
			logger.Error("Failed to start configured strategy", "name", sc.Name, "error", err)
			continue
		}
		logger.Info("Configured strategy started",
			"id", info.ID,
			"name", info.Name,
			"portfolio_id", info.PortfolioID,
			"paper", info.Paper)
	}
}
