package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"defiLoopBot/config"
	"defiLoopBot/internal/adapters/binanceclient"
	"defiLoopBot/internal/adapters/logger"
	"defiLoopBot/internal/adapters/paper"
	"defiLoopBot/internal/adapters/sqlite"
	"defiLoopBot/internal/engine"
	"defiLoopBot/internal/ports"
	"defiLoopBot/internal/risk"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFormat == "json" {
		appLogger = logger.NewZeroLogger(os.Stderr, cfg.LogLevel)
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{
		"level":  cfg.LogLevel.String(),
		"format": cfg.LogFormat,
	})

	// 3. Initialize Store (Database Adapter)
	store, err := sqlite.NewStore(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize loop store")
		log.Fatalf("FATAL: Failed to initialize loop store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing loop store")
		}
	}()

	// 4. Initialize Price Oracle (Binance Adapter)
	oracle, err := binanceclient.New(binanceclient.Config{
		APIKey:    cfg.BinanceAPIKey,
		SecretKey: cfg.BinanceSecretKey,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize price oracle")
		log.Fatalf("FATAL: Failed to initialize price oracle: %v", err)
	}

	// 5. Initialize Protocol Client (paper simulation)
	protocol, err := paper.New(paper.Config{
		Logger:      appLogger,
		SlippageBps: cfg.SlippageBps,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize protocol client")
		log.Fatalf("FATAL: Failed to initialize protocol client: %v", err)
	}

	// 6. Initialize Engine (recovers active loops from the store)
	eng, err := engine.New(engine.Config{
		BorrowingProtocol:   cfg.BorrowingProtocol,
		LendingProtocol:     cfg.LendingProtocol,
		RecursiveSwap:       cfg.RecursiveSwap,
		SlippageBps:         cfg.SlippageBps,
		AgentTag:            cfg.AgentTag,
		OperatingCapitalUSD: cfg.OperatingCapitalUSD,
		Policy:              cfg.Policy,
	}, engine.Deps{
		Logger:   appLogger,
		Store:    store,
		Protocol: protocol,
		Swap:     protocol,
		Gate:     risk.NewPortfolioGate(cfg.Policy, appLogger),
		Oracle:   oracle,
		TxLog:    store,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize leverage engine")
		log.Fatalf("FATAL: Failed to initialize leverage engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	// 7. Optional startup deployment
	if cfg.AutoDeploy {
		loop, err := eng.ExecuteLeverageLoop(ctx, engine.LoopRequest{
			InitialCapitalUSD: cfg.DeployCapitalUSD,
			CollateralToken:   cfg.DeployAsset,
			Sentiment:         cfg.DeploySentiment,
			TargetIterations:  cfg.DeployIterations,
		})
		switch {
		case err != nil:
			appLogger.Error(ctx, err, "Startup deployment failed")
		case loop == nil:
			appLogger.Info(ctx, "Startup deployment rejected by safety gate")
		default:
			appLogger.Info(ctx, "Startup deployment complete", map[string]interface{}{
				"loopID": loop.LoopID,
				"status": loop.Status,
			})
		}
	}

	// 8. Run the health monitor until shutdown
	eng.RunMonitor(ctx, cfg.MonitorInterval)

	appLogger.Info(context.Background(), "Leverage loop bot stopped.")
}
