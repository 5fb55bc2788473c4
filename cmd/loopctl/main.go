// loopctl is an operator utility for inspecting and unwinding leverage loops
// against the shared database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

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
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "loopctl",
	Short: "Inspect and unwind leverage loops",
}

func init() {
	rootCmd.AddCommand(cmdSummary)
	rootCmd.AddCommand(cmdUnwind)
	cmdUnwind.Flags().Bool("all", false, "emergency-unwind every active loop")
	cmdUnwind.Flags().Bool("emergency", false, "force emergency unwind")
}

var cmdSummary = &cobra.Command{
	Use:   "summary",
	Short: "Show all active loops and their positions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		loops, err := store.ActiveLoops(ctx)
		if err != nil {
			return fmt.Errorf("load active loops: %w", err)
		}
		if len(loops) == 0 {
			fmt.Println("No active loops.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Loop", "Status", "Iter", "Leverage", "Exposure", "Health", "Created")

		var totalExposure, leverageSum float64
		totalPositions := 0
		for _, loop := range loops {
			positions, err := store.PositionsByLoop(ctx, loop.LoopID)
			if err != nil {
				return fmt.Errorf("load positions for %s: %w", loop.LoopID, err)
			}
			totalExposure += loop.TotalExposureUSD
			leverageSum += loop.CurrentLeverageRatio
			totalPositions += len(positions)

			table.Append(
				loop.LoopID,
				string(loop.Status),
				fmt.Sprintf("%d/%d", loop.Iterations, loop.MaxIterations),
				fmt.Sprintf("%.2fx", loop.CurrentLeverageRatio),
				fmt.Sprintf("$%.2f", loop.TotalExposureUSD),
				fmt.Sprintf("%.2f", loop.HealthScore),
				loop.CreatedAt.Format(time.RFC3339),
			)
		}
		table.Render()

		fmt.Printf("\n%d loops, %d positions, $%.2f total exposure, %.2fx average leverage\n",
			len(loops), totalPositions, totalExposure, leverageSum/float64(len(loops)))
		return nil
	},
}

var cmdUnwind = &cobra.Command{
	Use:   "unwind [loop-id]",
	Short: "Unwind one loop, or every active loop with --all",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		all, _ := cmd.Flags().GetBool("all")
		emergency, _ := cmd.Flags().GetBool("emergency")

		if !all && len(args) != 1 {
			return fmt.Errorf("provide a loop id or --all")
		}

		eng, store, err := buildEngine()
		if err != nil {
			return err
		}
		defer store.Close()

		if all {
			count := eng.EmergencyUnwindAll(ctx)
			fmt.Printf("Unwound %d loops.\n", count)
			return nil
		}

		if eng.UnwindLoop(ctx, args[0], emergency) {
			fmt.Printf("Loop %s unwound.\n", args[0])
			return nil
		}
		return fmt.Errorf("failed to unwind loop %s (see logs)", args[0])
	},
}

func openStore() (*config.Config, *sqlite.Store, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	store, err := sqlite.NewStore(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: logger.NewStdLogger(logger.LevelWarn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, store, nil
}

// buildEngine wires the same dependency graph as the daemon so unwinds go
// through the full engine path, recovery included.
func buildEngine() (*engine.Engine, *sqlite.Store, error) {
	cfg, store, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)

	oracle, err := binanceclient.New(binanceclient.Config{
		APIKey:    cfg.BinanceAPIKey,
		SecretKey: cfg.BinanceSecretKey,
		Logger:    appLogger,
	})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("init oracle: %w", err)
	}

	protocol, err := paper.New(paper.Config{Logger: appLogger, SlippageBps: cfg.SlippageBps})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("init protocol client: %w", err)
	}

	var gate ports.SafetyGate = risk.NewPortfolioGate(cfg.Policy, appLogger)
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
		Gate:     gate,
		Oracle:   oracle,
		TxLog:    store,
	})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("init engine: %w", err)
	}
	return eng, store, nil
}
