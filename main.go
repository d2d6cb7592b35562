package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"oi-radar/app"
	"oi-radar/backtest"
	"oi-radar/config"
	"oi-radar/database"
)

func main() {
	root := &cobra.Command{
		Use:   "oi-radar",
		Short: "Open interest anomaly radar for USDT-M perpetual futures",
		// Bare invocation runs the monitor
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor()
		},
	}

	root.AddCommand(monitorCmd())
	root.AddCommand(backtestCmd())
	root.AddCommand(optimizeCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Collect market data and send anomaly alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor()
		},
	}
}

func runMonitor() error {
	cfg := config.LoadFromEnv()
	return app.New(cfg).Start()
}

func backtestCmd() *cobra.Command {
	var (
		strategy string
		dbPath   string
		outPath  string
		tp       float64
		sl       float64
		maxHold  int
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay stored data against a SHORT strategy and optimize TP/SL",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Connect(dbPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			params := backtest.DefaultParams()
			params.TakeProfit = tp
			params.StopLoss = sl
			params.MaxHoldPoints = maxHold

			if outPath == "" {
				outPath = fmt.Sprintf("backtest_%s_%s.txt", strategy, time.Now().UTC().Format("2006-01-02"))
			}
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("create report file: %w", err)
			}
			defer f.Close()
			w := io.MultiWriter(os.Stdout, f)

			engine := backtest.NewEngine(database.NewMarketRepository(db), params)
			switch strategy {
			case "flush":
				err = engine.RunFlush(w)
			case "lstaker":
				err = engine.RunLSTaker(w)
			default:
				return fmt.Errorf("unknown strategy %q (want flush or lstaker)", strategy)
			}
			if err != nil {
				return err
			}
			log.Printf("📄 Report saved to %s", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "flush", "strategy to replay: flush or lstaker")
	cmd.Flags().StringVar(&dbPath, "db", "market_data.db", "path to the SQLite database")
	cmd.Flags().StringVar(&outPath, "out", "", "report file (default backtest_<strategy>_<date>.txt)")
	cmd.Flags().Float64Var(&tp, "tp", 3.0, "take profit percent")
	cmd.Flags().Float64Var(&sl, "sl", 1.5, "stop loss percent")
	cmd.Flags().IntVar(&maxHold, "max-hold", 0, "max hold in points, 0 = unlimited")

	return cmd
}

func optimizeCmd() *cobra.Command {
	var (
		strategy string
		dbPath   string
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Grid-search TP/SL over stored signals without the full report",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Connect(dbPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			engine := backtest.NewEngine(database.NewMarketRepository(db), backtest.DefaultParams())
			return engine.RunOptimize(os.Stdout, strategy)
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "flush", "signal source: flush or lstaker")
	cmd.Flags().StringVar(&dbPath, "db", "market_data.db", "path to the SQLite database")

	return cmd
}
