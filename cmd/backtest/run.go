package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/marketdata/agg"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/marketdata/replay"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	sqlitestore "github.com/DaveSkender/Stock.Indicators-sub014/internal/store/sqlite"
)

var (
	speed    float64
	late     float64
	maxDelay int
	seed     int64
	sourceTF int

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Replay candles through the engine and print indicator output",
		RunE:  runReplay,
	}
)

func init() {
	flags := runCmd.Flags()
	flags.Float64Var(&speed, "speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	flags.Float64Var(&late, "late", 0, "Fraction of candles delivered late (0-1)")
	flags.IntVar(&maxDelay, "max-delay", 5, "Most candles a late one is held behind")
	flags.Int64Var(&seed, "seed", 1, "Random seed for late deliveries")
	flags.IntVar(&sourceTF, "source-tf", 0, "Replay this stored TF and roll it up into the configured TFs")
}

func runReplay(cmd *cobra.Command, args []string) error {
	configs, err := loadConfigs()
	if err != nil {
		return err
	}

	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	engine, err := indicator.NewRestorer(configs).RestoreFromSnap(nil) // cold start
	if err != nil {
		return fmt.Errorf("engine init: %w", err)
	}
	defer engine.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	replayer := replay.New(reader)
	if late > 0 {
		replayer.WithLateArrivals(late, maxDelay, seed)
	}

	var (
		processed    int
		readyResults int
		rejected     int
	)
	process := func(c model.Candle) error {
		results, err := engine.Process(c)
		if err != nil {
			rejected++
			slog.Warn("candle rejected", "series", c.SeriesKey(), "ts", c.TS, "error", err)
			return nil
		}
		processed++
		for _, r := range results {
			if !r.Ready {
				continue
			}
			readyResults++
			if readyResults <= 10 || readyResults%100 == 0 {
				fmt.Printf("  [%s] %-24s %-6s TF=%ds %s:%s = %.4f\n",
					r.TS.Format("15:04:05"), r.Name, r.Act, r.TF, r.Exchange, r.Token, r.Value)
			}
		}
		return nil
	}

	feed := process
	replayTFs := configTFs(configs)
	if sourceTF > 0 {
		roller, err := agg.NewRoller(replayTFs, process)
		if err != nil {
			return err
		}
		defer roller.Close()
		feed = roller.Add
		replayTFs = []int{sourceTF}
	}

	candleCh := make(chan model.Candle, 10000)
	errCh := make(chan error, 1)
	go func() {
		errCh <- replayer.Run(ctx, replayTFs, fromTS, speed, candleCh)
		close(candleCh)
	}()

	for c := range candleCh {
		if err := feed(c); err != nil {
			slog.Warn("rollup failed", "series", c.SeriesKey(), "error", err)
		}
	}
	if err := <-errCh; err != nil && ctx.Err() == nil {
		return fmt.Errorf("replay: %w", err)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Candles processed: %-16d ║\n", processed)
	fmt.Printf("║  Candles rejected:  %-16d ║\n", rejected)
	fmt.Printf("║  Indicator results: %-16d ║\n", readyResults)
	fmt.Printf("║  Series:            %-16d ║\n", engine.Len())
	fmt.Printf("║  TFs:               %-16v ║\n", configTFs(configs))
	fmt.Println("╚══════════════════════════════════════╝")
	return nil
}
