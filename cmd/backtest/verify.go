package main

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/marketdata/replay"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
	sqlitestore "github.com/DaveSkender/Stock.Indicators-sub014/internal/store/sqlite"
)

var (
	verifyLate     float64
	verifyMaxDelay int
	verifySeed     int64
	tolerance      float64

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Compare streaming results with batch computation over stored history",
		RunE:  runVerify,
	}
)

func init() {
	flags := verifyCmd.Flags()
	flags.Float64Var(&verifyLate, "late", 0.2, "Fraction of candles delivered late to the disordered engine")
	flags.IntVar(&verifyMaxDelay, "max-delay", 5, "Most candles a late one is held behind")
	flags.Int64Var(&verifySeed, "seed", 1, "Random seed for late deliveries")
	flags.Float64Var(&tolerance, "tolerance", 1e-9, "Largest accepted absolute difference")
}

// divergence summarises one indicator of one series.
type divergence struct {
	series     string
	name       string
	bars       int
	ordered    int
	disordered int
	first      int
}

func runVerify(cmd *cobra.Command, args []string) error {
	configs, err := loadConfigs()
	if err != nil {
		return err
	}

	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	ordered, err := indicator.NewEngine(configs)
	if err != nil {
		return err
	}
	defer ordered.Close()
	disordered, err := indicator.NewEngine(configs)
	if err != nil {
		return err
	}
	defer disordered.Close()

	replayer := replay.New(reader)
	all, err := replayer.Load(configTFs(configs), fromTS)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Println("no candles to verify")
		return nil
	}

	feedAll(ordered, all)
	feedAll(disordered, replay.Disorder(all, verifyLate, verifyMaxDelay, rand.New(rand.NewSource(verifySeed))))

	bySeries := lo.GroupBy(all, func(c model.Candle) string { return c.SeriesKey() })
	keys := lo.Keys(bySeries)
	sort.Strings(keys)

	var report []divergence
	for _, cfg := range configs {
		for _, key := range keys {
			series := bySeries[key]
			if series[0].TF != cfg.TF {
				continue
			}
			ex, tok := series[0].Exchange, series[0].Token
			batch, err := indicator.ComputeSeries(series, cfg.Indicators, func(exchange, token string) []model.Candle {
				return bySeries[model.SeriesKey(exchange, token, cfg.TF)]
			})
			if err != nil {
				return fmt.Errorf("%s batch: %w", key, err)
			}
			for _, ind := range cfg.Indicators {
				want := batch[ind.Name()]
				a, _ := ordered.Results(ex, tok, cfg.TF, ind.Name())
				b, _ := disordered.Results(ex, tok, cfg.TF, ind.Name())
				d := divergence{series: key, name: ind.Name(), bars: len(want), first: -1}
				d.ordered = compare(want, a, &d.first)
				d.disordered = compare(want, b, &d.first)
				report = append(report, d)
			}
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERIES\tINDICATOR\tBARS\tORDERED\tDISORDERED\tFIRST")
	failed := 0
	for _, d := range report {
		status := "-"
		if d.first >= 0 {
			status = fmt.Sprint(d.first)
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", d.series, d.name, d.bars, d.ordered, d.disordered, status)
	}
	w.Flush()

	fmt.Printf("\n%d candles, %d indicator series, %d diverged\n", len(all), len(report), failed)
	if failed > 0 {
		return fmt.Errorf("%d indicator series diverged from batch", failed)
	}
	return nil
}

func feedAll(engine *indicator.Engine, candles []model.Candle) {
	for _, c := range candles {
		// Rejections show up as divergences in the report.
		_, _ = engine.Process(c)
	}
}

// compare counts the bars of got that differ from want and lowers first to
// the earliest differing index.
func compare(want []float64, got []model.IndicatorResult, first *int) int {
	mismatches := 0
	for i := range want {
		if i < len(got) && within(want[i], got[i].Value) {
			continue
		}
		mismatches++
		if *first < 0 || i < *first {
			*first = i
		}
	}
	if extra := len(got) - len(want); extra > 0 {
		mismatches += extra
		if *first < 0 || len(want) < *first {
			*first = len(want)
		}
	}
	return mismatches
}

func within(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) <= tolerance
}
