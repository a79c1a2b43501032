// Package replay reads stored candles and emits them at a configurable
// speed for backtesting. A replayer can also deliver a share of candles
// late, which exercises the rebuild path of the indicator graphs.
package replay

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
)

// maxGap caps the simulated wait between two candles.
const maxGap = 5 * time.Second

// Replayer reads historical candles and replays them into a channel.
type Replayer struct {
	reader model.CandleReader

	late     float64
	maxDelay int
	rng      *rand.Rand
}

// New creates a Replayer backed by a candle reader.
func New(reader model.CandleReader) *Replayer {
	return &Replayer{reader: reader}
}

// WithLateArrivals makes the replayer hold back roughly fraction of the
// candles and deliver each one after up to maxDelay later candles. seed
// fixes the order so runs are reproducible.
func (r *Replayer) WithLateArrivals(fraction float64, maxDelay int, seed int64) *Replayer {
	r.late = fraction
	r.maxDelay = maxDelay
	r.rng = rand.New(rand.NewSource(seed))
	return r
}

// Load reads every candle of the given timeframes after fromTS (0 = all),
// ordered by timestamp. Candles sharing a timestamp keep reader order.
func (r *Replayer) Load(tfs []int, fromTS int64) ([]model.Candle, error) {
	var all []model.Candle
	for _, tf := range tfs {
		candles, err := r.reader.ReadAllCandles(tf, fromTS)
		if err != nil {
			return nil, err
		}
		all = append(all, candles...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })
	return all, nil
}

// Run replays all candles for the given TFs, emitting them into outCh.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
// fromTS filters candles to those after this Unix timestamp (0 = all).
func (r *Replayer) Run(ctx context.Context, tfs []int, fromTS int64, speed float64, outCh chan<- model.Candle) error {
	all, err := r.Load(tfs, fromTS)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		slog.Info("no candles found to replay", "tfs", tfs)
		return nil
	}
	if r.late > 0 {
		all = Disorder(all, r.late, r.maxDelay, r.rng)
	}

	slog.Info("replay loaded", "candles", len(all), "tfs", len(tfs), "speed", speed, "late", r.late)

	var prevTS time.Time
	emitted := 0
	for _, c := range all {
		// Simulate time gaps between candles; late ones arrive without a wait.
		if speed > 0 && !prevTS.IsZero() {
			if gap := c.TS.Sub(prevTS); gap > 0 {
				scaled := min(time.Duration(float64(gap)/speed), maxGap)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		if c.TS.After(prevTS) {
			prevTS = c.TS
		}

		select {
		case <-ctx.Done():
			slog.Info("replay cancelled", "emitted", emitted)
			return ctx.Err()
		case outCh <- c:
			emitted++
		}
	}

	slog.Info("replay completed", "emitted", emitted)
	return nil
}

type held struct {
	c  model.Candle
	at int
}

// Disorder returns candles in a delivery order where roughly fraction of
// them arrive late, each after at most maxDelay of the candles that follow
// it. The input is not modified and the output is a permutation of it.
func Disorder(candles []model.Candle, fraction float64, maxDelay int, rng *rand.Rand) []model.Candle {
	if maxDelay < 1 {
		maxDelay = 1
	}
	out := make([]model.Candle, 0, len(candles))
	var pending []held
	for i, c := range candles {
		if rng.Float64() < fraction {
			pending = append(pending, held{c: c, at: i + 1 + rng.Intn(maxDelay)})
			continue
		}
		out = append(out, c)

		keep := pending[:0]
		for _, h := range pending {
			if h.at <= i {
				out = append(out, h.c)
			} else {
				keep = append(keep, h)
			}
		}
		pending = keep
	}
	for _, h := range pending {
		out = append(out, h.c)
	}
	return out
}
