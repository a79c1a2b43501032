package indicator

import (
	"log/slog"
	"sort"

	"github.com/samber/lo"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
)

// Restorer orchestrates indicator engine state restoration on startup.
// It follows a priority chain: Redis snapshot → SQLite snapshot → cold start,
// then backfills candle history the snapshot did not cover.
type Restorer struct {
	configs []TFIndicatorConfig

	// Depth is how many of the newest stored candles per series a
	// backfill replays. Zero replays everything.
	Depth int
}

// NewRestorer creates a new Restorer for the given indicator configs. The
// backfill depth defaults to five times the longest configured period.
func NewRestorer(configs []TFIndicatorConfig) *Restorer {
	maxPeriod := 0
	for _, cfg := range configs {
		for _, ind := range cfg.Indicators {
			maxPeriod = max(maxPeriod, ind.Period)
		}
	}
	return &Restorer{configs: configs, Depth: 5 * maxPeriod}
}

// RestoreFromSnap restores an engine from a snapshot. A nil or unusable
// snapshot yields a fresh engine (cold start).
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) (*Engine, error) {
	if snap == nil {
		slog.Info("no snapshot found, cold starting indicator engine")
		return NewEngine(r.configs)
	}

	slog.Info("restoring indicator engine from snapshot",
		"version", snap.Version, "stream_id", snap.StreamID,
		"series", len(snap.Series), "candles", snap.Candles())

	engine, err := RestoreEngine(r.configs, snap)
	if err != nil {
		slog.Warn("snapshot restore failed, falling back to cold start", "error", err)
		return NewEngine(r.configs)
	}
	return engine, nil
}

// ReplayCandles feeds candles into the engine to catch up from the
// snapshot to the current state. Returns the number of candles replayed.
func (r *Restorer) ReplayCandles(engine *Engine, candles []model.Candle) int {
	count := 0
	for _, c := range candles {
		if _, err := engine.Process(c); err != nil {
			slog.Warn("replay candle rejected", "series", c.SeriesKey(), "ts", c.TS, "error", err)
			continue
		}
		count++
	}
	slog.Info("replayed candles to catch up", "candles", count)
	return count
}

// BackfillFromSQLite reads stored candles of every configured TF and feeds
// the newest Depth of each series into the engine. Candles the engine
// already holds resolve as identical resends and produce nothing. If
// onResults is non-nil it receives the results of every candle, so the
// caller can publish history.
func (r *Restorer) BackfillFromSQLite(engine *Engine, reader model.CandleReader, onResults func([]model.IndicatorResult)) int {
	if reader == nil {
		return 0
	}

	total := 0
	for _, cfg := range r.configs {
		candles, err := reader.ReadAllCandles(cfg.TF, 0)
		if err != nil {
			slog.Warn("backfill read failed", "tf", cfg.TF, "error", err)
			continue
		}

		bySeries := lo.GroupBy(candles, func(c model.Candle) string { return c.SeriesKey() })
		keys := lo.Keys(bySeries)
		sort.Strings(keys)

		fed := 0
		for _, key := range keys {
			series := bySeries[key]
			if r.Depth > 0 && len(series) > r.Depth {
				series = series[len(series)-r.Depth:]
			}
			for _, c := range series {
				results, err := engine.Process(c)
				if err != nil {
					slog.Warn("backfill candle rejected", "series", key, "ts", c.TS, "error", err)
					continue
				}
				if onResults != nil && len(results) > 0 {
					onResults(results)
				}
				fed++
			}
		}
		total += fed
		if fed > 0 {
			slog.Info("backfilled candles from SQLite", "tf", cfg.TF, "candles", fed, "series", len(keys))
		}
	}
	return total
}
