package indicator

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/samber/lo"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
)

// snapshotVersion 2 stores candle history instead of per-indicator state.
const snapshotVersion = 2

// SeriesSnapshot holds the candle history of one series.
type SeriesSnapshot struct {
	Exchange string         `json:"exchange"`
	Token    string         `json:"token"`
	TF       int            `json:"tf"`
	Candles  []model.Candle `json:"candles"`
}

// EngineSnapshot holds the full state of the indicator engine. Indicator
// values are not stored: restoring replays the candles, which reproduces
// them exactly.
type EngineSnapshot struct {
	StreamID string           `json:"stream_id"` // Redis Stream ID at checkpoint time
	Series   []SeriesSnapshot `json:"series"`
	Version  int              `json:"version"` // schema version for forward compat
}

// Candles returns the number of candles across all series.
func (s *EngineSnapshot) Candles() int {
	n := 0
	for _, ss := range s.Series {
		n += len(ss.Candles)
	}
	return n
}

// SnapshotEngine captures the candle history of every series. With
// maxCandles > 0 only the newest maxCandles of each series are kept.
func SnapshotEngine(e *Engine, streamID string, maxCandles int) *EngineSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &EngineSnapshot{
		StreamID: streamID,
		Series:   e.series(maxCandles),
		Version:  snapshotVersion,
	}
}

// series copies the candle history of every graph in key order.
func (e *Engine) series(maxCandles int) []SeriesSnapshot {
	keys := lo.Keys(e.graphs)
	sort.Strings(keys)

	out := make([]SeriesSnapshot, 0, len(keys))
	for _, key := range keys {
		g := e.graphs[key]
		candles := g.root.Items()
		if maxCandles > 0 && len(candles) > maxCandles {
			candles = candles[len(candles)-maxCandles:]
		}
		out = append(out, SeriesSnapshot{
			Exchange: g.exchange,
			Token:    g.token,
			TF:       g.tf,
			Candles:  candles,
		})
	}
	return out
}

// RestoreEngine builds an engine for configs and replays the snapshot
// into it. Series of timeframes that are no longer configured are skipped;
// indicators added since the snapshot come up warm.
func RestoreEngine(configs []TFIndicatorConfig, snap *EngineSnapshot) (*Engine, error) {
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d is not supported (want %d)", snap.Version, snapshotVersion)
	}
	e, err := NewEngine(configs)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.replay(snap.Series)
	if err != nil {
		slog.Warn("snapshot replay incomplete", "restored", n, "series", len(snap.Series), "error", err)
	}
	return e, nil
}
