package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/indicator"
	"github.com/DaveSkender/Stock.Indicators-sub014/internal/model"
)

// ── WS protocol message types ──

// SubscribeMsg is the client → server SUBSCRIBE request.
type SubscribeMsg struct {
	Type       string          `json:"type"`       // "SUBSCRIBE"
	ReqID      string          `json:"reqId"`      // client-generated request ID
	Symbol     string          `json:"symbol"`     // e.g. "NSE:26000"
	TF         int             `json:"tf"`         // timeframe in seconds
	History    HistoryRequest  `json:"history"`    // how many historical bars
	Indicators []IndicatorSpec `json:"indicators"` // indicator profile
}

// HistoryRequest specifies how many historical candles to fetch.
type HistoryRequest struct {
	Candles int `json:"candles"`
}

// IndicatorSpec describes a single indicator in the client's profile.
type IndicatorSpec struct {
	ID     string         `json:"id"`             // "sma", "ema", "smma", "rsi", "prs", "corr"
	Source string         `json:"source"`         // candle part: "close", "hl2", ...
	Params map[string]int `json:"params"`         // {"length": 21}
	TF     int            `json:"tf,omitempty"`   // per-indicator TF override (seconds)
	On     string         `json:"on,omitempty"`   // chain from another indicator, e.g. "SMA_20"
	Pair   string         `json:"pair,omitempty"` // base series for prs/corr, "NSE:26000"
}

// UnsubscribeMsg is the client → server UNSUBSCRIBE request.
type UnsubscribeMsg struct {
	Type   string `json:"type"`
	ReqID  string `json:"reqId"`
	Symbol string `json:"symbol"`
	TF     int    `json:"tf"`
}

// SnapshotResponse is the server → client SNAPSHOT with historical data.
type SnapshotResponse struct {
	Type       string                        `json:"type"` // "SNAPSHOT"
	ReqID      string                        `json:"reqId"`
	Symbol     string                        `json:"symbol"`
	TF         int                           `json:"tf"`
	Candles    []SnapshotCandle              `json:"candles"`
	Indicators map[string][]SnapshotIndPoint `json:"indicators"`
}

// SnapshotCandle is a single candle in rupees.
type SnapshotCandle struct {
	TS     string  `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
	Count  int     `json:"count"`
}

// SnapshotIndPoint is a single indicator point.
type SnapshotIndPoint struct {
	TS    string  `json:"ts"`
	Value float64 `json:"value"`
	Ready bool    `json:"ready"`
}

// ErrorResponse is the server → client ERROR message.
type ErrorResponse struct {
	Type  string `json:"type"` // "ERROR"
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

func snapshotCandle(c model.Candle) SnapshotCandle {
	return SnapshotCandle{
		TS:     c.TS.UTC().Format(time.RFC3339),
		Open:   model.Rupees(c.Open),
		High:   model.Rupees(c.High),
		Low:    model.Rupees(c.Low),
		Close:  model.Rupees(c.Close),
		Volume: c.Volume,
		Count:  c.Count,
	}
}

// ── Subscription state ──

// IndEntry is a resolved indicator identity with composite key (name + tf).
type IndEntry struct {
	Name string
	TF   int
}

// Key returns the composite identity "NAME:TF".
func (e IndEntry) Key() string {
	return e.Name + ":" + strconv.Itoa(e.TF)
}

// ClientSubscription holds per-(symbol, tf) state for a client.
type ClientSubscription struct {
	Symbol     string
	TF         int
	IndEntries []IndEntry
}

// SubKey returns the map key for this subscription.
func (s *ClientSubscription) SubKey() string {
	return s.Symbol + ":" + strconv.Itoa(s.TF)
}

// SpecConfig converts a client spec into an engine indicator config.
// A missing length defaults to 14.
func SpecConfig(spec IndicatorSpec) indicator.IndicatorConfig {
	length, ok := spec.Params["length"]
	if !ok {
		length = 14
	}
	part := strings.ToUpper(spec.Source)
	if part == "CLOSE" {
		part = ""
	}
	return indicator.IndicatorConfig{
		Type:   strings.ToUpper(spec.ID),
		Period: length,
		Part:   part,
		Source: strings.ToUpper(spec.On),
		Pair:   strings.ToUpper(spec.Pair),
	}
}

// ResolveIndEntries builds (name, tf) entries so SMA_20@60 and SMA_20@300
// don't collide.
func ResolveIndEntries(specs []IndicatorSpec, defaultTF int) []IndEntry {
	entries := make([]IndEntry, len(specs))
	for i, spec := range specs {
		tf := defaultTF
		if spec.TF > 0 {
			tf = spec.TF
		}
		entries[i] = IndEntry{Name: SpecConfig(spec).Name(), TF: tf}
	}
	return entries
}

// ── Redis history ──

// readStream returns the data payloads of the newest limit entries of a
// stream, oldest first, ending before upper ("+" for the tail).
func readStream(ctx context.Context, rdb *goredis.Client, key, upper string, limit int) ([]string, error) {
	msgs, err := rdb.XRevRangeN(ctx, key, upper, "-", int64(limit)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if data, ok := msgs[i].Values["data"].(string); ok {
			out = append(out, data)
		}
	}
	return out, nil
}

// readCandles decodes a candle stream.
func readCandles(ctx context.Context, rdb *goredis.Client, key, upper string, limit int) []model.Candle {
	payloads, err := readStream(ctx, rdb, key, upper, limit)
	if err != nil {
		slog.Warn("candle stream read failed", "stream", key, "error", err)
		return nil
	}
	candles := make([]model.Candle, 0, len(payloads))
	for _, p := range payloads {
		var c model.Candle
		if json.Unmarshal([]byte(p), &c) == nil && !c.TS.IsZero() {
			candles = append(candles, c)
		}
	}
	return candles
}

// readIndicator decodes an indicator stream into one point per timestamp.
// A rebuild appends fresh values for timestamps already in the stream, so
// the newest entry for a timestamp wins. Pending values are dropped.
func readIndicator(ctx context.Context, rdb *goredis.Client, key, upper string, limit int) []SnapshotIndPoint {
	payloads, err := readStream(ctx, rdb, key, upper, limit)
	if err != nil {
		slog.Warn("indicator stream read failed", "stream", key, "error", err)
		return nil
	}
	byTS := make(map[time.Time]model.IndicatorResult, len(payloads))
	for _, p := range payloads {
		var r model.IndicatorResult
		if json.Unmarshal([]byte(p), &r) != nil || r.TS.IsZero() {
			continue
		}
		byTS[r.TS.UTC()] = r
	}

	points := make([]SnapshotIndPoint, 0, len(byTS))
	stamps := make([]time.Time, 0, len(byTS))
	for ts := range byTS {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	for _, ts := range stamps {
		r := byTS[ts]
		if !r.Ready {
			continue
		}
		points = append(points, SnapshotIndPoint{TS: ts.Format(time.RFC3339), Value: r.Value, Ready: true})
	}
	return points
}

// clampPoints keeps the points inside [from, to].
func clampPoints(points []SnapshotIndPoint, from, to time.Time) []SnapshotIndPoint {
	out := points[:0]
	for _, p := range points {
		ts, err := time.Parse(time.RFC3339, p.TS)
		if err != nil || ts.Before(from) || ts.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// BuildSnapshot reads historical candles and indicator values from Redis.
// With no Redis client it returns an empty snapshot.
func BuildSnapshot(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription, candleLimit int) *SnapshotResponse {
	if candleLimit <= 0 {
		candleLimit = 500
	}
	candleLimit = min(candleLimit, 1000)

	snap := &SnapshotResponse{
		Type:       "SNAPSHOT",
		Symbol:     sub.Symbol,
		TF:         sub.TF,
		Candles:    []SnapshotCandle{},
		Indicators: make(map[string][]SnapshotIndPoint, len(sub.IndEntries)),
	}
	if rdb == nil {
		for _, e := range sub.IndEntries {
			snap.Indicators[e.Key()] = []SnapshotIndPoint{}
		}
		return snap
	}

	candles := readCandles(ctx, rdb, fmt.Sprintf("candle:%ds:%s", sub.TF, sub.Symbol), "+", candleLimit)
	for _, c := range candles {
		snap.Candles = append(snap.Candles, snapshotCandle(c))
	}

	for _, entry := range sub.IndEntries {
		key := fmt.Sprintf("ind:%s:%ds:%s", entry.Name, entry.TF, sub.Symbol)
		points := readIndicator(ctx, rdb, key, "+", candleLimit)
		if len(candles) > 0 {
			// One bar of margin on each side of the visible candles.
			margin := time.Duration(sub.TF) * time.Second
			points = clampPoints(points, candles[0].TS.Add(-margin), candles[len(candles)-1].TS.Add(margin))
		}
		if points == nil {
			points = []SnapshotIndPoint{}
		}
		snap.Indicators[entry.Key()] = points
	}
	return snap
}

// waitForIndicators polls Redis until every subscribed indicator stream has
// data or the timeout expires, giving the engine time to replay history
// after a config reload.
func waitForIndicators(ctx context.Context, rdb *goredis.Client, sub *ClientSubscription, timeout time.Duration) bool {
	deadline := time.After(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return false
		case <-ctx.Done():
			return false
		case <-ticker.C:
			ready := true
			for _, entry := range sub.IndEntries {
				key := fmt.Sprintf("ind:%s:%ds:%s", entry.Name, entry.TF, sub.Symbol)
				if n, err := rdb.XLen(ctx, key).Result(); err != nil || n == 0 {
					ready = false
					break
				}
			}
			if ready {
				return true
			}
		}
	}
}
