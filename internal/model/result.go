package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// IndicatorResult is one published indicator value for a series.
//
// Act is the graph event that produced it: "append" for a new tail value,
// "rebuild" for a value recomputed after a late, changed or removed candle.
// A rebuild publishes every value from Index onward, so consumers replace
// their copy from Index.
type IndicatorResult struct {
	Name     string    `json:"name"` // e.g. "SMA_20", "EMA_9", "RSI_14"
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"` // timeframe in seconds
	Value    float64   `json:"value"`
	TS       time.Time `json:"ts"`    // candle timestamp that produced this value
	Ready    bool      `json:"ready"` // true when indicator has enough data
	Act      string    `json:"act"`
	Index    int       `json:"index"`
}

// StreamKey returns the Redis stream key: "ind:{name}:{TF}s:{exchange}:{token}".
func (r *IndicatorResult) StreamKey() string {
	return "ind:" + r.Name + ":" + strconv.Itoa(r.TF) + "s:" + r.Exchange + ":" + r.Token
}

// Channel returns the PubSub channel: "pub:ind:{name}:{TF}s:{exchange}:{token}".
func (r *IndicatorResult) Channel() string {
	return "pub:ind:" + r.Name + ":" + strconv.Itoa(r.TF) + "s:" + r.Exchange + ":" + r.Token
}

// JSON returns the JSON-encoded indicator result. NaN values are not
// valid JSON, so a not-ready result is encoded with value 0.
func (r *IndicatorResult) JSON() []byte {
	out := *r
	if !out.Ready {
		out.Value = 0
	}
	b, _ := json.Marshal(&out)
	return b
}
