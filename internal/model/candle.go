package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Candle is an OHLC bar for one instrument and timeframe. It is the root
// record of every indicator graph.
// All prices are in paise (int64) to avoid floating-point drift.
type Candle struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`     // timeframe in seconds (1 = raw 1s candles)
	TS       time.Time `json:"ts"`     // bucket start time (UTC, TF-aligned)
	Open     int64     `json:"open"`   // paise
	High     int64     `json:"high"`   // paise
	Low      int64     `json:"low"`    // paise
	Close    int64     `json:"close"`  // paise
	Volume   int64     `json:"volume"` // cumulative quantity
	Count    int       `json:"count"`  // number of finer candles merged
}

// Key returns a unique key for this candle's instrument: "exchange:token".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Token
}

// SeriesKey identifies the candle series: "exchange:token:tf".
func (c *Candle) SeriesKey() string {
	return SeriesKey(c.Exchange, c.Token, c.TF)
}

// StreamKey returns the Redis stream key: "candle:{TF}s:{exchange}:{token}".
func (c *Candle) StreamKey() string {
	return "candle:" + strconv.Itoa(c.TF) + "s:" + c.Exchange + ":" + c.Token
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Timestamp makes Candle a stream record.
func (c Candle) Timestamp() time.Time { return c.TS }

// Value is the close in rupees, the default series of a candle.
func (c Candle) Value() float64 { return Rupees(c.Close) }

// Equal reports whether o carries the same bar. Timestamps compare by
// instant, so candles decoded from different sources still match.
func (c Candle) Equal(o Candle) bool {
	return c.Token == o.Token && c.Exchange == o.Exchange && c.TF == o.TF &&
		c.TS.Equal(o.TS) &&
		c.Open == o.Open && c.High == o.High && c.Low == o.Low && c.Close == o.Close &&
		c.Volume == o.Volume && c.Count == o.Count
}

// SeriesKey builds "exchange:token:tf".
func SeriesKey(exchange, token string, tf int) string {
	return exchange + ":" + token + ":" + strconv.Itoa(tf)
}

// Rupees converts paise to rupees.
func Rupees(paise int64) float64 {
	return float64(paise) / 100
}
