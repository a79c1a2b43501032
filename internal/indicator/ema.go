package indicator

import (
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// EmaResult is one exponential moving average point.
type EmaResult struct {
	TS    time.Time `json:"ts"`
	Ema   float64   `json:"ema"`
	Ready bool      `json:"ready"`
}

func (r EmaResult) Timestamp() time.Time { return r.TS }
func (r EmaResult) Value() float64       { return valueOf(r.Ready, r.Ema) }

// EMA is seeded with the SMA of the first full window and then smoothed
// with k = 2/(Period+1). A pending value resets the seed.
type EMA[In stream.Reusable] struct {
	Period int
}

// NewEMA returns a validated EMA transform.
func NewEMA[In stream.Reusable](period int) (EMA[In], error) {
	e := EMA[In]{Period: period}
	if err := e.Validate(); err != nil {
		return EMA[In]{}, err
	}
	return e, nil
}

func (e EMA[In]) Name() string    { return label("EMA", e.Period) }
func (e EMA[In]) Lookback() int   { return e.Period }
func (e EMA[In]) Validate() error { return checkPeriod("EMA", e.Period) }

func (e EMA[In]) Compute(in stream.View[In], out stream.View[EmaResult], i int) (EmaResult, error) {
	r := EmaResult{TS: in.At(i).Timestamp()}
	if i < e.Period-1 {
		return r, nil
	}
	if i > 0 {
		if prev := out.At(i - 1); prev.Ready {
			v := in.At(i).Value()
			if stream.IsPending(v) {
				return r, nil
			}
			k := 2 / float64(e.Period+1)
			r.Ema, r.Ready = prev.Ema+k*(v-prev.Ema), true
			return r, nil
		}
	}
	sum, ok := windowSum(in, i, e.Period)
	if !ok {
		return r, nil
	}
	r.Ema, r.Ready = sum/float64(e.Period), true
	return r, nil
}

// GetEma computes EMA over a complete, timestamp-ordered series.
func GetEma[In stream.Reusable](items []In, period int) ([]EmaResult, error) {
	return stream.Batch[In, EmaResult](items, EMA[In]{Period: period})
}
