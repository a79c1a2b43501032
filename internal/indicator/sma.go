package indicator

import (
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// SmaResult is one simple moving average point.
type SmaResult struct {
	TS    time.Time `json:"ts"`
	Sma   float64   `json:"sma"`
	Ready bool      `json:"ready"`
}

func (r SmaResult) Timestamp() time.Time { return r.TS }
func (r SmaResult) Value() float64       { return valueOf(r.Ready, r.Sma) }

// SMA is the arithmetic mean of the last Period values.
type SMA[In stream.Reusable] struct {
	Period int
}

// NewSMA returns a validated SMA transform.
func NewSMA[In stream.Reusable](period int) (SMA[In], error) {
	s := SMA[In]{Period: period}
	if err := s.Validate(); err != nil {
		return SMA[In]{}, err
	}
	return s, nil
}

func (s SMA[In]) Name() string    { return label("SMA", s.Period) }
func (s SMA[In]) Lookback() int   { return s.Period - 1 }
func (s SMA[In]) Validate() error { return checkPeriod("SMA", s.Period) }

func (s SMA[In]) Compute(in stream.View[In], _ stream.View[SmaResult], i int) (SmaResult, error) {
	r := SmaResult{TS: in.At(i).Timestamp()}
	if i < s.Period-1 {
		return r, nil
	}
	sum, ok := windowSum(in, i, s.Period)
	if !ok {
		return r, nil
	}
	r.Sma, r.Ready = sum/float64(s.Period), true
	return r, nil
}

// GetSma computes SMA over a complete, timestamp-ordered series.
func GetSma[In stream.Reusable](items []In, period int) ([]SmaResult, error) {
	return stream.Batch[In, SmaResult](items, SMA[In]{Period: period})
}
