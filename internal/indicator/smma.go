package indicator

import (
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// SmmaResult is one smoothed moving average point.
type SmmaResult struct {
	TS    time.Time `json:"ts"`
	Smma  float64   `json:"smma"`
	Ready bool      `json:"ready"`
}

func (r SmmaResult) Timestamp() time.Time { return r.TS }
func (r SmmaResult) Value() float64       { return valueOf(r.Ready, r.Smma) }

// SMMA (Wilder's running average) is seeded like EMA and then updated as
// (prev*(Period-1) + v) / Period.
type SMMA[In stream.Reusable] struct {
	Period int
}

// NewSMMA returns a validated SMMA transform.
func NewSMMA[In stream.Reusable](period int) (SMMA[In], error) {
	s := SMMA[In]{Period: period}
	if err := s.Validate(); err != nil {
		return SMMA[In]{}, err
	}
	return s, nil
}

func (s SMMA[In]) Name() string    { return label("SMMA", s.Period) }
func (s SMMA[In]) Lookback() int   { return s.Period }
func (s SMMA[In]) Validate() error { return checkPeriod("SMMA", s.Period) }

func (s SMMA[In]) Compute(in stream.View[In], out stream.View[SmmaResult], i int) (SmmaResult, error) {
	r := SmmaResult{TS: in.At(i).Timestamp()}
	if i < s.Period-1 {
		return r, nil
	}
	if i > 0 {
		if prev := out.At(i - 1); prev.Ready {
			v := in.At(i).Value()
			if stream.IsPending(v) {
				return r, nil
			}
			r.Smma, r.Ready = (prev.Smma*float64(s.Period-1)+v)/float64(s.Period), true
			return r, nil
		}
	}
	sum, ok := windowSum(in, i, s.Period)
	if !ok {
		return r, nil
	}
	r.Smma, r.Ready = sum/float64(s.Period), true
	return r, nil
}

// GetSmma computes SMMA over a complete, timestamp-ordered series.
func GetSmma[In stream.Reusable](items []In, period int) ([]SmmaResult, error) {
	return stream.Batch[In, SmmaResult](items, SMMA[In]{Period: period})
}
