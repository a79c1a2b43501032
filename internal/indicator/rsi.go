package indicator

import (
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// RsiResult is one Relative Strength Index point. AvgGain and AvgLoss are
// the Wilder averages the next point is smoothed from.
type RsiResult struct {
	TS      time.Time `json:"ts"`
	Rsi     float64   `json:"rsi"`
	Ready   bool      `json:"ready"`
	AvgGain float64   `json:"avg_gain"`
	AvgLoss float64   `json:"avg_loss"`
}

func (r RsiResult) Timestamp() time.Time { return r.TS }
func (r RsiResult) Value() float64       { return valueOf(r.Ready, r.Rsi) }

// RSI uses Wilder's smoothing. The first value appears at index Period,
// averaged over the first Period changes.
type RSI[In stream.Reusable] struct {
	Period int
}

// NewRSI returns a validated RSI transform.
func NewRSI[In stream.Reusable](period int) (RSI[In], error) {
	r := RSI[In]{Period: period}
	if err := r.Validate(); err != nil {
		return RSI[In]{}, err
	}
	return r, nil
}

func (x RSI[In]) Name() string    { return label("RSI", x.Period) }
func (x RSI[In]) Lookback() int   { return x.Period }
func (x RSI[In]) Validate() error { return checkPeriod("RSI", x.Period) }

func (x RSI[In]) Compute(in stream.View[In], out stream.View[RsiResult], i int) (RsiResult, error) {
	r := RsiResult{TS: in.At(i).Timestamp()}
	if i < x.Period {
		return r, nil
	}
	p := float64(x.Period)

	if prev := out.At(i - 1); prev.Ready {
		gain, loss, ok := change(in, i)
		if !ok {
			return r, nil
		}
		r.AvgGain = (prev.AvgGain*(p-1) + gain) / p
		r.AvgLoss = (prev.AvgLoss*(p-1) + loss) / p
	} else {
		var sumGain, sumLoss float64
		for j := i - x.Period + 1; j <= i; j++ {
			gain, loss, ok := change(in, j)
			if !ok {
				return r, nil
			}
			sumGain += gain
			sumLoss += loss
		}
		r.AvgGain, r.AvgLoss = sumGain/p, sumLoss/p
	}

	r.Rsi, r.Ready = rsi(r.AvgGain, r.AvgLoss), true
	return r, nil
}

// change splits in[j]-in[j-1] into a gain and a loss.
func change[In stream.Reusable](in stream.View[In], j int) (gain, loss float64, ok bool) {
	cur, prev := in.At(j).Value(), in.At(j-1).Value()
	if stream.IsPending(cur) || stream.IsPending(prev) {
		return 0, 0, false
	}
	if d := cur - prev; d > 0 {
		gain = d
	} else {
		loss = -d
	}
	return gain, loss, true
}

func rsi(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// GetRsi computes RSI over a complete, timestamp-ordered series.
func GetRsi[In stream.Reusable](items []In, period int) ([]RsiResult, error) {
	return stream.Batch[In, RsiResult](items, RSI[In]{Period: period})
}
