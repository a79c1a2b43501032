package indicator

import (
	"fmt"
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// PrsResult is one price relative strength point.
type PrsResult struct {
	TS           time.Time `json:"ts"`
	Prs          float64   `json:"prs"`
	Ready        bool      `json:"ready"`
	PrsPercent   float64   `json:"prs_percent"`
	PercentReady bool      `json:"percent_ready"`
}

func (r PrsResult) Timestamp() time.Time { return r.TS }
func (r PrsResult) Value() float64       { return valueOf(r.Ready, r.Prs) }

// PRS is the ratio of an evaluated series to a base series. With Periods
// set it also reports the difference of their percent changes over that
// many bars.
type PRS[A, B stream.Reusable] struct {
	Periods int // 0 disables PrsPercent
}

// NewPRS returns a validated PRS transform.
func NewPRS[A, B stream.Reusable](periods int) (PRS[A, B], error) {
	p := PRS[A, B]{Periods: periods}
	if err := p.Validate(); err != nil {
		return PRS[A, B]{}, err
	}
	return p, nil
}

func (p PRS[A, B]) Name() string {
	if p.Periods == 0 {
		return "PRS"
	}
	return label("PRS", p.Periods)
}

func (p PRS[A, B]) Lookback() int { return p.Periods }

func (p PRS[A, B]) Validate() error {
	if p.Periods < 0 {
		return fmt.Errorf("%w: PRS lookback periods must be greater than 0, got %d", stream.ErrParameter, p.Periods)
	}
	return nil
}

func (p PRS[A, B]) Compute(eval stream.View[A], base stream.View[B], _ stream.View[PrsResult], i int) (PrsResult, error) {
	r := PrsResult{TS: eval.At(i).Timestamp()}
	if i >= base.Len() {
		return r, nil
	}
	ev, bv := eval.At(i).Value(), base.At(i).Value()
	if stream.IsPending(ev) || stream.IsPending(bv) {
		return r, nil
	}
	if bv != 0 {
		r.Prs, r.Ready = ev/bv, true
	}

	if p.Periods > 0 && i >= p.Periods {
		eo, bo := eval.At(i-p.Periods).Value(), base.At(i-p.Periods).Value()
		if !stream.IsPending(eo) && !stream.IsPending(bo) && eo != 0 && bo != 0 {
			r.PrsPercent = (ev-eo)/eo - (bv-bo)/bo
			r.PercentReady = true
		}
	}
	return r, nil
}

// GetPrs computes PRS over two complete, timestamp-aligned series.
func GetPrs[A, B stream.Reusable](eval []A, base []B, periods int) ([]PrsResult, error) {
	return stream.BatchPairs[A, B, PrsResult](eval, base, PRS[A, B]{Periods: periods})
}
