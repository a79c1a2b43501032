package stream

import (
	"fmt"
	"math"
	"time"
)

var t0 = time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)

func at(i int) time.Time { return t0.Add(time.Duration(i) * time.Minute) }

// rec is a minimal input record.
type rec struct {
	TS time.Time
	V  float64
}

func (r rec) Timestamp() time.Time { return r.TS }
func (r rec) Value() float64       { return r.V }

func recs(values ...float64) []rec {
	out := make([]rec, len(values))
	for i, v := range values {
		out[i] = rec{TS: at(i), V: v}
	}
	return out
}

// avg is a minimal derived record.
type avg struct {
	TS    time.Time
	V     float64
	Ready bool
}

func (a avg) Timestamp() time.Time { return a.TS }

func (a avg) Value() float64 {
	if !a.Ready {
		return math.NaN()
	}
	return a.V
}

// movingAvg is a plain windowed mean used to exercise the graph.
type movingAvg[In Reusable] struct{ period int }

func (m movingAvg[In]) Name() string  { return fmt.Sprintf("MA(%d)", m.period) }
func (m movingAvg[In]) Lookback() int { return m.period - 1 }

func (m movingAvg[In]) Validate() error {
	if m.period <= 0 {
		return fmt.Errorf("%w: period %d", ErrParameter, m.period)
	}
	return nil
}

func (m movingAvg[In]) Compute(in View[In], _ View[avg], i int) (avg, error) {
	r := avg{TS: in.At(i).Timestamp()}
	if i < m.period-1 {
		return r, nil
	}
	sum := 0.0
	for j := i - m.period + 1; j <= i; j++ {
		v := in.At(j).Value()
		if math.IsNaN(v) {
			return r, nil
		}
		sum += v
	}
	r.V, r.Ready = sum/float64(m.period), true
	return r, nil
}

// runningSum carries state through its previous result.
type runningSum[In Reusable] struct{}

func (runningSum[In]) Name() string  { return "SUM" }
func (runningSum[In]) Lookback() int { return 1 }

func (runningSum[In]) Compute(in View[In], out View[avg], i int) (avg, error) {
	v := in.At(i).Value()
	r := avg{TS: in.At(i).Timestamp()}
	if math.IsNaN(v) {
		return r, nil
	}
	prev := 0.0
	if i > 0 && out.At(i-1).Ready {
		prev = out.At(i - 1).V
	}
	r.V, r.Ready = prev+v, true
	return r, nil
}

// ratio divides a by b at the same position.
type ratio struct{}

func (ratio) Name() string  { return "RATIO" }
func (ratio) Lookback() int { return 0 }

func (ratio) Compute(a View[rec], b View[rec], _ View[avg], i int) (avg, error) {
	r := avg{TS: a.At(i).TS}
	if i >= b.Len() || b.At(i).V == 0 {
		return r, nil
	}
	r.V, r.Ready = a.At(i).V/b.At(i).V, true
	return r, nil
}

// recorder captures events from a node.
type event struct {
	Act   Act
	Index int
}

func record[T any](events *[]event) *Tap[T] {
	return &Tap[T]{OnEvent: func(act Act, _ T, index int) error {
		*events = append(*events, event{act, index})
		return nil
	}}
}
