// Package indicator provides technical indicators as stream transforms.
//
// Every indicator is a stateless stream.Transform: running values such as
// the EMA of the previous bar are read back from the results already
// computed. The same transform therefore drives the batch form (GetSma,
// GetEma, ...), the bounded stream.List and the live graph hubs the Engine
// builds per instrument, and all three produce identical values.
package indicator

import (
	"fmt"
	"math"
	"strconv"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// windowSum adds in[i-n+1..i] left to right. ok is false when any value
// in the window is pending.
func windowSum[In stream.Reusable](in stream.View[In], i, n int) (sum float64, ok bool) {
	for j := i - n + 1; j <= i; j++ {
		v := in.At(j).Value()
		if stream.IsPending(v) {
			return 0, false
		}
		sum += v
	}
	return sum, true
}

func checkPeriod(name string, period int) error {
	if period <= 0 {
		return fmt.Errorf("%w: %s lookback periods must be greater than 0, got %d",
			stream.ErrParameter, name, period)
	}
	return nil
}

func label(name string, period int) string {
	return name + "(" + strconv.Itoa(period) + ")"
}

// valueOf is v when ready, NaN otherwise.
func valueOf(ready bool, v float64) float64 {
	if !ready {
		return math.NaN()
	}
	return v
}
