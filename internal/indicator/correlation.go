package indicator

import (
	"math"
	"time"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/stream"
)

// CorrResult is one rolling correlation point. Variances and covariance
// are population statistics over the window.
type CorrResult struct {
	TS          time.Time `json:"ts"`
	VarianceA   float64   `json:"variance_a"`
	VarianceB   float64   `json:"variance_b"`
	Covariance  float64   `json:"covariance"`
	Correlation float64   `json:"correlation"`
	RSquared    float64   `json:"r_squared"`
	Ready       bool      `json:"ready"`
}

func (r CorrResult) Timestamp() time.Time { return r.TS }
func (r CorrResult) Value() float64       { return valueOf(r.Ready, r.Correlation) }

// Correlation is the rolling Pearson correlation of two aligned series.
// A flat window has no correlation and stays not ready.
type Correlation[A, B stream.Reusable] struct {
	Periods int
}

// NewCorrelation returns a validated Correlation transform.
func NewCorrelation[A, B stream.Reusable](periods int) (Correlation[A, B], error) {
	c := Correlation[A, B]{Periods: periods}
	if err := c.Validate(); err != nil {
		return Correlation[A, B]{}, err
	}
	return c, nil
}

func (c Correlation[A, B]) Name() string    { return label("CORR", c.Periods) }
func (c Correlation[A, B]) Lookback() int   { return c.Periods - 1 }
func (c Correlation[A, B]) Validate() error { return checkPeriod("CORR", c.Periods) }

func (c Correlation[A, B]) Compute(a stream.View[A], b stream.View[B], _ stream.View[CorrResult], i int) (CorrResult, error) {
	r := CorrResult{TS: a.At(i).Timestamp()}
	if i < c.Periods-1 || i >= b.Len() {
		return r, nil
	}

	var sumA, sumB, sumA2, sumB2, sumAB float64
	for j := i - c.Periods + 1; j <= i; j++ {
		va, vb := a.At(j).Value(), b.At(j).Value()
		if stream.IsPending(va) || stream.IsPending(vb) {
			return r, nil
		}
		sumA += va
		sumB += vb
		sumA2 += va * va
		sumB2 += vb * vb
		sumAB += va * vb
	}
	n := float64(c.Periods)
	avgA, avgB := sumA/n, sumB/n

	r.VarianceA = sumA2/n - avgA*avgA
	r.VarianceB = sumB2/n - avgB*avgB
	r.Covariance = sumAB/n - avgA*avgB

	divisor := math.Sqrt(r.VarianceA * r.VarianceB)
	if divisor == 0 || math.IsNaN(divisor) {
		return r, nil
	}
	r.Correlation = r.Covariance / divisor
	r.RSquared = r.Correlation * r.Correlation
	r.Ready = true
	return r, nil
}

// GetCorrelation computes Correlation over two complete, timestamp-aligned
// series.
func GetCorrelation[A, B stream.Reusable](a []A, b []B, periods int) ([]CorrResult, error) {
	return stream.BatchPairs[A, B, CorrResult](a, b, Correlation[A, B]{Periods: periods})
}
