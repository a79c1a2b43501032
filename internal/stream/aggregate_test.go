package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSum(bucket time.Time, first rec) rec { return rec{TS: bucket, V: first.V} }
func mergeSum(bar, next rec) rec              { return rec{TS: bar.TS, V: bar.V + next.V} }

// bars is the from-scratch aggregation used as reference.
func bars(items []rec, period time.Duration) []rec {
	var out []rec
	for _, r := range items {
		b := r.TS.Truncate(period)
		if n := len(out); n > 0 && out[n-1].TS.Equal(b) {
			out[n-1] = mergeSum(out[n-1], r)
			continue
		}
		out = append(out, openSum(b, r))
	}
	return out
}

func secs(i int) time.Time { return t0.Add(time.Duration(i) * 20 * time.Second) }

func TestAggregator_BuildsBars(t *testing.T) {
	root := NewQuoteHub[rec]("1s")
	agg, err := NewAggregator[rec](root, time.Minute, openSum, mergeSum)
	require.NoError(t, err)
	assert.Equal(t, "AGG(1m0s)", agg.Name())

	var events []event
	require.NoError(t, agg.Subscribe(record[rec](&events)))

	for i := 0; i < 7; i++ {
		require.NoError(t, root.Add(rec{secs(i), float64(i + 1)}))
	}

	assert.Equal(t, bars(root.Items(), time.Minute), agg.Items())
	assert.Equal(t, []float64{6, 15, 7}, values(agg.Items()))
	assert.Equal(t, []event{
		{Append, 0}, {Rebuild, 0}, {Rebuild, 0},
		{Append, 1}, {Rebuild, 1}, {Rebuild, 1},
		{Append, 2},
	}, events)
}

func TestAggregator_LateRecordAndRemoval(t *testing.T) {
	root := NewQuoteHub[rec]("1s")
	agg, err := NewAggregator[rec](root, time.Minute, openSum, mergeSum)
	require.NoError(t, err)
	sum, err := NewHub[rec, avg](agg, runningSum[rec]{})
	require.NoError(t, err)

	for _, i := range []int{0, 1, 3, 4, 6, 7, 8} {
		require.NoError(t, root.Add(rec{secs(i), float64(i)}))
	}
	require.NoError(t, root.Add(rec{secs(2), 2})) // late, first bucket
	require.NoError(t, root.Add(rec{secs(5), 5})) // late, second bucket
	require.NoError(t, root.Remove(rec{TS: secs(4)}))
	require.NoError(t, root.Add(rec{secs(7), 70})) // replace

	want := bars(root.Items(), time.Minute)
	assert.Equal(t, want, agg.Items())

	wantSum, err := Batch(want, Transform[rec, avg](runningSum[rec]{}))
	require.NoError(t, err)
	assert.Equal(t, wantSum, sum.Items())
}

func TestAggregator_IgnoreAndBackfill(t *testing.T) {
	root := NewQuoteHub[rec]("1s")
	require.NoError(t, root.AddBatch([]rec{{secs(0), 1}, {secs(1), 2}, {secs(3), 4}}))

	agg, err := NewAggregator[rec](root, time.Minute, openSum, mergeSum)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, values(agg.Items()))

	var events []event
	require.NoError(t, agg.Subscribe(record[rec](&events)))
	require.NoError(t, root.Add(rec{secs(1), 2}))
	assert.Equal(t, []event{{Ignore, 0}}, events)
}

func TestAggregator_Validation(t *testing.T) {
	root := NewQuoteHub[rec]("1s")
	_, err := NewAggregator[rec](root, 0, openSum, mergeSum)
	require.ErrorIs(t, err, ErrParameter)
	_, err = NewAggregator[rec](root, time.Minute, nil, mergeSum)
	require.ErrorIs(t, err, ErrParameter)
}
