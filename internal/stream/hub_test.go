package stream

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Helpers ───

type chain struct {
	root *QuoteHub[rec]
	ma   *Hub[rec, avg]
	sum  *Hub[avg, avg]
	ma2  *Hub[avg, avg]
}

func newChain(t *testing.T) chain {
	t.Helper()
	root := NewQuoteHub[rec]("quotes")
	ma, err := NewHub[rec, avg](root, movingAvg[rec]{5})
	require.NoError(t, err)
	sum, err := NewHub[avg, avg](ma, runningSum[avg]{})
	require.NoError(t, err)
	ma2, err := NewHub[avg, avg](sum, movingAvg[avg]{3})
	require.NoError(t, err)
	return chain{root, ma, sum, ma2}
}

// assertConverged checks every hub against batch over the root's records.
func assertConverged(t *testing.T, c chain) {
	t.Helper()
	b1, err := Batch(c.root.Items(), Transform[rec, avg](movingAvg[rec]{5}))
	require.NoError(t, err)
	b2, err := Batch(b1, Transform[avg, avg](runningSum[avg]{}))
	require.NoError(t, err)
	b3, err := Batch(b2, Transform[avg, avg](movingAvg[avg]{3}))
	require.NoError(t, err)

	require.Equal(t, b1, c.ma.Items(), "MA(5) diverged")
	require.Equal(t, b2, c.sum.Items(), "SUM diverged")
	require.Equal(t, b3, c.ma2.Items(), "MA(3) of SUM diverged")
}

func maValues(items []avg) []any {
	out := make([]any, len(items))
	for i, a := range items {
		if a.Ready {
			out[i] = a.V
		} else {
			out[i] = "pending"
		}
	}
	return out
}

// ─── Classification and propagation ───

func TestHub_LateArrivalRebuilds(t *testing.T) {
	root := NewQuoteHub[rec]("quotes")
	ma, err := NewHub[rec, avg](root, movingAvg[rec]{3})
	require.NoError(t, err)

	var events []event
	require.NoError(t, ma.Subscribe(record[avg](&events)))

	in := recs(10, 11, 12, 13, 14)
	require.NoError(t, root.Add(in[0]))
	require.NoError(t, root.Add(in[1]))
	require.NoError(t, root.Add(in[3]))
	require.NoError(t, root.Add(in[2])) // late
	require.NoError(t, root.Add(in[4]))

	assert.Equal(t, []any{"pending", "pending", 11.0, 12.0, 13.0}, maValues(ma.Items()))
	assert.Equal(t, []event{
		{Append, 0}, {Append, 1}, {Append, 2}, {Rebuild, 2}, {Append, 4},
	}, events)
}

func TestHub_DuplicateIsIgnored(t *testing.T) {
	c := newChain(t)
	require.NoError(t, c.root.AddBatch(recs(1, 2, 3, 4, 5, 6)))

	var events []event
	require.NoError(t, c.ma2.Subscribe(record[avg](&events)))

	before := c.ma2.Items()
	require.NoError(t, c.root.Add(rec{at(5), 6}))
	require.NoError(t, c.root.Add(rec{at(2), 3}))

	assert.Equal(t, 6, c.root.Results().Len())
	assert.Equal(t, before, c.ma2.Items())
	assert.Equal(t, []event{{Ignore, 5}, {Ignore, 2}}, events)
}

func TestQuoteHub_PendingResendIsIgnored(t *testing.T) {
	root := NewQuoteHub[rec]("quotes")
	var events []event
	require.NoError(t, root.Subscribe(record[rec](&events)))

	require.NoError(t, root.Add(rec{at(0), 1}))
	require.NoError(t, root.Add(rec{at(1), Pending()}))
	require.NoError(t, root.Add(rec{at(1), Pending()}))
	require.NoError(t, root.Insert(rec{at(1), Pending()}))

	assert.Equal(t, 2, root.Results().Len())
	assert.Equal(t, []event{{Append, 0}, {Append, 1}, {Ignore, 1}, {Ignore, 1}}, events)

	require.NoError(t, root.Add(rec{at(1), 2}))
	assert.Equal(t, event{Rebuild, 1}, events[len(events)-1])
}

func TestQuoteHub_PendingResendsOverflow(t *testing.T) {
	root := NewQuoteHub[rec]("quotes")
	require.NoError(t, root.Add(rec{at(0), Pending()}))

	var err error
	for i := 0; i <= maxRepeats && err == nil; i++ {
		err = root.Add(rec{at(0), Pending()})
	}
	require.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, StateTerminated, root.State())
}

func TestHub_BackfillOnConstruction(t *testing.T) {
	root := NewQuoteHub[rec]("quotes")
	require.NoError(t, root.AddBatch(recs(1, 2, 3, 4)))

	ma, err := NewHub[rec, avg](root, movingAvg[rec]{2})
	require.NoError(t, err)

	require.Equal(t, 4, ma.Results().Len())
	assert.Equal(t, []any{"pending", 1.5, 2.5, 3.5}, maValues(ma.Items()))
}

func TestHub_InvalidParameter(t *testing.T) {
	root := NewQuoteHub[rec]("quotes")
	_, err := NewHub[rec, avg](root, movingAvg[rec]{0})
	require.ErrorIs(t, err, ErrParameter)
	assert.Equal(t, 0, root.Subscribers())
}

func TestHub_ConvergesUnderRandomMutations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := newChain(t)

	full := make([]rec, 80)
	for i := range full {
		full[i] = rec{at(i), float64(rng.Intn(1000)) / 7}
	}

	// Out-of-order delivery of the whole set.
	for _, i := range rng.Perm(len(full)) {
		require.NoError(t, c.root.Add(full[i]))
	}
	require.Equal(t, full, c.root.Items())
	assertConverged(t, c)

	for step := 0; step < 200; step++ {
		n := c.root.Results().Len()
		switch op := rng.Intn(4); {
		case op == 0 && n > 0: // replace
			i := rng.Intn(n)
			require.NoError(t, c.root.Add(rec{at(i), float64(rng.Intn(1000)) / 3}))
		case op == 1 && n > 0: // remove
			require.NoError(t, c.root.RemoveAt(rng.Intn(n)))
		case op == 2: // insert between existing minutes
			i := rng.Intn(len(full))
			require.NoError(t, c.root.Insert(rec{at(i).Add(17e9), float64(step)}))
		default: // resend
			if n > 0 {
				i := rng.Intn(n)
				require.NoError(t, c.root.Add(c.root.Results().At(i)))
			}
		}
		assertConverged(t, c)
	}
}

func TestHub_RemovalMatchesBatchWithoutRecord(t *testing.T) {
	c := newChain(t)
	in := recs(5, 9, 2, 7, 7, 3, 8, 1, 6, 4)
	require.NoError(t, c.root.AddBatch(in))

	require.NoError(t, c.root.Remove(in[4]))

	without := append(append([]rec(nil), in[:4]...), in[5:]...)
	require.Equal(t, without, c.root.Items())
	assertConverged(t, c)

	err := c.root.Remove(in[4])
	require.ErrorIs(t, err, ErrSequence)
}

func TestHub_RemoveRangeAndRebuild(t *testing.T) {
	c := newChain(t)
	require.NoError(t, c.root.AddBatch(recs(5, 9, 2, 7, 7, 3, 8, 1, 6, 4)))

	require.NoError(t, c.root.RemoveRange(at(6)))
	require.Equal(t, 6, c.root.Results().Len())
	assertConverged(t, c)

	require.NoError(t, c.root.Rebuild(at(2)))
	assertConverged(t, c)

	require.NoError(t, c.ma.Rebuild(at(0)))
	assertConverged(t, c)
}

func TestHub_FanOutOrderIndependent(t *testing.T) {
	rootA := NewQuoteHub[rec]("a")
	rootB := NewQuoteHub[rec]("b")

	a1, err := NewHub[rec, avg](rootA, movingAvg[rec]{3})
	require.NoError(t, err)
	a2, err := NewHub[rec, avg](rootA, runningSum[rec]{})
	require.NoError(t, err)

	b2, err := NewHub[rec, avg](rootB, runningSum[rec]{})
	require.NoError(t, err)
	b1, err := NewHub[rec, avg](rootB, movingAvg[rec]{3})
	require.NoError(t, err)

	in := recs(3, 1, 4, 1, 5, 9, 2, 6)
	for _, i := range []int{0, 1, 2, 5, 3, 4, 7, 6} {
		require.NoError(t, rootA.Add(in[i]))
		require.NoError(t, rootB.Add(in[i]))
	}

	assert.Equal(t, a1.Items(), b1.Items())
	assert.Equal(t, a2.Items(), b2.Items())

	want, err := Batch(in, Transform[rec, avg](movingAvg[rec]{3}))
	require.NoError(t, err)
	assert.Equal(t, want, a1.Items())
}

// ─── Lifecycle ───

func TestHub_EndTransmissionCascades(t *testing.T) {
	c := newChain(t)
	require.NoError(t, c.root.AddBatch(recs(1, 2, 3, 4, 5, 6)))
	done := 0
	require.NoError(t, c.ma2.Subscribe(&Tap[avg]{OnDone: func() { done++ }}))

	c.root.EndTransmission()

	for _, s := range []State{c.root.State(), c.ma.State(), c.sum.State(), c.ma2.State()} {
		assert.Equal(t, StateTerminated, s)
	}
	assert.Equal(t, 1, done)

	require.ErrorIs(t, c.root.Add(rec{at(6), 7}), ErrInvalidOperation)
	require.ErrorIs(t, c.ma.OnMutation(Append, rec{at(6), 7}, 6), ErrInvalidOperation)
	require.ErrorIs(t, c.ma.Subscribe(&Tap[avg]{}), ErrInvalidOperation)
	_, err := c.ma.Unsubscribe(&Tap[avg]{})
	require.ErrorIs(t, err, ErrInvalidOperation)

	// Reads stay valid.
	assert.Equal(t, 6, c.ma2.Results().Len())

	_, err = NewHub[rec, avg](c.root, movingAvg[rec]{2})
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestHub_DetachStopsUpdates(t *testing.T) {
	c := newChain(t)
	require.NoError(t, c.root.AddBatch(recs(1, 2, 3)))

	assert.True(t, c.sum.Detach())
	assert.False(t, c.sum.Detach())
	assert.Equal(t, StateTerminated, c.ma2.State())
	assert.Equal(t, StateActive, c.ma.State())

	require.NoError(t, c.root.Add(rec{at(3), 4}))
	assert.Equal(t, 4, c.ma.Results().Len())
	assert.Equal(t, 3, c.sum.Results().Len())
}

func TestRegistry_UnsubscribeIdempotent(t *testing.T) {
	root := NewQuoteHub[rec]("quotes")
	tap := &Tap[rec]{}

	require.NoError(t, root.Subscribe(tap))
	require.NoError(t, root.Subscribe(tap))
	assert.Equal(t, 1, root.Subscribers())

	removed, err := root.Unsubscribe(tap)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = root.Unsubscribe(tap)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRegistry_BroadcastInAttachOrder(t *testing.T) {
	root := NewQuoteHub[rec]("quotes")
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		require.NoError(t, root.Subscribe(&Tap[rec]{OnEvent: func(Act, rec, int) error {
			order = append(order, name)
			return nil
		}}))
	}
	require.NoError(t, root.Add(rec{at(0), 1}))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRegistry_RejectsCycle(t *testing.T) {
	c := newChain(t)
	err := c.ma2.Subscribe(c.sum)
	require.ErrorIs(t, err, ErrInvalidOperation)

	err = c.sum.Subscribe(c.sum)
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestQuoteHub_OverflowTerminates(t *testing.T) {
	root := NewQuoteHub[rec]("quotes")
	r := rec{at(0), 1}
	require.NoError(t, root.Add(r))

	for i := 0; i < maxRepeats; i++ {
		require.NoError(t, root.Add(r))
	}
	err := root.Add(r)
	require.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, StateTerminated, root.State())
}

func TestQuoteHub_RemoveAtOutOfRange(t *testing.T) {
	root := NewQuoteHub[rec]("quotes")
	require.ErrorIs(t, root.RemoveAt(0), ErrParameter)
}

// ─── Properties ───

func TestPlaceholder_CannotBeObserved(t *testing.T) {
	seed, err := NewPlaceholder("seed", recs(1, 2, 3, 4), false)
	require.NoError(t, err)

	require.ErrorIs(t, seed.Subscribe(&Tap[rec]{}), ErrInvalidOperation)
	require.ErrorIs(t, seed.Add(rec{at(4), 5}), ErrInvalidOperation)

	ma, err := NewHub[rec, avg](seed, movingAvg[rec]{2})
	require.NoError(t, err)
	assert.Equal(t, 4, ma.Results().Len())
	assert.True(t, ma.Properties().Observable)

	sum, err := NewHub[avg, avg](ma, runningSum[avg]{})
	require.NoError(t, err)
	assert.Equal(t, 1, ma.Subscribers())
	assert.Equal(t, 4, sum.Results().Len())
}

func TestPlaceholder_PropagatesRestriction(t *testing.T) {
	seed, err := NewPlaceholder("seed", recs(1, 2, 3), true)
	require.NoError(t, err)

	ma, err := NewHub[rec, avg](seed, movingAvg[rec]{2})
	require.NoError(t, err)
	assert.False(t, ma.Properties().Observable)
	assert.True(t, ma.Properties().PropagateRestriction)
	require.ErrorIs(t, ma.Subscribe(&Tap[avg]{}), ErrInvalidOperation)
}
