package stream

import (
	"fmt"
	"time"
)

// Aggregator re-buckets its provider's records into fixed periods. open
// starts a bar, stamped with the bucket time, from the first record of a
// bucket; merge folds each later record of the same bucket into the bar.
// Both must be pure.
//
// An upstream event at index i can only affect bars from the bucket of
// record i-1 onward, so the aggregator recomputes from there and emits
// Append, Ignore or Rebuild according to how the recomputed bars differ
// from the cached ones.
type Aggregator[T Series] struct {
	emitter[T]
	provider Provider[T]
	period   time.Duration
	open     func(bucket time.Time, first T) T
	merge    func(bar, next T) T
	cache    Cache[T]
	attached bool
}

// NewAggregator backfills bars from the provider's records and subscribes.
func NewAggregator[T Series](provider Provider[T], period time.Duration, open func(time.Time, T) T, merge func(T, T) T) (*Aggregator[T], error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidOperation)
	}
	if period <= 0 {
		return nil, fmt.Errorf("%w: aggregation period must be greater than zero, got %s", ErrParameter, period)
	}
	if open == nil || merge == nil {
		return nil, fmt.Errorf("%w: nil open or merge function", ErrParameter)
	}
	if provider.State() == StateTerminated {
		return nil, fmt.Errorf("%w: provider %s is terminated", ErrInvalidOperation, provider.Name())
	}

	a := &Aggregator[T]{provider: provider, period: period, open: open, merge: merge}
	a.init(a, "AGG("+period.String()+")", provider.Properties().inherit(), provider.Monitor(), provider)

	for _, bar := range a.aggregate(provider.Results(), 0) {
		a.cache.append(bar)
	}
	if provider.Properties().Observable {
		if err := provider.Subscribe(a); err != nil {
			return nil, err
		}
		a.attached = true
	}
	return a, nil
}

// Period returns the bucket length.
func (a *Aggregator[T]) Period() time.Duration { return a.period }

// Results returns a read-only view of the bars.
func (a *Aggregator[T]) Results() View[T] { return &a.cache }

// Items returns a copy of the bars.
func (a *Aggregator[T]) Items() []T { return a.cache.Items() }

// OnMutation re-aggregates the affected buckets.
func (a *Aggregator[T]) OnMutation(act Act, item T, index int) error {
	if err := a.writable("mutate"); err != nil {
		return err
	}
	start := time.Now()

	if act == Ignore {
		j := a.cache.IndexOf(a.bucket(item.Timestamp()))
		var bar T
		if j >= 0 {
			bar = a.cache.At(j)
		}
		return a.notify(Ignore, bar, j, a.cache.Len(), start)
	}

	src := a.provider.Results()
	var from time.Time
	if index > 0 && index-1 < src.Len() {
		from = a.bucket(src.At(index - 1).Timestamp())
	}
	j := 0
	srcStart := 0
	if !from.IsZero() {
		j = a.cache.IndexGTE(from)
		srcStart = indexGTE(src, from)
	}
	fresh := a.aggregate(src, srcStart)

	old := a.cache.Len()
	k := 0
	for k < len(fresh) && j+k < old && same(fresh[k], a.cache.At(j+k)) {
		k++
	}
	first, newLen := j+k, j+len(fresh)

	switch {
	case first == newLen && newLen == old:
		var bar T
		if old > 0 {
			bar = a.cache.At(old - 1)
		}
		return a.notify(Ignore, bar, old-1, old, start)

	case first == old && newLen == old+1:
		a.cache.append(fresh[k])
		return a.notify(Append, fresh[k], first, a.cache.Len(), start)
	}

	a.cache.truncate(first)
	for _, bar := range fresh[k:] {
		a.cache.append(bar)
	}
	var bar T
	if first < a.cache.Len() {
		bar = a.cache.At(first)
	}
	return a.notify(Rebuild, bar, first, a.cache.Len(), start)
}

// OnCompleted terminates the aggregator when its provider ends.
func (a *Aggregator[T]) OnCompleted() {
	a.attached = false
	a.complete()
}

// Detach unsubscribes from the provider and terminates the aggregator and
// every node fed by it.
func (a *Aggregator[T]) Detach() bool {
	if a.state == StateTerminated {
		return false
	}
	removed := false
	if a.attached {
		removed, _ = a.provider.Unsubscribe(a)
		a.attached = false
	}
	a.complete()
	return removed
}

func (a *Aggregator[T]) bucket(ts time.Time) time.Time {
	return ts.Truncate(a.period)
}

func (a *Aggregator[T]) aggregate(src View[T], from int) []T {
	var bars []T
	var cur T
	var curBucket time.Time
	open := false

	for i := from; i < src.Len(); i++ {
		item := src.At(i)
		b := a.bucket(item.Timestamp())
		if open && b.Equal(curBucket) {
			cur = a.merge(cur, item)
			continue
		}
		if open {
			bars = append(bars, cur)
		}
		cur, curBucket, open = a.open(b, item), b, true
	}
	if open {
		bars = append(bars, cur)
	}
	return bars
}
