package stream

import (
	"fmt"

	"github.com/DaveSkender/Stock.Indicators-sub014/internal/ringbuf"
)

// List is the non-reactive form of a Hub: it runs the same Transform over
// records added one at a time and keeps only the newest MaxSize results.
// Internally it retains just enough inputs and results for the transform's
// lookback, so its visible tail always equals the tail of the unbounded
// computation.
type List[In Series, Out Series] struct {
	transform Transform[In, Out]
	maxSize   int
	inputs    *ringbuf.Ring[In]
	results   *ringbuf.Ring[Out]
}

// NewList creates an empty list that shows at most maxSize results.
func NewList[In Series, Out Series](transform Transform[In, Out], maxSize int) (*List[In, Out], error) {
	if err := validate(transform); err != nil {
		return nil, err
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: max size must be greater than 0, got %d", ErrParameter, maxSize)
	}
	keep := max(maxSize, transform.Lookback()+1)
	return &List[In, Out]{
		transform: transform,
		maxSize:   maxSize,
		inputs:    ringbuf.New[In](keep),
		results:   ringbuf.New[Out](keep),
	}, nil
}

// NewListFrom creates a list and adds items in order.
func NewListFrom[In Series, Out Series](transform Transform[In, Out], maxSize int, items []In) (*List[In, Out], error) {
	l, err := NewList(transform, maxSize)
	if err != nil {
		return nil, err
	}
	if err := l.AddBatch(items); err != nil {
		return nil, err
	}
	return l, nil
}

// Name returns the transform label.
func (l *List[In, Out]) Name() string { return l.transform.Name() }

// MaxSize returns the visible capacity.
func (l *List[In, Out]) MaxSize() int { return l.maxSize }

// Add computes the result for item. Records must arrive in timestamp
// order; an identical resend of the newest record is ignored.
func (l *List[In, Out]) Add(item In) error {
	if item.Timestamp().IsZero() {
		return fmt.Errorf("%w: record has no timestamp", ErrSequence)
	}
	if last, ok := l.inputs.Last(); ok {
		if err := checkNext(last, item); err != nil {
			return err
		}
		if item.Timestamp().Equal(last.Timestamp()) {
			return nil
		}
	}

	in := window[In]{l.inputs}
	r, err := l.transform.Compute(appended[In]{in, item}, window[Out]{l.results}, in.Len())
	if err != nil {
		return fmt.Errorf("%s at index %d: %w", l.transform.Name(), in.Len(), err)
	}
	l.inputs.Push(item)
	l.results.Push(r)
	return nil
}

// AddBatch is Add over items in the given order.
func (l *List[In, Out]) AddBatch(items []In) error {
	for _, item := range items {
		if err := l.Add(item); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of visible results.
func (l *List[In, Out]) Len() int {
	return min(l.results.Len(), l.maxSize)
}

// At returns the i-th visible result, 0 being the oldest.
func (l *List[In, Out]) At(i int) Out {
	return l.results.At(l.results.Len() - l.Len() + i)
}

// Items copies the visible results.
func (l *List[In, Out]) Items() []Out {
	return Collect[Out](l)
}

// Count returns how many records were added since the last Clear.
func (l *List[In, Out]) Count() int {
	return l.inputs.Evicted() + l.inputs.Len()
}

// Clear drops all results and transform history.
func (l *List[In, Out]) Clear() {
	l.inputs.Reset()
	l.results.Reset()
}

// PairList is the non-reactive form of a PairsHub.
type PairList[A Series, B Series, Out Series] struct {
	transform PairTransform[A, B, Out]
	maxSize   int
	a         *ringbuf.Ring[A]
	b         *ringbuf.Ring[B]
	results   *ringbuf.Ring[Out]
}

// NewPairList creates an empty dual-input list showing at most maxSize results.
func NewPairList[A Series, B Series, Out Series](transform PairTransform[A, B, Out], maxSize int) (*PairList[A, B, Out], error) {
	if err := validate(transform); err != nil {
		return nil, err
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: max size must be greater than 0, got %d", ErrParameter, maxSize)
	}
	keep := max(maxSize, transform.Lookback()+1)
	return &PairList[A, B, Out]{
		transform: transform,
		maxSize:   maxSize,
		a:         ringbuf.New[A](keep),
		b:         ringbuf.New[B](keep),
		results:   ringbuf.New[Out](keep),
	}, nil
}

// Add computes the result for one aligned pair.
func (l *PairList[A, B, Out]) Add(a A, b B) error {
	if !a.Timestamp().Equal(b.Timestamp()) {
		return fmt.Errorf("%w: %s pair stamped %s and %s", ErrSequence, l.transform.Name(), a.Timestamp(), b.Timestamp())
	}
	if a.Timestamp().IsZero() {
		return fmt.Errorf("%w: record has no timestamp", ErrSequence)
	}
	if last, ok := l.a.Last(); ok {
		if err := checkNext(last, a); err != nil {
			return err
		}
		if a.Timestamp().Equal(last.Timestamp()) {
			return nil
		}
	}

	wa := window[A]{l.a}
	n := wa.Len()
	r, err := l.transform.Compute(appended[A]{wa, a}, appended[B]{window[B]{l.b}, b}, window[Out]{l.results}, n)
	if err != nil {
		return fmt.Errorf("%s at index %d: %w", l.transform.Name(), n, err)
	}
	l.a.Push(a)
	l.b.Push(b)
	l.results.Push(r)
	return nil
}

// AddBatch adds two series of equal length pairwise.
func (l *PairList[A, B, Out]) AddBatch(a []A, b []B) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: series lengths differ (%d vs %d)", ErrParameter, len(a), len(b))
	}
	for i := range a {
		if err := l.Add(a[i], b[i]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of visible results.
func (l *PairList[A, B, Out]) Len() int {
	return min(l.results.Len(), l.maxSize)
}

// At returns the i-th visible result, 0 being the oldest.
func (l *PairList[A, B, Out]) At(i int) Out {
	return l.results.At(l.results.Len() - l.Len() + i)
}

// Items copies the visible results.
func (l *PairList[A, B, Out]) Items() []Out {
	return Collect[Out](l)
}

// Clear drops all results and transform history.
func (l *PairList[A, B, Out]) Clear() {
	l.a.Reset()
	l.b.Reset()
	l.results.Reset()
}

// window exposes a ring by absolute position: index 0 is the first value
// ever pushed, even after it was evicted. Reading an evicted position
// panics, which means a transform read further back than its Lookback.
type window[T any] struct {
	r *ringbuf.Ring[T]
}

func (w window[T]) Len() int   { return w.r.Evicted() + w.r.Len() }
func (w window[T]) At(i int) T { return w.r.At(i - w.r.Evicted()) }

// checkNext rejects a record older than last, and a record with last's
// timestamp but different content.
func checkNext[T Series](last, next T) error {
	lt, nt := last.Timestamp(), next.Timestamp()
	switch {
	case nt.Before(lt):
		return fmt.Errorf("%w: record at %s is older than %s", ErrSequence, nt, lt)
	case nt.Equal(lt) && !same(last, next):
		return fmt.Errorf("%w: record at %s changed; lists cannot rebuild", ErrSequence, nt)
	}
	return nil
}
