package stream

import "fmt"

// Batch runs transform over a complete, timestamp-ordered series. It is
// the reference every incremental form must reproduce exactly.
func Batch[In Series, Out Series](items []In, transform Transform[In, Out]) ([]Out, error) {
	if err := validate(transform); err != nil {
		return nil, err
	}
	if err := checkOrder(items); err != nil {
		return nil, err
	}
	src := Slice[In](items)
	out := make([]Out, 0, len(items))
	for i := range items {
		r, err := transform.Compute(src, Slice[Out](out), i)
		if err != nil {
			return nil, fmt.Errorf("%s at index %d: %w", transform.Name(), i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// BatchPairs is Batch for dual-input transforms. Both series must have the
// same length and the same timestamp at every position.
func BatchPairs[A Series, B Series, Out Series](a []A, b []B, transform PairTransform[A, B, Out]) ([]Out, error) {
	if err := validate(transform); err != nil {
		return nil, err
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: series lengths differ (%d vs %d)", ErrParameter, len(a), len(b))
	}
	if err := checkOrder(a); err != nil {
		return nil, err
	}
	for i := range a {
		if !a[i].Timestamp().Equal(b[i].Timestamp()) {
			return nil, fmt.Errorf("%w: %s index %d stamped %s and %s",
				ErrSequence, transform.Name(), i, a[i].Timestamp(), b[i].Timestamp())
		}
	}

	sa, sb := Slice[A](a), Slice[B](b)
	out := make([]Out, 0, len(a))
	for i := range a {
		r, err := transform.Compute(sa, sb, Slice[Out](out), i)
		if err != nil {
			return nil, fmt.Errorf("%s at index %d: %w", transform.Name(), i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func checkOrder[T Series](items []T) error {
	for i := range items {
		if items[i].Timestamp().IsZero() {
			return fmt.Errorf("%w: record %d has no timestamp", ErrSequence, i)
		}
		if i > 0 && !items[i].Timestamp().After(items[i-1].Timestamp()) {
			return fmt.Errorf("%w: record %d at %s is not after %s",
				ErrSequence, i, items[i].Timestamp(), items[i-1].Timestamp())
		}
	}
	return nil
}
