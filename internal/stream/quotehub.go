package stream

import (
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// maxRepeats is how many identical resends of the newest record a root
// tolerates before it assumes a feedback loop and terminates.
const maxRepeats = 100

// QuoteHub is a root node: it owns the external input records and is the
// only place where records enter a graph.
type QuoteHub[T Series] struct {
	emitter[T]
	cache   Cache[T]
	inert   bool
	repeats int
}

// NewQuoteHub creates an empty, observable root.
func NewQuoteHub[T Series](name string) *QuoteHub[T] {
	q := &QuoteHub[T]{}
	q.init(q, name, DefaultProperties(), nil)
	return q
}

// NewPlaceholder creates an inert root seeded with items. It cannot be
// observed or mutated; hubs built on it backfill from its records and
// never hear from it again. With propagate set, those hubs are
// unobservable too.
func NewPlaceholder[T Series](name string, items []T, propagate bool) (*QuoteHub[T], error) {
	q := &QuoteHub[T]{inert: true}
	q.init(q, name, Properties{Observable: false, PropagateRestriction: propagate}, nil)

	sorted := append([]T(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp().Before(sorted[j].Timestamp())
	})
	for _, item := range sorted {
		act, i, err := q.cache.Resolve(item, q.cache.Len()-1)
		if err != nil {
			return nil, err
		}
		q.cache.apply(act, i, item)
	}
	return q, nil
}

// SetMonitor installs m. Nodes created afterwards on this root inherit it.
func (q *QuoteHub[T]) SetMonitor(m Monitor) {
	if m == nil {
		m = nopMonitor{}
	}
	q.monitor = m
}

// Results returns a read-only view of the records.
func (q *QuoteHub[T]) Results() View[T] { return &q.cache }

// Items returns a copy of the records.
func (q *QuoteHub[T]) Items() []T { return q.cache.Items() }

// Add resolves item against the cache and propagates the outcome. A
// record newer than the tail is appended; an identical resend is ignored;
// a changed or late record rebuilds from its position.
func (q *QuoteHub[T]) Add(item T) error {
	return q.add(item, q.cache.Len()-1)
}

// AddBatch adds items in timestamp order. Equal timestamps keep their
// relative order, so the last one wins.
func (q *QuoteHub[T]) AddBatch(items []T) error {
	sorted := append([]T(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp().Before(sorted[j].Timestamp())
	})
	for _, item := range sorted {
		if err := q.add(item, q.cache.Len()-1); err != nil {
			return err
		}
	}
	return nil
}

// Insert adds a record that is known to arrive out of order. It behaves
// like Add but skips the tail fast path.
func (q *QuoteHub[T]) Insert(item T) error {
	return q.add(item, -1)
}

func (q *QuoteHub[T]) add(item T, hint int) error {
	if err := q.mutable(); err != nil {
		return err
	}
	act, i, err := q.cache.Resolve(item, hint)
	if err != nil {
		return fmt.Errorf("%s: %w", q.name, err)
	}
	start := time.Now()

	if act == Ignore && i == q.cache.Len()-1 {
		q.repeats++
		if q.repeats > maxRepeats {
			slog.Warn("stream root overflow", "node", q.name, "repeats", q.repeats)
			q.complete()
			return fmt.Errorf("%w: %s received %d identical updates", ErrOverflow, q.name, q.repeats)
		}
	} else {
		q.repeats = 0
	}

	q.cache.apply(act, i, item)
	return q.notify(act, item, i, q.cache.Len(), start)
}

// Remove deletes the record stamped like item.
func (q *QuoteHub[T]) Remove(item T) error {
	if err := q.mutable(); err != nil {
		return err
	}
	i := q.cache.IndexOf(item.Timestamp())
	if i < 0 {
		return fmt.Errorf("%w: %s has no record at %s", ErrSequence, q.name, item.Timestamp().Format(time.RFC3339Nano))
	}
	return q.RemoveAt(i)
}

// RemoveAt deletes the record at position i.
func (q *QuoteHub[T]) RemoveAt(i int) error {
	if err := q.mutable(); err != nil {
		return err
	}
	if i < 0 || i >= q.cache.Len() {
		return fmt.Errorf("%w: index %d outside [0,%d)", ErrParameter, i, q.cache.Len())
	}
	start := time.Now()
	removed := q.cache.At(i)
	q.cache.removeAt(i)
	q.repeats = 0
	return q.notify(Rebuild, removed, i, q.cache.Len(), start)
}

// RemoveRange deletes every record at or after from.
func (q *QuoteHub[T]) RemoveRange(from time.Time) error {
	if err := q.mutable(); err != nil {
		return err
	}
	i := q.cache.IndexGTE(from)
	if i == q.cache.Len() {
		return nil
	}
	start := time.Now()
	q.cache.truncate(i)
	q.repeats = 0
	var zero T
	return q.notify(Rebuild, zero, i, q.cache.Len(), start)
}

// Rebuild makes every subscriber recompute from the first record at or
// after from. The root's own records do not change.
func (q *QuoteHub[T]) Rebuild(from time.Time) error {
	if err := q.mutable(); err != nil {
		return err
	}
	start := time.Now()
	i := q.cache.IndexGTE(from)
	var item T
	if i < q.cache.Len() {
		item = q.cache.At(i)
	}
	return q.notify(Rebuild, item, i, q.cache.Len(), start)
}

// EndTransmission terminates the root and every node fed by it. Records
// stay readable.
func (q *QuoteHub[T]) EndTransmission() {
	q.complete()
}

func (q *QuoteHub[T]) mutable() error {
	if q.inert {
		return fmt.Errorf("%w: %s is a placeholder", ErrInvalidOperation, q.name)
	}
	return q.writable("mutate")
}
