package stream

import (
	"fmt"
	"sort"
	"time"
)

// Cache is an ordered list of records with strictly increasing timestamps.
// Only the owning node mutates it; everything else reads through View.
// The zero value is an empty cache.
type Cache[T Series] struct {
	items []T
}

// Len returns the number of cached records.
func (c *Cache[T]) Len() int { return len(c.items) }

// At returns the record at position i.
func (c *Cache[T]) At(i int) T { return c.items[i] }

// Last returns the newest record.
func (c *Cache[T]) Last() (T, bool) {
	if len(c.items) == 0 {
		var zero T
		return zero, false
	}
	return c.items[len(c.items)-1], true
}

// Items returns a copy of the cached records.
func (c *Cache[T]) Items() []T {
	return append([]T(nil), c.items...)
}

// IndexOf returns the position of the record stamped ts, or -1.
func (c *Cache[T]) IndexOf(ts time.Time) int {
	i := c.IndexGTE(ts)
	if i < len(c.items) && c.items[i].Timestamp().Equal(ts) {
		return i
	}
	return -1
}

// IndexGTE returns the first position whose timestamp is at or after ts,
// or Len() when every record is older.
func (c *Cache[T]) IndexGTE(ts time.Time) int {
	return sort.Search(len(c.items), func(i int) bool {
		return !c.items[i].Timestamp().Before(ts)
	})
}

// Resolve classifies item against the cache without changing it.
//
// hint is an optional guess of item's position; pass -1 when unknown. A
// wrong hint only costs a binary search. The returned index is the new tail
// slot for Append, the matching slot for Ignore and the rebuild marker for
// Rebuild (the replaced slot, or the insertion point of a late record).
func (c *Cache[T]) Resolve(item T, hint int) (Act, int, error) {
	ts := item.Timestamp()
	if ts.IsZero() {
		return Ignore, -1, fmt.Errorf("%w: record has no timestamp", ErrSequence)
	}

	n := len(c.items)
	if n == 0 || ts.After(c.items[n-1].Timestamp()) {
		return Append, n, nil
	}

	i := hint
	if i < 0 || i >= n || !c.items[i].Timestamp().Equal(ts) {
		i = c.IndexGTE(ts)
	}

	if i < n && c.items[i].Timestamp().Equal(ts) && same(c.items[i], item) {
		return Ignore, i, nil
	}
	return Rebuild, i, nil
}

// apply commits a resolved record. Rebuild replaces the slot when the
// timestamp matches and inserts otherwise.
func (c *Cache[T]) apply(act Act, i int, item T) {
	switch act {
	case Append:
		c.items = append(c.items, item)
	case Rebuild:
		if i < len(c.items) && c.items[i].Timestamp().Equal(item.Timestamp()) {
			c.items[i] = item
			return
		}
		c.insert(i, item)
	}
}

func (c *Cache[T]) append(item T) {
	c.items = append(c.items, item)
}

func (c *Cache[T]) insert(i int, item T) {
	var zero T
	c.items = append(c.items, zero)
	copy(c.items[i+1:], c.items[i:])
	c.items[i] = item
}

func (c *Cache[T]) removeAt(i int) {
	copy(c.items[i:], c.items[i+1:])
	var zero T
	c.items[len(c.items)-1] = zero
	c.items = c.items[:len(c.items)-1]
}

// truncate drops every record from position i onward.
func (c *Cache[T]) truncate(i int) {
	if i < 0 {
		i = 0
	}
	if i >= len(c.items) {
		return
	}
	var zero T
	for j := i; j < len(c.items); j++ {
		c.items[j] = zero
	}
	c.items = c.items[:i]
}
