// Package ringbuf provides a fixed-capacity ring that keeps the most recent
// values and evicts the oldest on overflow. It is not safe for concurrent
// use; callers serialize access.
package ringbuf

// Ring holds at most Cap() values of T. Capacity is rounded up to a power
// of two so the physical slot is a bitwise mask, but Push only evicts once
// the requested capacity is exceeded.
type Ring[T any] struct {
	buf   []T
	mask  uint64
	limit int

	head uint64 // total values ever pushed
	tail uint64 // total values evicted
}

// New creates a ring retaining up to capacity values. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	size := nextPow2(capacity)
	return &Ring[T]{
		buf:   make([]T, size),
		mask:  uint64(size - 1),
		limit: capacity,
	}
}

// Push appends v. When the ring is full the oldest value is evicted and
// returned with ok=true.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if int(r.head-r.tail) == r.limit {
		evicted = r.buf[r.tail&r.mask]
		var zero T
		r.buf[r.tail&r.mask] = zero
		r.tail++
		ok = true
	}
	r.buf[r.head&r.mask] = v
	r.head++
	return evicted, ok
}

// At returns the i-th retained value, 0 being the oldest.
// It panics when i is out of range, like a slice index.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.Len() {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.tail+uint64(i))&r.mask]
}

// Last returns the newest value.
func (r *Ring[T]) Last() (T, bool) {
	if r.head == r.tail {
		var zero T
		return zero, false
	}
	return r.buf[(r.head-1)&r.mask], true
}

// Len returns the number of retained values.
func (r *Ring[T]) Len() int {
	return int(r.head - r.tail)
}

// Cap returns the retention limit.
func (r *Ring[T]) Cap() int {
	return r.limit
}

// Evicted returns how many values have been pushed out since the last Reset.
func (r *Ring[T]) Evicted() int {
	return int(r.tail)
}

// Items copies the retained values, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.Len())
	for i := range out {
		out[i] = r.At(i)
	}
	return out
}

// Reset drops every value and the eviction count.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.tail = 0, 0
}

// nextPow2 returns the smallest power of two >= n.
func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
