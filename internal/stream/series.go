package stream

import (
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Series is a record with a unique, totally ordered timestamp.
//
// A record type may implement Equal(T) bool; otherwise duplicate detection
// compares every field, unexported ones included, with NaN equal to NaN.
type Series interface {
	Timestamp() time.Time
}

// Reusable is the chaining contract: one scalar per timestamp. Value returns
// NaN while the producer does not have enough history yet.
type Reusable interface {
	Series
	Value() float64
}

// View is read-only positional access to an ordered series.
type View[T any] interface {
	Len() int
	At(i int) T
}

// Slice adapts a plain slice to View.
type Slice[T any] []T

func (s Slice[T]) Len() int   { return len(s) }
func (s Slice[T]) At(i int) T { return s[i] }

// Collect copies a view into a new slice.
func Collect[T any](v View[T]) []T {
	out := make([]T, v.Len())
	for i := range out {
		out[i] = v.At(i)
	}
	return out
}

// Pending is the "not yet computable" value.
func Pending() float64 { return math.NaN() }

// IsPending reports whether v is the "not yet computable" value.
func IsPending(v float64) bool { return math.IsNaN(v) }

type equaler[T any] interface {
	Equal(T) bool
}

// sameOpts make a resent pending value an identical record.
var sameOpts = []cmp.Option{
	cmpopts.EquateNaNs(),
	cmp.Exporter(func(reflect.Type) bool { return true }),
}

func same[T any](a, b T) bool {
	if e, ok := any(a).(equaler[T]); ok {
		return e.Equal(b)
	}
	return cmp.Equal(a, b, sameOpts...)
}

// indexGTE returns the first position whose timestamp is not before ts.
func indexGTE[T Series](v View[T], ts time.Time) int {
	return sort.Search(v.Len(), func(i int) bool {
		return !v.At(i).Timestamp().Before(ts)
	})
}

// appended is v with one extra trailing value, used to evaluate a
// transform before committing its input.
type appended[T any] struct {
	base View[T]
	tail T
}

func (a appended[T]) Len() int { return a.base.Len() + 1 }

func (a appended[T]) At(i int) T {
	if i == a.base.Len() {
		return a.tail
	}
	return a.base.At(i)
}
