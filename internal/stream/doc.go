// Package stream implements a synchronous, mutation-aware computation graph
// for time series.
//
// A root QuoteHub owns the ordered input records. Hubs subscribe to a
// provider, run a Transform over its cache and keep their own cache of
// derived results, which other hubs may in turn consume. Every mutation on
// the root (append, late insert, replacement, removal) is classified as
// Append, Ignore or Rebuild and the whole cascade runs to completion before
// the mutating call returns. After any sequence of mutations every hub's
// cache equals what Batch would compute over the root's current records.
//
// Nothing in this package is safe for concurrent mutation. Callers that
// feed a graph from several goroutines serialize access themselves.
package stream
