package stream

import (
	"fmt"
	"time"
)

// Transform computes one derived record per input record.
//
// Compute returns the result for input position i. in holds every input
// up to at least i; out holds every result before i. Implementations keep
// no state between calls: running values (averages, smoothing
// accumulators) are read back from out, which is what lets a hub truncate
// its cache and replay without drifting from the batch computation.
type Transform[In, Out any] interface {
	// Name is the node label, such as "SMA(20)".
	Name() string
	// Lookback is how many positions before i Compute may read.
	Lookback() int
	Compute(in View[In], out View[Out], i int) (Out, error)
}

// Validator is implemented by transforms that check their own parameters.
// Hubs and lists call it before any work.
type Validator interface {
	Validate() error
}

func validate(t any) error {
	if t == nil {
		return fmt.Errorf("%w: nil transform", ErrParameter)
	}
	if v, ok := t.(Validator); ok {
		return v.Validate()
	}
	return nil
}

// Hub is a stream node that derives one result per record of its
// provider. It is an Observer of its provider and a Provider of results.
type Hub[In Series, Out Series] struct {
	emitter[Out]
	provider  Provider[In]
	transform Transform[In, Out]
	cache     Cache[Out]
	attached  bool
}

// NewHub validates transform, backfills from the provider's current
// records and subscribes to it. Backfill completes before NewHub returns.
// Hubs built on an unobservable provider backfill but do not subscribe.
func NewHub[In Series, Out Series](provider Provider[In], transform Transform[In, Out]) (*Hub[In, Out], error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidOperation)
	}
	if err := validate(transform); err != nil {
		return nil, err
	}
	if provider.State() == StateTerminated {
		return nil, fmt.Errorf("%w: provider %s is terminated", ErrInvalidOperation, provider.Name())
	}

	h := &Hub[In, Out]{provider: provider, transform: transform}
	h.init(h, transform.Name(), provider.Properties().inherit(), provider.Monitor(), provider)

	if err := h.replay(0); err != nil {
		return nil, err
	}
	if provider.Properties().Observable {
		if err := provider.Subscribe(h); err != nil {
			return nil, err
		}
		h.attached = true
	}
	return h, nil
}

// Results returns a read-only view of the derived records.
func (h *Hub[In, Out]) Results() View[Out] { return &h.cache }

// Items returns a copy of the derived records.
func (h *Hub[In, Out]) Items() []Out { return h.cache.Items() }

// Provider returns the upstream node.
func (h *Hub[In, Out]) Provider() Provider[In] { return h.provider }

// OnMutation applies a provider event and re-emits the hub's own event.
func (h *Hub[In, Out]) OnMutation(act Act, _ In, index int) error {
	if err := h.writable("mutate"); err != nil {
		return err
	}
	start := time.Now()

	switch act {
	case Append:
		if index != h.cache.Len() {
			// Out of step with the provider; recompute the gap.
			return h.rebuild(min(index, h.cache.Len()), start)
		}
		r, err := h.transform.Compute(h.provider.Results(), &h.cache, index)
		if err != nil {
			return fmt.Errorf("%s at index %d: %w", h.name, index, err)
		}
		h.cache.append(r)
		return h.notify(Append, r, index, h.cache.Len(), start)

	case Ignore:
		var r Out
		if index >= 0 && index < h.cache.Len() {
			r = h.cache.At(index)
		}
		return h.notify(Ignore, r, index, h.cache.Len(), start)

	case Rebuild:
		return h.rebuild(index, start)
	}
	return fmt.Errorf("%w: unknown act %d", ErrInvalidOperation, act)
}

// OnCompleted terminates the hub when its provider ends.
func (h *Hub[In, Out]) OnCompleted() {
	h.attached = false
	h.complete()
}

// Rebuild recomputes every result at or after from.
func (h *Hub[In, Out]) Rebuild(from time.Time) error {
	if err := h.writable("rebuild"); err != nil {
		return err
	}
	return h.rebuild(h.cache.IndexGTE(from), time.Now())
}

// Detach unsubscribes from the provider and terminates the hub and every
// node fed by it. It reports whether the hub was attached.
func (h *Hub[In, Out]) Detach() bool {
	if h.state == StateTerminated {
		return false
	}
	removed := false
	if h.attached {
		removed, _ = h.provider.Unsubscribe(h)
		h.attached = false
	}
	h.complete()
	return removed
}

// EndTransmission is Detach without the report.
func (h *Hub[In, Out]) EndTransmission() {
	h.Detach()
}

func (h *Hub[In, Out]) rebuild(m int, start time.Time) error {
	m = max(0, min(m, h.cache.Len()))
	if err := h.replay(m); err != nil {
		return err
	}
	var r Out
	if m < h.cache.Len() {
		r = h.cache.At(m)
	}
	return h.notify(Rebuild, r, m, h.cache.Len(), start)
}

// replay truncates the cache at from and recomputes to the provider's end.
func (h *Hub[In, Out]) replay(from int) error {
	src := h.provider.Results()
	h.cache.truncate(from)
	for i := h.cache.Len(); i < src.Len(); i++ {
		r, err := h.transform.Compute(src, &h.cache, i)
		if err != nil {
			return fmt.Errorf("%s at index %d: %w", h.name, i, err)
		}
		h.cache.append(r)
	}
	return nil
}
