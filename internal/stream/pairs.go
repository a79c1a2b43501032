package stream

import (
	"fmt"
	"time"
)

// PairTransform computes one result from two index-aligned inputs.
// When i is beyond the end of b, Compute must return a not-ready result.
type PairTransform[A, B, Out any] interface {
	Name() string
	Lookback() int
	Compute(a View[A], b View[B], out View[Out], i int) (Out, error)
}

// PairsHub is a dual-input node. Events from the primary input drive it
// exactly like a Hub. Events from the secondary input that touch positions
// the primary already holds rebuild from there; later positions wait
// for the primary. Both inputs must carry the same timestamp at every
// shared position.
type PairsHub[A Series, B Series, Out Series] struct {
	emitter[Out]
	primary   Provider[A]
	secondary Provider[B]
	transform PairTransform[A, B, Out]
	cache     Cache[Out]
	side      *pairSide[A, B, Out]
}

type pairSide[A Series, B Series, Out Series] struct {
	hub      *PairsHub[A, B, Out]
	attached bool
}

// NewPairsHub validates transform, backfills from both inputs and
// subscribes to each observable one.
func NewPairsHub[A Series, B Series, Out Series](primary Provider[A], secondary Provider[B], transform PairTransform[A, B, Out]) (*PairsHub[A, B, Out], error) {
	if primary == nil || secondary == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidOperation)
	}
	if err := validate(transform); err != nil {
		return nil, err
	}
	if primary.State() == StateTerminated {
		return nil, fmt.Errorf("%w: provider %s is terminated", ErrInvalidOperation, primary.Name())
	}
	if secondary.State() == StateTerminated {
		return nil, fmt.Errorf("%w: provider %s is terminated", ErrInvalidOperation, secondary.Name())
	}

	props := primary.Properties().inherit()
	if sp := secondary.Properties().inherit(); !sp.Observable {
		props = sp
	}

	h := &PairsHub[A, B, Out]{primary: primary, secondary: secondary, transform: transform}
	h.side = &pairSide[A, B, Out]{hub: h}
	h.init(h, transform.Name(), props, primary.Monitor(), primary, secondary)

	if err := h.replay(0); err != nil {
		return nil, err
	}
	if primary.Properties().Observable {
		if err := primary.Subscribe(h); err != nil {
			return nil, err
		}
	}
	// A hub paired with itself hears every change through the primary.
	if secondary.Properties().Observable && any(secondary) != any(primary) {
		if err := secondary.Subscribe(h.side); err != nil {
			if primary.Properties().Observable {
				_, _ = primary.Unsubscribe(h)
			}
			return nil, err
		}
		h.side.attached = true
	}
	return h, nil
}

// Results returns a read-only view of the derived records.
func (h *PairsHub[A, B, Out]) Results() View[Out] { return &h.cache }

// Items returns a copy of the derived records.
func (h *PairsHub[A, B, Out]) Items() []Out { return h.cache.Items() }

// OnMutation applies a primary-input event.
func (h *PairsHub[A, B, Out]) OnMutation(act Act, _ A, index int) error {
	if err := h.writable("mutate"); err != nil {
		return err
	}
	start := time.Now()

	switch act {
	case Append:
		if index != h.cache.Len() {
			return h.rebuild(min(index, h.cache.Len()), start)
		}
		r, err := h.compute(index)
		if err != nil {
			return err
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

// OnCompleted terminates the hub when its primary input ends.
func (h *PairsHub[A, B, Out]) OnCompleted() {
	h.Detach()
}

func (s *pairSide[A, B, Out]) OnMutation(act Act, _ B, index int) error {
	h := s.hub
	if err := h.writable("mutate"); err != nil {
		return err
	}
	// Positions past the primary wait for it. A failed primary replay can
	// leave the cache short of the primary; resume from the shorter end.
	if act == Ignore || index >= h.primary.Results().Len() {
		return nil
	}
	return h.rebuild(min(index, h.cache.Len()), time.Now())
}

func (s *pairSide[A, B, Out]) OnCompleted() {
	s.attached = false
	s.hub.Detach()
}

// Detach unsubscribes from both inputs and terminates the hub and every
// node fed by it. It reports whether the hub was attached to its primary.
func (h *PairsHub[A, B, Out]) Detach() bool {
	if h.state == StateTerminated {
		return false
	}
	removed := false
	if h.primary.State() == StateActive {
		removed, _ = h.primary.Unsubscribe(h)
	}
	if h.side.attached && h.secondary.State() == StateActive {
		_, _ = h.secondary.Unsubscribe(h.side)
	}
	h.side.attached = false
	h.complete()
	return removed
}

// EndTransmission is Detach without the report.
func (h *PairsHub[A, B, Out]) EndTransmission() {
	h.Detach()
}

func (h *PairsHub[A, B, Out]) compute(i int) (Out, error) {
	a, b := h.primary.Results(), h.secondary.Results()
	if i < b.Len() {
		ta, tb := a.At(i).Timestamp(), b.At(i).Timestamp()
		if !ta.Equal(tb) {
			var zero Out
			return zero, fmt.Errorf("%w: %s index %d: %s is at %s but %s is at %s",
				ErrSequence, h.name, i,
				h.primary.Name(), ta.Format(time.RFC3339Nano),
				h.secondary.Name(), tb.Format(time.RFC3339Nano))
		}
	}
	r, err := h.transform.Compute(a, b, &h.cache, i)
	if err != nil {
		return r, fmt.Errorf("%s at index %d: %w", h.name, i, err)
	}
	return r, nil
}

func (h *PairsHub[A, B, Out]) rebuild(m int, start time.Time) error {
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

func (h *PairsHub[A, B, Out]) replay(from int) error {
	h.cache.truncate(from)
	for i := h.cache.Len(); i < h.primary.Results().Len(); i++ {
		r, err := h.compute(i)
		if err != nil {
			return err
		}
		h.cache.append(r)
	}
	return nil
}
