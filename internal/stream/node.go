package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// State is a node's lifecycle state. Terminated is absorbing.
type State int

const (
	StateActive State = iota
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Properties are the capability flags of a node.
type Properties struct {
	// Observable nodes accept subscribers. A placeholder root is not
	// observable: nodes built on it backfill from its cache but never
	// receive events from it.
	Observable bool

	// PropagateRestriction makes nodes built on an unobservable node
	// unobservable as well.
	PropagateRestriction bool
}

// DefaultProperties are the properties of an ordinary node.
func DefaultProperties() Properties {
	return Properties{Observable: true}
}

// inherit returns the properties of a node built on p.
func (p Properties) inherit() Properties {
	if !p.Observable && p.PropagateRestriction {
		return p
	}
	return DefaultProperties()
}

// Node is the graph-level identity of a hub.
type Node interface {
	Name() string
	Upstreams() []Node
}

// Observer receives a provider's mutation events. For Rebuild, item is the
// provider's record at index, or the zero value when the provider's cache
// now ends before index.
type Observer[T any] interface {
	OnMutation(act Act, item T, index int) error
	OnCompleted()
}

// Provider is a node whose cache other nodes can consume.
type Provider[T Series] interface {
	Node
	Results() View[T]
	Subscribe(o Observer[T]) error
	Unsubscribe(o Observer[T]) (bool, error)
	Properties() Properties
	State() State
	Monitor() Monitor
}

// emitter carries the registry, lifecycle and identity shared by all nodes.
type emitter[T Series] struct {
	self      Node
	name      string
	props     Properties
	state     State
	monitor   Monitor
	upstreams []Node
	observers []Observer[T]
}

func (e *emitter[T]) init(self Node, name string, props Properties, m Monitor, upstreams ...Node) {
	if m == nil {
		m = nopMonitor{}
	}
	e.self = self
	e.name = name
	e.props = props
	e.monitor = m
	e.upstreams = upstreams
}

// Name returns the node's label, such as "SMA(20)".
func (e *emitter[T]) Name() string { return e.name }

// Upstreams returns the nodes this node reads from.
func (e *emitter[T]) Upstreams() []Node { return e.upstreams }

// Properties returns the node's capability flags.
func (e *emitter[T]) Properties() Properties { return e.props }

// State returns the lifecycle state.
func (e *emitter[T]) State() State { return e.state }

// Monitor returns the monitor that nodes built on this one inherit.
func (e *emitter[T]) Monitor() Monitor { return e.monitor }

// Subscribe attaches o. Attaching an observer twice is a no-op.
func (e *emitter[T]) Subscribe(o Observer[T]) error {
	if o == nil {
		return fmt.Errorf("%w: nil observer", ErrInvalidOperation)
	}
	if err := e.writable("subscribe to"); err != nil {
		return err
	}
	if !e.props.Observable {
		return fmt.Errorf("%w: %s cannot be observed", ErrInvalidOperation, e.name)
	}
	if n, ok := o.(Node); ok && (n == e.self || isAncestor(n, e.self)) {
		return fmt.Errorf("%w: subscribing %s to %s would create a cycle", ErrInvalidOperation, n.Name(), e.name)
	}
	for _, existing := range e.observers {
		if existing == o {
			return nil
		}
	}
	e.observers = append(e.observers, o)
	return nil
}

// Unsubscribe detaches o and reports whether it was attached.
func (e *emitter[T]) Unsubscribe(o Observer[T]) (bool, error) {
	if err := e.writable("unsubscribe from"); err != nil {
		return false, err
	}
	for i, existing := range e.observers {
		if existing == o {
			e.observers = append(e.observers[:i], e.observers[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Subscribers returns the number of attached observers.
func (e *emitter[T]) Subscribers() int { return len(e.observers) }

func (e *emitter[T]) writable(op string) error {
	if e.state == StateTerminated {
		return fmt.Errorf("%w: cannot %s terminated node %s", ErrInvalidOperation, op, e.name)
	}
	return nil
}

// notify reports the event to the monitor and fans it out in attach order.
// Every observer sees the event even when an earlier one fails.
func (e *emitter[T]) notify(act Act, item T, index, size int, start time.Time) error {
	e.monitor.Mutation(e.name, act)

	var errs []error
	for _, o := range append([]Observer[T](nil), e.observers...) {
		if err := o.OnMutation(act, item, index); err != nil {
			errs = append(errs, err)
		}
	}

	e.monitor.CacheSize(e.name, size)
	e.monitor.Cascade(e.name, act, time.Since(start))
	return errors.Join(errs...)
}

// complete terminates the node and cascades the terminal signal.
func (e *emitter[T]) complete() {
	if e.state == StateTerminated {
		return
	}
	e.state = StateTerminated
	observers := e.observers
	e.observers = nil

	slog.Debug("stream node terminated", "node", e.name, "subscribers", len(observers))
	e.monitor.Terminated(e.name)

	for _, o := range observers {
		o.OnCompleted()
	}
}

// isAncestor reports whether n is reachable by walking up from child.
func isAncestor(n, child Node) bool {
	seen := map[Node]bool{}
	stack := append([]Node(nil), child.Upstreams()...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == nil || seen[cur] {
			continue
		}
		if cur == n {
			return true
		}
		seen[cur] = true
		stack = append(stack, cur.Upstreams()...)
	}
	return false
}
