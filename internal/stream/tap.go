package stream

// Tap is a leaf observer that hands every event to a callback. It is how
// results leave a graph (publishers, websocket fan-out, tests).
type Tap[T any] struct {
	OnEvent func(act Act, item T, index int) error
	OnDone  func()
}

func (t *Tap[T]) OnMutation(act Act, item T, index int) error {
	if t.OnEvent == nil {
		return nil
	}
	return t.OnEvent(act, item, index)
}

func (t *Tap[T]) OnCompleted() {
	if t.OnDone != nil {
		t.OnDone()
	}
}
