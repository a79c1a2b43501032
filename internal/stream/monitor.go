package stream

import "time"

// Monitor receives node activity. Calls run inline on the mutation path.
type Monitor interface {
	// Mutation is called once per event a node emits.
	Mutation(node string, act Act)
	// Cascade reports how long a node took to apply an event, including
	// every downstream listener.
	Cascade(node string, act Act, d time.Duration)
	// CacheSize reports a node's cache length after an event.
	CacheSize(node string, n int)
	// Terminated is called once when a node stops accepting mutations.
	Terminated(node string)
}

type nopMonitor struct{}

func (nopMonitor) Mutation(string, Act)               {}
func (nopMonitor) Cascade(string, Act, time.Duration) {}
func (nopMonitor) CacheSize(string, int)              {}
func (nopMonitor) Terminated(string)                  {}
