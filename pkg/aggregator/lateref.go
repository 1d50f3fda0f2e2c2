package aggregator

import "sync"

// Ref is a late-bound, set-once reference to the Aggregator. It breaks
// a cyclic collaborator graph: the provider registry's spawn factories
// need a way to call back into the aggregator (to
// deliver an async peer notification), but the registry is constructed
// before the aggregator that owns it exists. A factory closure registered
// with the registry can capture a Ref; the caller wires the aggregator
// in with Set once it's constructed, and any Handle built before that
// point observes it under Get's one-time barrier. cmd/nsid registers the
// provider constructors directly and does not use a Ref.
type Ref struct {
	once  sync.Once
	ready chan struct{}
	agg   *Aggregator
}

// NewRef creates an unset Ref.
func NewRef() *Ref {
	return &Ref{ready: make(chan struct{})}
}

// Set binds the aggregator. Only the first call has effect; later calls
// are no-ops, matching a one-time barrier rather than a mutable slot.
func (r *Ref) Set(a *Aggregator) {
	r.once.Do(func() {
		r.agg = a
		close(r.ready)
	})
}

// Get blocks until Set has been called, then returns the aggregator.
// Safe to call before Set from another goroutine; not safe to call from
// the same goroutine that will eventually call Set (it would deadlock).
func (r *Ref) Get() *Aggregator {
	<-r.ready
	return r.agg
}
