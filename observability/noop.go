package observability

import "sync"

// NoOpObserver is a no-op implementation of Observer.
// It does nothing when ObserveOperation is called.
// This can be useful for testing or as a default value.
type NoOpObserver struct{}

// ObserveOperation does nothing (no-op).
func (n *NoOpObserver) ObserveOperation(ctx OperationContext) {
	// No-op
}

// NewNoOpObserver creates a new NoOpObserver.
func NewNoOpObserver() Observer {
	return &NoOpObserver{}
}

// Multi fans every event out to several observers, skipping nil ones.
func Multi(observers ...Observer) Observer {
	var out multi
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multi []Observer

func (m multi) ObserveOperation(ctx OperationContext) {
	for _, o := range m {
		o.ObserveOperation(ctx)
	}
}

// Recorder keeps every event it receives. It is safe for concurrent use and
// is mostly useful in tests.
type Recorder struct {
	mu  sync.Mutex
	ops []OperationContext
}

// ObserveOperation records ctx.
func (r *Recorder) ObserveOperation(ctx OperationContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, ctx)
}

// Operations returns a copy of the recorded events.
func (r *Recorder) Operations() []OperationContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OperationContext(nil), r.ops...)
}

// Count returns how many events matched component and operation.
func (r *Recorder) Count(component, operation string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, op := range r.ops {
		if op.Component == component && op.Operation == operation {
			n++
		}
	}
	return n
}

// Reset forgets every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}
