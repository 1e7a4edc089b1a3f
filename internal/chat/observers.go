package chat

import "sync"

// observers fans snapshots out to registered callbacks. Deliveries are
// serialized so callbacks see snapshots in order. Callbacks must not call
// back into the controller that owns the set.
type observers[T any] struct {
	deliver sync.Mutex
	mu      sync.Mutex
	next    int
	fns     map[int]func(T)
}

func (o *observers[T]) add(fn func(T)) (remove func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = map[int]func(T){}
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

// publish takes the snapshot and delivers it while holding the delivery
// lock, so a later publish cannot overtake an earlier one.
func (o *observers[T]) publish(snapshot func() T) {
	o.deliver.Lock()
	defer o.deliver.Unlock()

	s := snapshot()
	o.mu.Lock()
	fns := make([]func(T), 0, len(o.fns))
	for i := 0; i < o.next; i++ {
		if fn, ok := o.fns[i]; ok {
			fns = append(fns, fn)
		}
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
