package syncutil

import "sync"

// Notifier fans values out to subscribers in the order they were queued.
//
// Owners call Enqueue while holding their own lock, so queue order matches
// state-change order, then call Flush after releasing it. Subscribers run
// outside every lock and may call back into the owner.
type Notifier[T any] struct {
	mu       sync.Mutex
	subs     []subscriber[T]
	nextID   uint64
	queue    []T
	draining bool
	closed   bool
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn. Subscribers are called in registration order.
func (n *Notifier[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return func() {}
	}
	id := n.nextID
	n.nextID++
	n.subs = append(n.subs, subscriber[T]{id: id, fn: fn})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s.id == id {
				n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
				return
			}
		}
	}
}

// Enqueue queues v for delivery. It is a no-op with no subscribers.
func (n *Notifier[T]) Enqueue(v T) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || len(n.subs) == 0 {
		return
	}
	n.queue = append(n.queue, v)
}

// Flush delivers queued values. If another goroutine is already delivering,
// Flush returns at once and that goroutine drains the rest.
func (n *Notifier[T]) Flush() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true
	n.mu.Unlock()

	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.draining = false
			n.mu.Unlock()
			return
		}
		v := n.queue[0]
		n.queue = n.queue[1:]
		subs := make([]subscriber[T], len(n.subs))
		copy(subs, n.subs)
		n.mu.Unlock()

		for _, s := range subs {
			s.fn(v)
		}
	}
}

// Publish is Enqueue followed by Flush.
func (n *Notifier[T]) Publish(v T) {
	n.Enqueue(v)
	n.Flush()
}

// Close drops every subscriber and any undelivered values.
func (n *Notifier[T]) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.subs = nil
	n.queue = nil
}

// Len reports the number of subscribers.
func (n *Notifier[T]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
