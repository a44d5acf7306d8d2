package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// watcher serializes reports to fn. stopped is read without mu so fn may
// call stop.
type watcher struct {
	mu        sync.Mutex
	fn        func(*Identity)
	stopped   atomic.Bool
	delivered bool // a change was reported; the initial lookup is stale
}

func (w *watcher) deliver(id *Identity, initial bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped.Load() || (initial && w.delivered) {
		return
	}
	w.delivered = true
	w.fn(id)
}

// Watch reports the identity behind token to fn asynchronously, then reports
// every later change (sign-out reports nil). Resolution failures report nil.
// The returned stop function ends delivery.
func (s *Service) Watch(token string, fn func(*Identity)) (stop func()) {
	token = CleanToken(token)
	hash := HashToken(token)
	w := &watcher{fn: fn}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.watchers[hash] == nil {
		s.watchers[hash] = make(map[uint64]*watcher)
	}
	s.watchers[hash][id] = w
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.resolveTimeout)
		defer cancel()
		ident, err := s.Resolve(ctx, token)
		if err != nil {
			if !errors.Is(err, ErrSessionNotFound) && !errors.Is(err, ErrNoToken) {
				s.logger.Warn("identity resolution failed", "error", err)
			}
			ident = nil
		}
		w.deliver(ident, true)
	}()

	return func() {
		w.stopped.Store(true)

		s.mu.Lock()
		delete(s.watchers[hash], id)
		if len(s.watchers[hash]) == 0 {
			delete(s.watchers, hash)
		}
		s.mu.Unlock()
	}
}

func (s *Service) broadcast(hash string, ident *Identity) {
	s.mu.Lock()
	ws := make([]*watcher, 0, len(s.watchers[hash]))
	for _, w := range s.watchers[hash] {
		ws = append(ws, w)
	}
	s.mu.Unlock()

	for _, w := range ws {
		w.deliver(ident, false)
	}
}
