// Package events provides a small synchronous publish/subscribe hub.
package events

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// FaultHandler is called when a listener panics during an announcement.
type FaultHandler[K comparable] func(category K, err error)

// Option configures a Hub created with New.
type Option[K comparable] func(*options[K])

type options[K comparable] struct {
	logger  *zap.Logger
	onFault FaultHandler[K]
}

// WithLogger sets the logger used to report listener faults.
func WithLogger[K comparable](l *zap.Logger) Option[K] {
	return func(o *options[K]) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFaultHandler registers a callback for recovered listener panics.
func WithFaultHandler[K comparable](fn FaultHandler[K]) Option[K] {
	return func(o *options[K]) {
		o.onFault = fn
	}
}

type listener[P any] struct {
	id uint64
	fn func(P)
}

// Hub fans announcements out to the listeners registered for a category.
// Listeners run inline, in registration order, on the announcing goroutine.
type Hub[K comparable, P any] struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[K][]listener[P]
	opts      options[K]
}

// New creates an empty hub.
func New[K comparable, P any](opts ...Option[K]) *Hub[K, P] {
	o := options[K]{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Hub[K, P]{
		listeners: make(map[K][]listener[P]),
		opts:      o,
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	once   sync.Once
	remove func()
}

// Unsubscribe removes the registration. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.remove)
}

// Subscribe registers fn for category. The same function may be registered
// more than once and is then invoked once per registration.
func (h *Hub[K, P]) Subscribe(category K, fn func(P)) *Subscription {
	if fn == nil {
		panic("events: Subscribe called with nil listener")
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.listeners[category] = append(h.listeners[category], listener[P]{id: id, fn: fn})
	h.mu.Unlock()

	return &Subscription{remove: func() { h.remove(category, id) }}
}

func (h *Hub[K, P]) remove(category K, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current := h.listeners[category]
	for i, l := range current {
		if l.id != id {
			continue
		}
		// Copy so snapshots held by in-flight announcements stay intact.
		next := make([]listener[P], 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(h.listeners, category)
		} else {
			h.listeners[category] = next
		}
		return
	}
}

// Listeners reports how many registrations exist for category.
func (h *Hub[K, P]) Listeners(category K) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[category])
}

// Announce invokes every listener registered for category with payload and
// returns how many were invoked. A panicking listener does not prevent the
// remaining listeners from running.
func (h *Hub[K, P]) Announce(category K, payload P) int {
	h.mu.RLock()
	snapshot := h.listeners[category]
	h.mu.RUnlock()

	for _, l := range snapshot {
		h.invoke(category, l.fn, payload)
	}
	return len(snapshot)
}

func (h *Hub[K, P]) invoke(category K, fn func(P), payload P) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("%v", r)
		}
		err = fmt.Errorf("listener panic: %w", err)
		h.opts.logger.Error("listener failed",
			zap.String("category", fmt.Sprint(category)),
			zap.Error(err),
		)
		if h.opts.onFault != nil {
			h.opts.onFault(category, err)
		}
	}()
	fn(payload)
}
