package registry

import (
	"sync"
)

// Subscriber is one connected viewer.
// Implementations must be safe for concurrent use.
type Subscriber interface {
	ID() string
	// Send queues text for delivery without waiting for it to reach the
	// viewer. A non-nil error means the subscriber can no longer be served.
	Send(text string) error
	Closed() bool
	// Close is idempotent.
	Close() error
}

// Registry holds the set of connected subscribers. It is the only writer
// of that set; iteration works on a snapshot, so Remove may be called from
// inside ForEach.
type Registry struct {
	mu    sync.Mutex
	subs  map[string]Subscriber
	order []string
}

func New() *Registry {
	return &Registry{subs: make(map[string]Subscriber)}
}

// Add registers s. A subscriber already registered under the same id is
// replaced and closed.
func (r *Registry) Add(s Subscriber) {
	r.mu.Lock()
	prev, ok := r.subs[s.ID()]
	r.subs[s.ID()] = s
	if !ok {
		r.order = append(r.order, s.ID())
	}
	r.mu.Unlock()

	if ok && prev != s {
		_ = prev.Close()
	}
}

// Remove unregisters and closes the subscriber with id. It reports whether
// the subscriber was registered.
func (r *Registry) Remove(id string) bool {
	return r.remove(id, nil)
}

// Evict removes s only if it is still the entry registered under its id, so
// a stale reference never evicts a newer subscriber that reused the id.
func (r *Registry) Evict(s Subscriber) bool {
	return r.remove(s.ID(), s)
}

func (r *Registry) remove(id string, want Subscriber) bool {
	r.mu.Lock()
	s, ok := r.subs[id]
	if ok && want != nil && s != want {
		ok = false
	}
	if ok {
		delete(r.subs, id)
		for i, v := range r.order {
			if v == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if ok {
		_ = s.Close()
	}
	return ok
}

func (r *Registry) Get(id string) (Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// ForEach calls f for every open subscriber in registration order.
// Subscribers found closed are removed instead of visited. f runs without
// the registry lock held.
func (r *Registry) ForEach(f func(Subscriber)) {
	for _, s := range r.snapshot() {
		if s.Closed() {
			r.Evict(s)
			continue
		}
		f(s)
	}
}

// CloseAll removes and closes every subscriber.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]Subscriber)
	r.order = nil
	r.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
}

func (r *Registry) snapshot() []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Subscriber, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.subs[id])
	}
	return out
}
