package memory

import (
	"context"
	"sync"

	audit "verifyflow/pkg/platform/audit"
)

// DefaultCapacity is the number of events kept when no capacity is given.
const DefaultCapacity = 10_000

// InMemoryStore keeps the most recent audit events in a fixed-size ring; once
// full, each append evicts the oldest event. Single-process only.
type InMemoryStore struct {
	mu    sync.RWMutex
	ring  []audit.Event
	start int
	size  int
}

type Option func(*InMemoryStore)

// WithCapacity bounds the number of retained events. Values below 1 keep the
// default.
func WithCapacity(n int) Option {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.ring = make([]audit.Event, n)
		}
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{ring: make([]audit.Event, DefaultCapacity)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	capacity := len(s.ring)
	if s.size < capacity {
		s.ring[(s.start+s.size)%capacity] = event
		s.size++
		return nil
	}
	s.ring[s.start] = event
	s.start = (s.start + 1) % capacity
	return nil
}

func (s *InMemoryStore) ListBySession(_ context.Context, sessionID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []audit.Event{}
	s.each(func(e audit.Event) {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	})
	return out, nil
}

// ListAll returns every retained event, oldest first.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]audit.Event, 0, s.size)
	s.each(func(e audit.Event) { all = append(all, e) })
	return all, nil
}

// Len returns the number of retained events.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Clear drops all events.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ring)
	s.start, s.size = 0, 0
}

// each must be called with s.mu held.
func (s *InMemoryStore) each(fn func(audit.Event)) {
	for i := range s.size {
		fn(s.ring[(s.start+i)%len(s.ring)])
	}
}
