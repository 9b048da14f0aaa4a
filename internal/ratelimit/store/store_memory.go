package store

import (
	"context"
	"math"
	"sync"
	"time"

	"verifyflow/internal/ratelimit"
)

// InMemory implements ratelimit.Store with an in-process sliding window.
// Not shared between replicas; use Redis for that.
type InMemory struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
	now     func() time.Time
}

type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

type InMemoryOption func(*InMemory)

func WithClock(now func() time.Time) InMemoryOption {
	return func(s *InMemory) {
		s.now = now
	}
}

func NewInMemory(opts ...InMemoryOption) *InMemory {
	s := &InMemory{
		windows: make(map[string]*slidingWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check reports whether one more request for key fits in the window.
func (s *InMemory) Check(_ context.Context, key string, limit int, window time.Duration) (*ratelimit.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sw := s.windows[key]
	if sw != nil {
		sw.cleanup(now)
	}
	n := 0
	resetAt := now.Add(window)
	if sw != nil && len(sw.timestamps) > 0 {
		n = len(sw.timestamps)
		resetAt = sw.timestamps[0].Add(window)
	}

	if n < limit {
		return &ratelimit.Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - n - 1,
			ResetAt:   resetAt,
		}, nil
	}
	return &ratelimit.Result{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter(now, resetAt),
	}, nil
}

// Record counts one request for key.
func (s *InMemory) Record(_ context.Context, key string, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sw := s.getOrCreate(key, window)
	sw.cleanup(now)
	sw.timestamps = append(sw.timestamps, now)
	return nil
}

// Reset clears the counter for key.
func (s *InMemory) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// Count returns the requests currently counted for key.
func (s *InMemory) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw := s.windows[key]
	if sw == nil {
		return 0
	}
	sw.cleanup(s.now())
	return len(sw.timestamps)
}

func (sw *slidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

// getOrCreate must be called with s.mu held.
func (s *InMemory) getOrCreate(key string, window time.Duration) *slidingWindow {
	if sw := s.windows[key]; sw != nil {
		return sw
	}
	sw := &slidingWindow{window: window}
	s.windows[key] = sw
	return sw
}

func retryAfter(now, resetAt time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
