package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"verifyflow/pkg/platform/sentinel"
)

// InMemoryLedger keeps consumed tokens in process memory. Entries are purged
// lazily on access and by Purge.
type InMemoryLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
	clock   Clock
}

type InMemoryOption func(*InMemoryLedger)

// WithClock sets the clock function for testability.
func WithClock(clock Clock) InMemoryOption {
	return func(l *InMemoryLedger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

func NewInMemory(opts ...InMemoryOption) *InMemoryLedger {
	l := &InMemoryLedger{
		entries: make(map[string]time.Time),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MarkConsumed records the token for ttl. Marking a token that is already
// consumed returns sentinel.ErrAlreadyUsed.
func (l *InMemoryLedger) MarkConsumed(_ context.Context, token string, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	key := tokenKey(token)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, ok := l.entries[key]; ok && now.Before(exp) {
		return fmt.Errorf("mark token consumed: %w", sentinel.ErrAlreadyUsed)
	}
	l.entries[key] = now.Add(ttl)
	return nil
}

func (l *InMemoryLedger) IsConsumed(_ context.Context, token string) (bool, error) {
	key := tokenKey(token)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.entries[key]
	if !ok {
		return false, nil
	}
	if !now.Before(exp) {
		delete(l.entries, key)
		return false, nil
	}
	return true, nil
}

// Purge drops expired entries and returns how many were removed.
func (l *InMemoryLedger) Purge() int {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, exp := range l.entries {
		if !now.Before(exp) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}
