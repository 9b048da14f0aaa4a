// Package ratelimit throttles verification submissions with sliding windows:
// phone submissions per client IP, since each one sends an SMS, and code
// submissions per session.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one check against a window. Remaining counts the
// slots left once the checked request is recorded.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// Store counts requests per key in a sliding window. Check does not count the
// request; Record does, once the caller knows it should.
type Store interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
	Record(ctx context.Context, key string, window time.Duration) error
	Reset(ctx context.Context, key string) error
}

// ExceededResponse is the 429 body.
type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}
