package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"verifyflow/pkg/platform/httputil"
)

// Rule is one throttle: at most Limit requests per Window for each key.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
	// Key derives the bucket from the request. An empty key skips the check.
	Key func(r *http.Request) string
	// Counts decides from the response status whether the request used a
	// slot. Nil counts every request that was let through.
	Counts func(status int) bool
}

// Enabled reports whether the rule limits anything.
func (r Rule) Enabled() bool {
	return r.Limit > 0 && r.Window > 0 && r.Key != nil
}

type Middleware struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Middleware {
	return &Middleware{store: store, logger: logger}
}

func (r Rule) counts(status int) bool {
	return r.Counts == nil || r.Counts(status)
}

// Limit returns middleware enforcing rule. The window is checked before the
// request and the request is recorded after it, so a rule with Counts only
// spends slots on the responses it selects. Store failures let the request
// through.
func (m *Middleware) Limit(rule Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !rule.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rule.Key(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			bucket := rule.Name + ":" + key
			result, err := m.store.Check(ctx, bucket, rule.Limit, rule.Window)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit", "rule", rule.Name, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			addHeaders(w, result)
			if !result.Allowed {
				m.logger.WarnContext(ctx, "rate limit exceeded", "rule", rule.Name, "retry_after", result.RetryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, &ExceededResponse{
					Error:      "rate_limit_exceeded",
					Message:    "Too many attempts. Please try again later.",
					RetryAfter: result.RetryAfter,
				})
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if !rule.counts(status) {
				return
			}
			if err := m.store.Record(ctx, bucket, rule.Window); err != nil {
				m.logger.ErrorContext(ctx, "failed to record rate limit hit", "rule", rule.Name, "error", err)
			}
		})
	}
}

// Succeeded counts 2xx responses only.
func Succeeded(status int) bool {
	return status >= 200 && status < 300
}

func addHeaders(w http.ResponseWriter, result *Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
