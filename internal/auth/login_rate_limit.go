package auth

import (
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"vlog-serverless/internal/observability"
)

// LoginRateLimiter throttles login attempts per client IP. State lives in the
// database rather than process memory so it survives serverless cold starts.
type LoginRateLimiter struct {
	store   *PostgresStore
	maxHits int
	window  time.Duration
}

func NewLoginRateLimiter(store *PostgresStore, maxHits int, window time.Duration) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		store:   store,
		maxHits: maxHits,
		window:  window,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r)
		now := time.Now().UTC()

		allowed, retryAfter, err := l.store.AllowLoginIP(r.Context(), ip, l.maxHits, l.window, now)
		if err != nil {
			// Fail open: a broken limiter should not lock everyone out.
			sentry.CaptureException(err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}
