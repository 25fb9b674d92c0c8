package views

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsUpToMax(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(3, time.Minute)
	now := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.Allow("1.2.3.4", "userA", now)
		assert.True(t, allowed, "hit %d", i)
	}

	allowed, retryAfter := limiter.Allow("1.2.3.4", "userA", now)
	assert.False(t, allowed)
	assert.GreaterOrEqual(t, retryAfter, time.Second)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(1, time.Minute)
	now := time.Unix(1700000000, 0)

	allowed, _ := limiter.Allow("1.2.3.4", "userA", now)
	assert.True(t, allowed)

	allowed, _ = limiter.Allow("1.2.3.4", "userA", now)
	assert.False(t, allowed)

	// Same IP, different viewer; same viewer, different IP.
	allowed, _ = limiter.Allow("1.2.3.4", "userB", now)
	assert.True(t, allowed)
	allowed, _ = limiter.Allow("5.6.7.8", "userA", now)
	assert.True(t, allowed)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(1, time.Minute)
	now := time.Unix(1700000000, 0)

	allowed, _ := limiter.Allow("1.2.3.4", "userA", now)
	assert.True(t, allowed)

	allowed, _ = limiter.Allow("1.2.3.4", "userA", now.Add(30*time.Second))
	assert.False(t, allowed)

	allowed, _ = limiter.Allow("1.2.3.4", "userA", now.Add(61*time.Second))
	assert.True(t, allowed)
}
