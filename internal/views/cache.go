package views

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheUnavailable marks an operational cache failure (connection refused,
// timeout). RecordView absorbs it into the degraded path; it never reaches an
// HTTP response.
var ErrCacheUnavailable = errors.New("view dedup cache unavailable")

// DedupCache is the set-if-absent-with-expiry primitive that suppresses
// duplicate view counts. Acquire must be atomic: two concurrent calls for the
// same key must not both report inserted=true.
type DedupCache interface {
	Acquire(ctx context.Context, contentID, viewerID string) (inserted bool, err error)
}

type RedisDedupCache struct {
	rc      *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

func NewRedisDedupCache(rc *redis.Client, ttl, timeout time.Duration) *RedisDedupCache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	return &RedisDedupCache{rc: rc, ttl: ttl, timeout: timeout}
}

func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second

	return redis.NewClient(opts), nil
}

// Acquire runs a single SETNX with expiry under a bounded timeout. A separate
// exists-then-set pair would race; SETNX decides insert-or-present atomically
// on the server.
func (c *RedisDedupCache) Acquire(ctx context.Context, contentID, viewerID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	inserted, err := c.rc.SetNX(ctx, dedupKey(contentID, viewerID), "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	return inserted, nil
}

func dedupKey(contentID, viewerID string) string {
	return fmt.Sprintf("view:%s:%s", contentID, viewerID)
}
