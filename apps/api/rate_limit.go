package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter decides whether one more event is allowed for key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type limiterBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryRateLimiter keeps one token bucket per key. Buckets refill so that
// limit events are available per window. Idle buckets are dropped by runCleanup.
type MemoryRateLimiter struct {
	limit  rate.Limit
	burst  int
	idleTT time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*limiterBucket
}

func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limit:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idleTT:  rateLimiterIdleTTL,
		now:     time.Now,
		buckets: make(map[string]*limiterBucket),
	}
}

func (m *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	bucket, ok := m.buckets[key]
	if !ok {
		bucket = &limiterBucket{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[key] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1), nil
}

func (m *MemoryRateLimiter) prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, bucket := range m.buckets {
		if now.Sub(bucket.lastSeen) > m.idleTT {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

func (m *MemoryRateLimiter) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// runCleanup prunes idle buckets every interval until ctx is done.
func (m *MemoryRateLimiter) runCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.prune()
		}
	}
}

// RedisRateLimiter counts events in fixed windows shared by every instance.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := r.prefix + ":" + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", redisKey, err)
	}
	// The window starts with the first event.
	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, r.window).Err(); err != nil {
			return false, fmt.Errorf("expire %s: %w", redisKey, err)
		}
	}
	return count <= int64(r.limit), nil
}

func newRedisClient(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
}

// rateLimit rejects requests over the limiter's budget for the client IP.
// Limiter failures let the request through.
func (a *App) rateLimit(scope string, limiter RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := scope + ":" + c.ClientIP()
		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			a.log.Error("rate limiter failed", "scope", scope, "err", err)
			c.Next()
			return
		}
		if !allowed {
			a.metrics.rateLimited(scope)
			writeAPIError(c, &apiError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "Too many requests, please try again later"})
			return
		}
		c.Next()
	}
}
