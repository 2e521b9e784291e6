// Package ratelimit throttles calls to rate-limited upstream APIs.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"spamfilter/pkg/apperr"
)

// =============================================================================
// Upstream Throttle
// Semaphore → Sliding window → API
// =============================================================================

// Config holds throttle configuration.
type Config struct {
	MaxConcurrent     int           // in-flight calls per process
	RequestsPerSecond int           // shared across processes through Redis
	BurstSize         int           // extra calls allowed inside one window
	MaxWait           time.Duration // longest a caller waits for a window slot
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent:     8,
		RequestsPerSecond: 50,
		BurstSize:         10,
		MaxWait:           5 * time.Second,
	}
}

// Throttle bounds concurrency locally and request rate globally.
type Throttle struct {
	config    *Config
	semaphore chan struct{}
	window    *SlidingWindowLimiter
}

// NewThrottle creates a throttle. A nil redis client leaves only the
// concurrency bound in place.
func NewThrottle(redisClient *redis.Client, config *Config) *Throttle {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	return &Throttle{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrent),
		window:    NewSlidingWindowLimiter(redisClient, config.RequestsPerSecond, config.BurstSize),
	}
}

// Acquire blocks until a slot is free for key. The returned release func
// must be called once the upstream call completes.
func (t *Throttle) Acquire(ctx context.Context, key string) (func(), error) {
	select {
	case t.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-t.semaphore }

	deadline := time.Now().Add(t.config.MaxWait)
	for {
		allowed, wait := t.window.Allow(ctx, key)
		if allowed {
			return release, nil
		}
		if time.Now().Add(wait).After(deadline) {
			release()
			return nil, apperr.RateLimited().WithDetail("upstream", key)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
}

// InFlight returns the number of calls currently holding a slot.
func (t *Throttle) InFlight() int {
	return len(t.semaphore)
}

// =============================================================================
// SlidingWindowLimiter - Redis sliding window
// =============================================================================

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < max_requests then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest > 0 then
		return -(oldest[2] + window_ms - now)
	end
	return 0
`)

// SlidingWindowLimiter implements sliding window rate limiting using Redis.
type SlidingWindowLimiter struct {
	redis     *redis.Client
	rate      int
	window    time.Duration
	burstSize int
}

// NewSlidingWindowLimiter creates a limiter over one-second windows.
func NewSlidingWindowLimiter(redisClient *redis.Client, requestsPerSecond, burstSize int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:     redisClient,
		rate:      requestsPerSecond,
		window:    time.Second,
		burstSize: burstSize,
	}
}

// Allow reports whether a call may proceed and how long to wait if not.
// It fails open without Redis or on Redis errors.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l == nil || l.redis == nil || l.rate <= 0 {
		return true, 0
	}

	now := time.Now()
	result, err := slidingWindowScript.Run(ctx, l.redis, []string{fmt.Sprintf("spamfilter:ratelimit:%s", key)},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.rate+l.burstSize,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		return true, 0
	}

	if result == 1 {
		return true, 0
	}
	if result < 0 {
		return false, time.Duration(-result) * time.Millisecond
	}
	return false, l.window
}
