// Package resilience provides fault tolerance patterns for external service calls.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"spamfilter/pkg/logger"
)

// Errors returned while the circuit is not accepting requests.
var (
	ErrCircuitOpen     = gobreaker.ErrOpenState
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // half-open probe count
	Interval         time.Duration // closed-state counter reset
	Timeout          time.Duration // open duration before half-open
	ConsecutiveFails uint32
	MinRequests      uint32
	FailureRatio     float64
}

// DefaultBreakerConfig trips after more than 5 consecutive failures or a 60%
// failure ratio over at least 10 requests.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		ConsecutiveFails: 5,
		MinRequests:      10,
		FailureRatio:     0.6,
	}
}

// Breaker wraps gobreaker for calls to remote backends.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker. Caller cancellation is not counted as a
// backend failure.
func NewBreaker(cfg BreakerConfig) *Breaker {
	log := logger.WithField("breaker", cfg.Name)
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > cfg.ConsecutiveFails ||
				(counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("state changed from %s to %s", from.String(), to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Open reports whether the circuit is currently rejecting calls.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Execute runs fn through the breaker. A nil breaker runs fn directly.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}
	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}
