package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cfg.ConsecutiveFails = 2
	cfg.Timeout = time.Hour
	b := NewBreaker(cfg)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		if _, err := Execute(b, func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v, want boom", i, err)
		}
	}
	if !b.Open() {
		t.Fatalf("breaker should be open, state = %s", b.State())
	}
	if _, err := Execute(b, func() (int, error) { return 1, nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_CancellationIsNotFailure(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cfg.ConsecutiveFails = 1
	b := NewBreaker(cfg)

	for i := 0; i < 5; i++ {
		_, _ = Execute(b, func() (int, error) { return 0, context.Canceled })
	}
	if b.Open() {
		t.Error("cancellation should not trip the breaker")
	}
}

func TestExecute_NilBreaker(t *testing.T) {
	got, err := Execute(nil, func() (string, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Errorf("Execute(nil) = %q, %v", got, err)
	}
}
